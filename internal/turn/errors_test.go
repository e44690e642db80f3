package turn

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessagePrecedence(t *testing.T) {
	withMessage := New(KindToolFailed, "explicit message", errors.New("cause"))
	assert.Equal(t, "explicit message", withMessage.Error())

	withoutMessage := New(KindToolFailed, "", errors.New("underlying failure"))
	assert.Equal(t, "tool_failed: underlying failure", withoutMessage.Error())

	bare := New(KindCancelled, "", nil)
	assert.Equal(t, "cancelled", bare.Error())
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	e := New(KindPersistFailed, "", cause)
	assert.Same(t, cause, errors.Unwrap(e))
}

func TestIsMatchesKind(t *testing.T) {
	err := New(KindUserDeclined, "nope", nil)
	assert.True(t, Is(err, KindUserDeclined))
	assert.False(t, Is(err, KindToolFailed))
	assert.False(t, Is(errors.New("plain error"), KindUserDeclined))
}

func TestSentinelErrorsCarryExpectedKind(t *testing.T) {
	assert.True(t, Is(ErrCancelled, KindCancelled))
	assert.True(t, Is(ErrTurnLimitReached, KindTurnLimitReached))
	assert.True(t, Is(ErrUserDeclined, KindUserDeclined))
	assert.True(t, Is(ErrPermissionDenied, KindPermissionDenied))
}
