package turn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmanai/ted/internal/provider"
)

func TestFromProviderErrorNil(t *testing.T) {
	assert.Nil(t, FromProviderError(nil))
}

func TestFromProviderErrorMapsKind(t *testing.T) {
	cases := []struct {
		name string
		in   provider.ErrorType
		want Kind
	}{
		{"context overflow trims and retries", provider.ErrorTypeContextOverflow, KindContextTooLong},
		{"rate limit backs off", provider.ErrorTypeRateLimit, KindRateLimited},
		{"generic api error is a server error", provider.ErrorTypeAPIError, KindServerError},
		{"timeout is a transport failure", provider.ErrorTypeTimeout, KindTransport},
		{"auth error surfaces as server error", provider.ErrorTypeAuth, KindServerError},
		{"not found surfaces as server error", provider.ErrorTypeNotFound, KindServerError},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ce := &provider.ClassifiedError{Type: c.in, Message: "boom"}
			got := FromProviderError(ce)
			require.NotNil(t, got)
			assert.Equal(t, c.want, got.Kind)
			assert.Equal(t, "boom", got.Message)
			assert.Same(t, ce, got.Cause.(*provider.ClassifiedError))
		})
	}
}

func TestFromProviderErrorUnknownTypeDefaultsToTransport(t *testing.T) {
	ce := &provider.ClassifiedError{Type: provider.ErrorType("something_new"), Message: "?"}
	got := FromProviderError(ce)
	require.NotNil(t, got)
	assert.Equal(t, KindTransport, got.Kind)
}
