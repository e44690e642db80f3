package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnifiedDiffNoChange(t *testing.T) {
	assert.Equal(t, "", UnifiedDiff("a.txt", "same", "same"))
}

func TestUnifiedDiffRendersHunk(t *testing.T) {
	diff := UnifiedDiff("a.txt", "foo\n", "bar\n")
	assert.Contains(t, diff, "-foo")
	assert.Contains(t, diff, "+bar")
	assert.Contains(t, diff, "a.txt")
}
