package conversation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDropsSystemRoleMessages(t *testing.T) {
	msgs := []Message{
		{Role: "system", Content: "leftover bookkeeping entry"},
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there"},
	}

	conv := New("you are Ted", msgs)

	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "user", conv.Messages[0].Role)
	assert.Equal(t, "assistant", conv.Messages[1].Role)
	assert.Equal(t, "you are Ted", conv.System)
}

func TestTokenCountIncludesSystemPartsAndToolInput(t *testing.T) {
	conv := New("system prompt text", []Message{
		{Role: "user", Content: "short message"},
		{
			Role: "assistant",
			Parts: []Part{
				{Type: "text", Content: "working on it"},
				{Type: "tool_use", ToolInput: map[string]interface{}{"path": "main.go"}},
			},
		},
	})

	empty := New("", nil)
	assert.Greater(t, conv.TokenCount(), empty.TokenCount())

	withoutTools := New("system prompt text", []Message{
		{Role: "user", Content: "short message"},
		{Role: "assistant", Parts: []Part{{Type: "text", Content: "working on it"}}},
	})
	assert.Greater(t, conv.TokenCount(), withoutTools.TokenCount())
}

func TestNeedsTrimming(t *testing.T) {
	big := strings.Repeat("x", 4000)
	conv := New("", []Message{
		{Role: "user", Content: big},
		{Role: "assistant", Content: big},
	})

	assert.True(t, conv.NeedsTrimming(100))
	assert.False(t, conv.NeedsTrimming(100000))
}

func TestTrimToFitRemovesOldestFirst(t *testing.T) {
	big := strings.Repeat("x", 4000) // ~1000 tokens each
	conv := New("", []Message{
		{Role: "user", Content: "oldest " + big},
		{Role: "assistant", Content: "middle " + big},
		{Role: "user", Content: "newest " + big},
	})

	removed := conv.TrimToFit(1200)

	require.Equal(t, 2, removed)
	require.Len(t, conv.Messages, 1)
	assert.Contains(t, conv.Messages[0].Content, "newest")
}

func TestTrimToFitNeverRemovesLastMessage(t *testing.T) {
	huge := strings.Repeat("x", 1_000_000)
	conv := New("", []Message{
		{Role: "user", Content: huge},
	})

	removed := conv.TrimToFit(10)

	assert.Equal(t, 0, removed)
	assert.Len(t, conv.Messages, 1)
}

func TestTrimToFitStopsAtSummaryBoundary(t *testing.T) {
	big := strings.Repeat("x", 4000)
	conv := New("", []Message{
		{Role: "user", Content: "old stuff " + big},
		{Role: "assistant", Content: "summary of everything before", IsSummary: true},
		{Role: "user", Content: "live tail " + big},
	})

	removed := conv.TrimToFit(1)

	// The summary anchors the context: trimming can't eat past it even
	// though the target is far below what's left.
	assert.Equal(t, 0, removed)
	assert.Len(t, conv.Messages, 3)
}

func TestTrimToFitDropsOrphanedToolResult(t *testing.T) {
	big := strings.Repeat("x", 4000)
	conv := New("", []Message{
		{Role: "assistant", Content: "old turn " + big},
		{
			Role:  "user",
			Parts: []Part{{Type: "tool_result", Content: "result of the removed tool_use"}},
		},
		{Role: "user", Content: "newest " + big},
	})

	removed := conv.TrimToFit(1200)

	require.Len(t, conv.Messages, 1)
	assert.Equal(t, 2, removed)
	assert.Contains(t, conv.Messages[0].Content, "newest")
}
