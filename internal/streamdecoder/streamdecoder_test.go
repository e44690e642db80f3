package streamdecoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmanai/ted/internal/provider"
)

type recordingObserver struct {
	text     []string
	thinking []string
}

func (r *recordingObserver) OnTextDelta(s string)     { r.text = append(r.text, s) }
func (r *recordingObserver) OnThinkingDelta(s string) { r.thinking = append(r.thinking, s) }

func TestDecodeTextMessage(t *testing.T) {
	obs := &recordingObserver{}
	d := New(obs)

	d.Feed(&provider.StreamChunk{Type: "message_start", Message: &provider.MessageResponse{ID: "msg_1", Model: "claude-x", Role: "assistant"}})
	d.Feed(&provider.StreamChunk{Type: "content_block_start", ContentBlock: &provider.ContentBlock{Type: "text"}})
	d.Feed(&provider.StreamChunk{Type: "content_block_delta", Delta: &provider.Delta{Type: "text_delta", Text: "Hello"}})
	d.Feed(&provider.StreamChunk{Type: "content_block_delta", Delta: &provider.Delta{Type: "text_delta", Text: ", world"}})
	d.Feed(&provider.StreamChunk{Type: "content_block_stop"})
	d.Feed(&provider.StreamChunk{Type: "message_delta", Delta: &provider.Delta{StopReason: "end_turn"}})
	d.Feed(&provider.StreamChunk{Type: "message_stop"})

	resp := d.Response()
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "Hello, world", resp.Content[0].Text)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, []string{"Hello", ", world"}, obs.text)
}

func TestDecodeToolUseBlock(t *testing.T) {
	d := New(nil)

	d.Feed(&provider.StreamChunk{Type: "message_start", Message: &provider.MessageResponse{ID: "msg_2"}})
	d.Feed(&provider.StreamChunk{Type: "content_block_start", ContentBlock: &provider.ContentBlock{Type: "tool_use", ID: "call_1", Name: "read"}})
	d.Feed(&provider.StreamChunk{Type: "content_block_delta", Delta: &provider.Delta{Type: "input_json_delta", PartialJSON: `{"path":`}})
	d.Feed(&provider.StreamChunk{Type: "content_block_delta", Delta: &provider.Delta{Type: "input_json_delta", PartialJSON: `"main.go"}`}})
	d.Feed(&provider.StreamChunk{Type: "content_block_stop"})
	d.Feed(&provider.StreamChunk{Type: "message_stop"})

	resp := d.Response()
	require.Len(t, resp.Content, 1)
	block := resp.Content[0]
	assert.Equal(t, "tool_use", block.Type)
	assert.Equal(t, "main.go", block.Input["path"])
	// message_stop infers tool_use when no explicit stop_reason arrived.
	assert.Equal(t, "tool_use", resp.StopReason)
}

func TestDecodeMalformedToolInputFallsBackToText(t *testing.T) {
	d := New(nil)

	d.Feed(&provider.StreamChunk{Type: "content_block_start", ContentBlock: &provider.ContentBlock{Type: "tool_use", ID: "call_1", Name: "bash"}})
	d.Feed(&provider.StreamChunk{Type: "content_block_delta", Delta: &provider.Delta{Type: "input_json_delta", PartialJSON: `{"command": not valid json`}})
	d.Feed(&provider.StreamChunk{Type: "content_block_stop"})

	resp := d.Response()
	require.Len(t, resp.Content, 1)
	block := resp.Content[0]
	assert.Equal(t, "text", block.Type)
	assert.Empty(t, block.Name)
	assert.Empty(t, block.ID)
	assert.Contains(t, block.Text, "malformed tool call input")
}

func TestDecodeEmptyToolInputYieldsEmptyMap(t *testing.T) {
	d := New(nil)

	d.Feed(&provider.StreamChunk{Type: "content_block_start", ContentBlock: &provider.ContentBlock{Type: "tool_use", Name: "bash"}})
	d.Feed(&provider.StreamChunk{Type: "content_block_stop"})

	resp := d.Response()
	require.Len(t, resp.Content, 1)
	assert.Equal(t, map[string]interface{}{}, resp.Content[0].Input)
}

func TestDecodeMultipleBlocksPreserveOrder(t *testing.T) {
	obs := &recordingObserver{}
	d := New(obs)

	d.Feed(&provider.StreamChunk{Type: "content_block_start", ContentBlock: &provider.ContentBlock{Type: "text"}})
	d.Feed(&provider.StreamChunk{Type: "content_block_delta", Delta: &provider.Delta{Type: "text_delta", Text: "thinking aloud", Reasoning: "considering approach"}})
	d.Feed(&provider.StreamChunk{Type: "content_block_stop"})
	d.Feed(&provider.StreamChunk{Type: "content_block_start", ContentBlock: &provider.ContentBlock{Type: "tool_use", Name: "grep"}})
	d.Feed(&provider.StreamChunk{Type: "content_block_delta", Delta: &provider.Delta{Type: "input_json_delta", PartialJSON: `{"pattern":"TODO"}`}})
	d.Feed(&provider.StreamChunk{Type: "content_block_stop"})
	d.Feed(&provider.StreamChunk{Type: "message_stop"})

	resp := d.Response()
	require.Len(t, resp.Content, 2)
	assert.Equal(t, "text", resp.Content[0].Type)
	assert.Equal(t, "tool_use", resp.Content[1].Type)
	assert.Equal(t, "TODO", resp.Content[1].Input["pattern"])
	assert.Equal(t, []string{"considering approach"}, obs.thinking)
}

func TestDecodeStopReasonFromMessageDeltaWins(t *testing.T) {
	d := New(nil)

	d.Feed(&provider.StreamChunk{Type: "content_block_start", ContentBlock: &provider.ContentBlock{Type: "tool_use", Name: "bash"}})
	d.Feed(&provider.StreamChunk{Type: "content_block_stop"})
	d.Feed(&provider.StreamChunk{Type: "message_delta", Delta: &provider.Delta{StopReason: "max_tokens"}})
	d.Feed(&provider.StreamChunk{Type: "message_stop"})

	assert.Equal(t, "max_tokens", d.Response().StopReason)
}
