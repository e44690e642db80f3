package events

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmanai/ted/internal/session"
	"github.com/blackmanai/ted/internal/tool"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []BaseEvent {
	t.Helper()
	var events []BaseEvent
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e BaseEvent
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		events = append(events, e)
	}
	return events
}

func TestReviewAwareExecutePassesThroughWhenReviewModeOff(t *testing.T) {
	called := false
	registry := tool.GetRegistry()
	registry.Register(&tool.ToolDef{
		Name: "events_test_passthrough",
		Execute: func(ctx context.Context, tc *tool.ToolContext, input map[string]interface{}) (*tool.ToolResult, error) {
			called = true
			return &tool.ToolResult{Output: "ran"}, nil
		},
	})

	var buf bytes.Buffer
	emitter := New(&buf, "sess-1")

	result, err := ReviewAwareExecute(registry, emitter, false, context.Background(), &tool.ToolContext{}, "events_test_passthrough", nil)

	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "ran", result.Output)
	assert.Empty(t, buf.String())
}

func TestReviewAwareExecuteStubsMutatingToolsInReviewMode(t *testing.T) {
	writeCalled := false
	registry := tool.GetRegistry()
	registry.Register(&tool.ToolDef{
		Name: "write",
		Execute: func(ctx context.Context, tc *tool.ToolContext, input map[string]interface{}) (*tool.ToolResult, error) {
			writeCalled = true
			return &tool.ToolResult{Output: "really wrote it"}, nil
		},
	})

	var buf bytes.Buffer
	emitter := New(&buf, "sess-1")

	result, err := ReviewAwareExecute(registry, emitter, true, context.Background(), &tool.ToolContext{}, "write",
		map[string]interface{}{"path": "main.go", "content": "package main"})

	require.NoError(t, err)
	assert.False(t, writeCalled, "the real write tool must not run in review mode")
	assert.Contains(t, result.Output, "would write main.go")

	events := decodeLines(t, &buf)
	require.Len(t, events, 1)
	assert.Equal(t, "file_create", events[0].Type)
}

func TestReviewAwareExecuteEmitsFileEditWithOldAndNewText(t *testing.T) {
	registry := tool.GetRegistry()
	var buf bytes.Buffer
	emitter := New(&buf, "sess-1")

	_, err := ReviewAwareExecute(registry, emitter, true, context.Background(), &tool.ToolContext{}, "edit",
		map[string]interface{}{"path": "a.go", "old_string": "foo", "new_string": "bar"})
	require.NoError(t, err)

	events := decodeLines(t, &buf)
	require.Len(t, events, 1)
	assert.Equal(t, "file_edit", events[0].Type)

	data, ok := events[0].Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "foo", data["old_text"])
	assert.Equal(t, "bar", data["new_text"])
	assert.Contains(t, data["diff"], "-foo")
	assert.Contains(t, data["diff"], "+bar")
}

func TestReviewAwareExecuteEmitsFileDeleteAndCommand(t *testing.T) {
	registry := tool.GetRegistry()

	var deleteBuf bytes.Buffer
	_, err := ReviewAwareExecute(registry, New(&deleteBuf, "s"), true, context.Background(), &tool.ToolContext{}, "delete",
		map[string]interface{}{"path": "old.go"})
	require.NoError(t, err)
	assert.Equal(t, "file_delete", decodeLines(t, &deleteBuf)[0].Type)

	var bashBuf bytes.Buffer
	result, err := ReviewAwareExecute(registry, New(&bashBuf, "s"), true, context.Background(), &tool.ToolContext{}, "bash",
		map[string]interface{}{"command": "rm -rf /"})
	require.NoError(t, err)
	assert.Equal(t, "command", decodeLines(t, &bashBuf)[0].Type)
	assert.Contains(t, result.Output, "not executed")
}

func TestReviewAwareExecuteLeavesReadOnlyToolsAlone(t *testing.T) {
	called := false
	registry := tool.GetRegistry()
	registry.Register(&tool.ToolDef{
		Name: "events_test_readonly",
		Execute: func(ctx context.Context, tc *tool.ToolContext, input map[string]interface{}) (*tool.ToolResult, error) {
			called = true
			return &tool.ToolResult{Output: "read result"}, nil
		},
	})

	var buf bytes.Buffer
	_, err := ReviewAwareExecute(registry, New(&buf, "s"), true, context.Background(), &tool.ToolContext{}, "events_test_readonly", nil)

	require.NoError(t, err)
	assert.True(t, called)
	assert.Empty(t, buf.String())
}

func TestFromStreamMapsEventTypes(t *testing.T) {
	cases := []struct {
		in   session.StreamEvent
		want string
	}{
		{session.StreamEvent{Type: "text", Content: "hi"}, "message"},
		{session.StreamEvent{Type: "thinking", Content: "hmm"}, "status"},
		{session.StreamEvent{Type: "tool_start", ToolName: "read"}, "status"},
		{session.StreamEvent{Type: "tool_end", ToolName: "read"}, "status"},
		{session.StreamEvent{Type: "error", Content: "boom"}, "error"},
		{session.StreamEvent{Type: "retry", Content: "retrying", Attempt: 2}, "status"},
		{session.StreamEvent{Type: "compaction", Content: "compacting"}, "status"},
		{session.StreamEvent{Type: "done"}, "completion"},
	}

	for _, c := range cases {
		var buf bytes.Buffer
		emitter := New(&buf, "sess-1")
		require.NoError(t, FromStream(emitter, c.in))
		events := decodeLines(t, &buf)
		require.Len(t, events, 1, "event type %q", c.in.Type)
		assert.Equal(t, c.want, events[0].Type, "event type %q", c.in.Type)
	}
}

func TestFromStreamUnknownTypeEmitsNothing(t *testing.T) {
	var buf bytes.Buffer
	emitter := New(&buf, "sess-1")
	require.NoError(t, FromStream(emitter, session.StreamEvent{Type: "step_start"}))
	assert.Empty(t, buf.String())
}
