// Package events emits the JSONL event stream that --embedded mode
// writes to stdout instead of driving the TUI. A host application
// (an editor, a desktop shell) spawns ted as a subprocess with
// --embedded and parses one JSON object per line to drive its own UI,
// rather than rendering ted's terminal interface itself.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/blackmanai/ted/internal/session"
	"github.com/blackmanai/ted/internal/tool"
)

// BaseEvent is the envelope every embedded event is wrapped in. The
// payload's shape depends on Type; data is left untyped here so Emitter
// can marshal any of the Data structs below into the same envelope.
type BaseEvent struct {
	Type      string      `json:"type"`
	Timestamp int64       `json:"timestamp_ms"`
	SessionID string      `json:"session_id"`
	Data      interface{} `json:"data"`
}

type PlanStep struct {
	ID             string   `json:"id"`
	Description    string   `json:"description"`
	EstimatedFiles []string `json:"estimated_files,omitempty"`
}

type PlanData struct {
	Steps []PlanStep `json:"steps"`
}

type FileCreateData struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Mode    *int   `json:"mode,omitempty"`
}

type FileEditData struct {
	Path      string  `json:"path"`
	Operation string  `json:"operation"`
	OldText   *string `json:"old_text,omitempty"`
	NewText   *string `json:"new_text,omitempty"`
	Line      *int    `json:"line,omitempty"`
	Text      *string `json:"text,omitempty"`
	Diff      string  `json:"diff,omitempty"` // rendered unified diff, when old/new text are both known
}

type FileDeleteData struct {
	Path string `json:"path"`
}

type CommandData struct {
	Command string            `json:"command"`
	Cwd     string            `json:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

type CommandOutputData struct {
	Stream   string `json:"stream"` // "stdout" or "stderr"
	Text     string `json:"text"`
	Done     *bool  `json:"done,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

type StatusData struct {
	State    string `json:"state"` // thinking, reading, writing, running, idle
	Message  string `json:"message"`
	Progress *int   `json:"progress,omitempty"`
}

type ErrorData struct {
	Code         string      `json:"code"`
	Message      string      `json:"message"`
	SuggestedFix string      `json:"suggested_fix,omitempty"`
	Context      interface{} `json:"context,omitempty"`
}

type CompletionData struct {
	Success     bool     `json:"success"`
	Summary     string   `json:"summary"`
	FilesChanged []string `json:"files_changed"`
}

type MessageData struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Delta   *bool  `json:"delta,omitempty"`
}

type HistoryMessageData struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ConversationHistoryData struct {
	Messages []HistoryMessageData `json:"messages"`
}

// Emitter writes newline-delimited BaseEvent JSON to w. A single
// Emitter is meant to serve one session for its whole lifetime; nowFn
// lets tests supply a deterministic clock instead of time.Now.
type Emitter struct {
	mu        sync.Mutex
	w         io.Writer
	sessionID string
	nowFn     func() time.Time
}

// New returns an Emitter that writes to w for the given session.
func New(w io.Writer, sessionID string) *Emitter {
	return &Emitter{w: w, sessionID: sessionID, nowFn: time.Now}
}

func (e *Emitter) emit(eventType string, data interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	evt := BaseEvent{
		Type:      eventType,
		Timestamp: e.nowFn().UnixMilli(),
		SessionID: e.sessionID,
		Data:      data,
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(e.w, string(b)); err != nil {
		return err
	}
	if f, ok := e.w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

func (e *Emitter) EmitPlan(steps []PlanStep) error {
	return e.emit("plan", PlanData{Steps: steps})
}

func (e *Emitter) EmitFileCreate(path, content string, mode *int) error {
	return e.emit("file_create", FileCreateData{Path: path, Content: content, Mode: mode})
}

func (e *Emitter) EmitFileEdit(path, operation string, oldText, newText *string, line *int, text *string) error {
	var diff string
	if oldText != nil && newText != nil {
		diff = session.UnifiedDiff(path, *oldText, *newText)
	}
	return e.emit("file_edit", FileEditData{Path: path, Operation: operation, OldText: oldText, NewText: newText, Line: line, Text: text, Diff: diff})
}

func (e *Emitter) EmitFileDelete(path string) error {
	return e.emit("file_delete", FileDeleteData{Path: path})
}

func (e *Emitter) EmitCommand(command, cwd string, env map[string]string) error {
	return e.emit("command", CommandData{Command: command, Cwd: cwd, Env: env})
}

func (e *Emitter) EmitCommandOutput(stream, text string, done *bool, exitCode *int) error {
	return e.emit("command_output", CommandOutputData{Stream: stream, Text: text, Done: done, ExitCode: exitCode})
}

func (e *Emitter) EmitStatus(state, message string, progress *int) error {
	return e.emit("status", StatusData{State: state, Message: message, Progress: progress})
}

func (e *Emitter) EmitError(code, message, suggestedFix string, context interface{}) error {
	return e.emit("error", ErrorData{Code: code, Message: message, SuggestedFix: suggestedFix, Context: context})
}

func (e *Emitter) EmitCompletion(success bool, summary string, filesChanged []string) error {
	return e.emit("completion", CompletionData{Success: success, Summary: summary, FilesChanged: filesChanged})
}

func (e *Emitter) EmitMessage(role, content string, delta *bool) error {
	return e.emit("message", MessageData{Role: role, Content: content, Delta: delta})
}

func (e *Emitter) EmitConversationHistory(messages []HistoryMessageData) error {
	return e.emit("conversation_history", ConversationHistoryData{Messages: messages})
}

// boolPtr and intPtr are small helpers for the optional fields above;
// callers building events from session.StreamEvent rarely have an
// addressable bool/int handy.
func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

// mutatingTools are the registry tool names review mode intercepts:
// their effects are described through the event stream but never
// actually applied, so a host app can present the intended changes for
// approval before anything touches disk or a shell.
var mutatingTools = map[string]bool{
	"write":  true,
	"edit":   true,
	"delete": true,
	"bash":   true,
}

// ReviewAwareExecute wraps registry.Execute so that, in review mode,
// a mutating tool call is stub-succeeded instead of actually run: its
// would-be effect is emitted as a file_create/file_edit/file_delete/
// command event for the host app to inspect, and the tool call itself
// gets back a synthetic success result so the turn loop proceeds as if
// the change had been made. Read-only tools always execute normally.
func ReviewAwareExecute(registry *tool.Registry, emitter *Emitter, reviewMode bool, ctx context.Context, tc *tool.ToolContext, name string, input map[string]interface{}) (*tool.ToolResult, error) {
	if !reviewMode || !mutatingTools[name] {
		return registry.Execute(ctx, tc, name, input)
	}

	switch name {
	case "write":
		path, _ := input["path"].(string)
		content, _ := input["content"].(string)
		emitter.EmitFileCreate(path, content, nil)
		return &tool.ToolResult{Output: fmt.Sprintf("(review mode) would write %s", path)}, nil
	case "edit":
		path, _ := input["path"].(string)
		oldStr, hasOld := input["old_string"].(string)
		newStr, hasNew := input["new_string"].(string)
		var oldPtr, newPtr *string
		if hasOld {
			oldPtr = &oldStr
		}
		if hasNew {
			newPtr = &newStr
		}
		emitter.EmitFileEdit(path, "replace", oldPtr, newPtr, nil, nil)
		return &tool.ToolResult{Output: fmt.Sprintf("(review mode) would edit %s", path)}, nil
	case "delete":
		path, _ := input["path"].(string)
		emitter.EmitFileDelete(path)
		return &tool.ToolResult{Output: fmt.Sprintf("(review mode) would delete %s", path)}, nil
	case "bash":
		command, _ := input["command"].(string)
		emitter.EmitCommand(command, "", nil)
		return &tool.ToolResult{Output: "(review mode) command not executed"}, nil
	default:
		return registry.Execute(ctx, tc, name, input)
	}
}

// FromStream adapts a session.StreamEvent, as produced by
// session.PromptEngine's OnStream callback, into the matching embedded
// event. Tool start/end events are reported as status events (their
// structured file/command shape isn't recoverable from a StreamEvent
// alone — ToolDispatcher call sites that already know the tool's
// arguments should call the specific EmitFileCreate/EmitCommand/etc.
// methods directly instead of routing through this adapter).
func FromStream(e *Emitter, event session.StreamEvent) error {
	switch event.Type {
	case "text":
		return e.EmitMessage("assistant", event.Content, boolPtr(true))
	case "thinking":
		return e.EmitStatus("thinking", event.Content, nil)
	case "tool_start":
		return e.EmitStatus("running", fmt.Sprintf("running %s", event.ToolName), nil)
	case "tool_end":
		return e.EmitStatus("idle", fmt.Sprintf("finished %s", event.ToolName), nil)
	case "error":
		return e.EmitError("turn_error", event.Content, "", nil)
	case "retry":
		return e.EmitStatus("thinking", event.Content, intPtr(event.Attempt))
	case "compaction":
		return e.EmitStatus("thinking", event.Content, nil)
	case "done":
		return e.EmitCompletion(true, "", nil)
	default:
		return nil
	}
}
