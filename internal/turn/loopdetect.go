// Package turn holds cross-cutting pieces of the agent turn loop that
// are cleanly separable from internal/session.PromptEngine's stateful
// orchestration: loop detection and the typed error taxonomy tool
// dispatch and retries report through.
package turn

import (
	"encoding/json"
	"sort"
)

// LoopWindow is the number of most recent tool calls the loop
// detector remembers.
const LoopWindow = 8

// ToolCall is the minimal shape the loop detector needs: enough to
// build a canonical (name, input) key.
type ToolCall struct {
	Name  string
	Input map[string]interface{}
}

func key(c ToolCall) string {
	keys := make([]string, 0, len(c.Input))
	for k := range c.Input {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make(map[string]interface{}, len(c.Input))
	for _, k := range keys {
		ordered[k] = c.Input[k]
	}
	b, _ := json.Marshal(ordered)
	return c.Name + "\x00" + string(b)
}

// Detector tracks a sliding window of the last LoopWindow tool calls
// seen across a turn and flags a batch as a loop only when every call
// in the current batch is already present in the window — a stricter
// condition than "any single call repeated", since a batch containing
// even one genuinely new call is making progress.
type Detector struct {
	window []string
}

// NewDetector returns an empty detector.
func NewDetector() *Detector {
	return &Detector{}
}

// CheckAndRecord reports whether every call in batch was already
// present in the window before this call, and then records the batch
// into the window (oldest entries evicted past LoopWindow). Call this
// once per dispatched batch, not once per individual tool call.
func (d *Detector) CheckAndRecord(batch []ToolCall) bool {
	if len(batch) == 0 {
		return false
	}

	seen := make(map[string]bool, len(d.window))
	for _, k := range d.window {
		seen[k] = true
	}

	allSeen := true
	for _, c := range batch {
		if !seen[key(c)] {
			allSeen = false
			break
		}
	}

	for _, c := range batch {
		d.window = append(d.window, key(c))
	}
	if excess := len(d.window) - LoopWindow; excess > 0 {
		d.window = d.window[excess:]
	}

	return allSeen
}

// Reset clears the window, used after a loop is detected and handled
// (the synthetic STOP message gives the model a clean slate).
func (d *Detector) Reset() {
	d.window = nil
}
