package turn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckAndRecordEmptyBatchNeverLoops(t *testing.T) {
	d := NewDetector()
	assert.False(t, d.CheckAndRecord(nil))
}

func TestCheckAndRecordFirstSightingIsNotALoop(t *testing.T) {
	d := NewDetector()
	batch := []ToolCall{{Name: "read", Input: map[string]interface{}{"path": "a.go"}}}
	assert.False(t, d.CheckAndRecord(batch))
}

func TestCheckAndRecordRepeatedBatchIsALoop(t *testing.T) {
	d := NewDetector()
	batch := []ToolCall{{Name: "read", Input: map[string]interface{}{"path": "a.go"}}}

	assert.False(t, d.CheckAndRecord(batch))
	assert.True(t, d.CheckAndRecord(batch))
}

func TestCheckAndRecordKeyIgnoresArgumentOrder(t *testing.T) {
	d := NewDetector()
	first := []ToolCall{{Name: "grep", Input: map[string]interface{}{"pattern": "TODO", "path": "."}}}
	same := []ToolCall{{Name: "grep", Input: map[string]interface{}{"path": ".", "pattern": "TODO"}}}

	assert.False(t, d.CheckAndRecord(first))
	assert.True(t, d.CheckAndRecord(same))
}

func TestCheckAndRecordOneNewCallInBatchIsNotALoop(t *testing.T) {
	d := NewDetector()
	repeated := ToolCall{Name: "read", Input: map[string]interface{}{"path": "a.go"}}
	d.CheckAndRecord([]ToolCall{repeated})

	mixed := []ToolCall{repeated, {Name: "read", Input: map[string]interface{}{"path": "b.go"}}}
	assert.False(t, d.CheckAndRecord(mixed))
}

func TestCheckAndRecordWindowEviction(t *testing.T) {
	d := NewDetector()
	first := ToolCall{Name: "read", Input: map[string]interface{}{"path": "first.go"}}
	d.CheckAndRecord([]ToolCall{first})

	// Push LoopWindow more distinct calls through so "first" falls out
	// of the sliding window.
	for i := 0; i < LoopWindow; i++ {
		d.CheckAndRecord([]ToolCall{{Name: "read", Input: map[string]interface{}{"path": "filler"}}})
	}

	assert.False(t, d.CheckAndRecord([]ToolCall{first}))
}

func TestResetClearsWindow(t *testing.T) {
	d := NewDetector()
	batch := []ToolCall{{Name: "bash", Input: map[string]interface{}{"command": "ls"}}}
	d.CheckAndRecord(batch)
	d.Reset()

	assert.False(t, d.CheckAndRecord(batch))
}
