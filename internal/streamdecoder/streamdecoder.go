// Package streamdecoder turns a provider's StreamChunk event union
// into an accumulated response, independent of retry/trim/dispatch
// logic. It is lifted out of the turn loop so it can be driven
// directly by a mock provider in tests.
//
// Every content block index gets exactly one content_block_start and
// exactly one content_block_stop; message_stop always arrives last and
// ping events are ignorable anywhere in the stream.
package streamdecoder

import (
	"encoding/json"
	"strings"

	"github.com/blackmanai/ted/internal/provider"
)

// Observer receives live deltas as they stream in, independent of the
// final accumulated response Decode returns. Both methods may be
// called zero or more times per block.
type Observer interface {
	OnTextDelta(text string)
	OnThinkingDelta(text string)
}

// NopObserver implements Observer with no-ops, for callers that only
// want the final accumulated response.
type NopObserver struct{}

func (NopObserver) OnTextDelta(string)     {}
func (NopObserver) OnThinkingDelta(string) {}

type blockState struct {
	text      strings.Builder
	toolInput strings.Builder
}

// Decoder accumulates one message's worth of StreamChunk events.
type Decoder struct {
	observer Observer
	response provider.MessageResponse
	blocks   map[int]*blockState
	order    []int
	current  int
}

// New creates a Decoder that forwards live deltas to obs. Pass
// NopObserver{} if only the final response matters.
func New(obs Observer) *Decoder {
	if obs == nil {
		obs = NopObserver{}
	}
	return &Decoder{
		observer: obs,
		response: provider.MessageResponse{Content: []provider.ContentBlock{}},
		blocks:   make(map[int]*blockState),
		current:  -1,
	}
}

// Feed processes one StreamChunk. It never returns an error for a
// malformed tool-input JSON buffer — instead the offending block is
// rewritten into a synthetic text block annotated with a warning, so a
// single malformed tool call doesn't lose the rest of the turn.
func (d *Decoder) Feed(chunk *provider.StreamChunk) {
	switch chunk.Type {
	case "message_start":
		if chunk.Message != nil {
			d.response.ID = chunk.Message.ID
			d.response.Model = chunk.Message.Model
			d.response.Role = chunk.Message.Role
			d.response.Usage = chunk.Message.Usage
		}

	case "content_block_start":
		idx := len(d.response.Content)
		d.current = idx
		d.order = append(d.order, idx)
		d.blocks[idx] = &blockState{}
		if chunk.ContentBlock != nil {
			d.response.Content = append(d.response.Content, *chunk.ContentBlock)
		} else {
			d.response.Content = append(d.response.Content, provider.ContentBlock{Type: "text"})
		}

	case "content_block_delta":
		if chunk.Delta == nil || d.current < 0 {
			return
		}
		st := d.blocks[d.current]
		switch chunk.Delta.Type {
		case "text_delta":
			st.text.WriteString(chunk.Delta.Text)
			d.observer.OnTextDelta(chunk.Delta.Text)
		case "input_json_delta":
			st.toolInput.WriteString(chunk.Delta.PartialJSON)
		}
		if chunk.Delta.Reasoning != "" {
			d.observer.OnThinkingDelta(chunk.Delta.Reasoning)
		}

	case "content_block_stop":
		d.finalizeBlock(d.current)

	case "message_delta":
		if chunk.Delta != nil && chunk.Delta.StopReason != "" {
			d.response.StopReason = chunk.Delta.StopReason
		}
		if chunk.Message != nil {
			d.response.Usage = chunk.Message.Usage
		}

	case "message_stop":
		if d.response.StopReason == "" {
			d.response.StopReason = "end_turn"
			for _, b := range d.response.Content {
				if b.Type == "tool_use" {
					d.response.StopReason = "tool_use"
					break
				}
			}
		}

	case "error", "ping":
		// Ping is ignorable; stream-level errors surface to the caller
		// via the provider's StreamMessage return value, not here.
	}
}

func (d *Decoder) finalizeBlock(idx int) {
	if idx < 0 || idx >= len(d.response.Content) {
		return
	}
	st, ok := d.blocks[idx]
	if !ok {
		return
	}
	block := &d.response.Content[idx]
	switch block.Type {
	case "text":
		block.Text = st.text.String()
	case "tool_use":
		raw := st.toolInput.String()
		if raw == "" {
			block.Input = map[string]interface{}{}
			return
		}
		var input map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &input); err != nil {
			// Malformed tool-input JSON: fall back to a synthetic text
			// block carrying the raw buffer, so the turn can still see
			// what the model attempted rather than silently dropping it.
			block.Type = "text"
			block.Name = ""
			block.ID = ""
			block.Text = "[malformed tool call input, treated as text]\n" + raw
			return
		}
		block.Input = input
	}
}

// Response returns the accumulated message once the stream completes.
func (d *Decoder) Response() *provider.MessageResponse {
	return &d.response
}
