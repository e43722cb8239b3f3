package agentsy

import (
	"encoding/json"
	"slices"
	"strings"
)

// streamChunk is the JSON body of one streamed frame.
type streamChunk struct {
	Choices []streamChoice `json:"choices"`
	Error   *errorBody     `json:"error,omitempty"`
}

type streamChoice struct {
	Delta        Delta  `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// jsonAssembler turns frame bodies into parsed chunks. It is in one of two states:
// complete (nothing pending) or awaiting more (a fragment is buffered). A body that does
// not parse on its own, or appended to the pending fragment, is buffered until a later
// body completes it.
type jsonAssembler struct {
	pending []byte
}

// Feed offers the next frame body. ok is false while the accumulated text is still an
// incomplete JSON value. err reports a syntactically complete value of the wrong shape;
// that body is discarded and the assembler stays usable.
func (a *jsonAssembler) Feed(body []byte) (chunk streamChunk, ok bool, err error) {
	candidate := body
	if len(a.pending) > 0 {
		candidate = append(a.pending, body...)
	}
	if !json.Valid(candidate) {
		a.pending = candidate
		return streamChunk{}, false, nil
	}
	a.pending = nil
	if err := json.Unmarshal(candidate, &chunk); err != nil {
		return streamChunk{}, false, err
	}
	return chunk, true, nil
}

// Awaiting reports whether an unresolved fragment is buffered.
func (a *jsonAssembler) Awaiting() bool { return len(a.pending) > 0 }

// Pending returns the buffered fragment.
func (a *jsonAssembler) Pending() string { return string(a.pending) }

// streamAccumulator merges deltas into one assistant message. Content, reasoning and
// tool-call argument text are concatenated; every other field is last-write-wins, with
// omitted (empty) fields leaving the previous value in place. Tool calls are keyed by the
// server-supplied index, not by arrival order.
type streamAccumulator struct {
	role      Role
	content   strings.Builder
	reasoning strings.Builder
	calls     map[int]*toolCallSlot
}

type toolCallSlot struct {
	call ToolCall
	args strings.Builder
}

func newStreamAccumulator() *streamAccumulator {
	return &streamAccumulator{calls: make(map[int]*toolCallSlot)}
}

// Merge folds one delta into the accumulated message.
func (a *streamAccumulator) Merge(d Delta) {
	if d.Role != "" {
		a.role = d.Role
	}
	a.content.WriteString(d.Content)
	a.reasoning.WriteString(d.Reasoning)
	for _, frag := range d.ToolCalls {
		slot, ok := a.calls[frag.Index]
		if !ok {
			slot = &toolCallSlot{}
			a.calls[frag.Index] = slot
		}
		if frag.ID != "" {
			slot.call.ID = frag.ID
		}
		if frag.Type != "" {
			slot.call.Type = frag.Type
		}
		if frag.Function.Name != "" {
			slot.call.Function.Name = frag.Function.Name
		}
		slot.args.WriteString(frag.Function.Arguments)
	}
}

// Message returns the merged message with tool calls ordered by index.
func (a *streamAccumulator) Message() Message {
	msg := Message{
		Role:      a.role,
		Content:   a.content.String(),
		Reasoning: a.reasoning.String(),
	}
	if len(a.calls) == 0 {
		return msg
	}
	indices := make([]int, 0, len(a.calls))
	for idx := range a.calls {
		indices = append(indices, idx)
	}
	slices.Sort(indices)
	msg.ToolCalls = make([]ToolCall, 0, len(indices))
	for _, idx := range indices {
		slot := a.calls[idx]
		call := slot.call
		call.Function.Arguments = slot.args.String()
		msg.ToolCalls = append(msg.ToolCalls, call)
	}
	return msg
}
