package testutil

import (
	"fmt"
	"sync"

	"github.com/skosovsky/agentsy"
)

// Renderer records every call it receives as a readable event, e.g. "push user: hi",
// "loading", "content: Hel", "reasoning: ...", "finish assistant: Hello", "finish".
type Renderer struct {
	mu     sync.Mutex
	events []string
}

var _ agentsy.Renderer = (*Renderer)(nil)

// PushMessage implements agentsy.Renderer.
func (r *Renderer) PushMessage(m agentsy.Message) {
	r.record(fmt.Sprintf("push %s: %s", m.Role, m.Content))
}

// PushLoading implements agentsy.Renderer.
func (r *Renderer) PushLoading() { r.record("loading") }

// UpdateLoadingContent implements agentsy.Renderer.
func (r *Renderer) UpdateLoadingContent(content string) { r.record("content: " + content) }

// UpdateLoadingReasoning implements agentsy.Renderer.
func (r *Renderer) UpdateLoadingReasoning(reasoning string) { r.record("reasoning: " + reasoning) }

// FinishLoading implements agentsy.Renderer.
func (r *Renderer) FinishLoading(m agentsy.Message) {
	if m.IsZero() {
		r.record("finish")
		return
	}
	r.record(fmt.Sprintf("finish %s: %s", m.Role, m.Content))
}

// Events returns the recorded events in order.
func (r *Renderer) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Renderer) record(event string) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}
