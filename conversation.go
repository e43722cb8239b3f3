package agentsy

import (
	"context"
	"slices"
	"sync"
)

// Conversation is the ordered transcript sent to the endpoint. It is append-only: nothing
// is deduplicated, reordered or truncated.
type Conversation struct {
	mu       sync.Mutex
	messages []Message
}

// NewConversation returns a conversation seeded with messages.
func NewConversation(messages ...Message) *Conversation {
	c := &Conversation{}
	c.PushMessages(messages)
	return c
}

// PushMessage appends m. A zero message is ignored.
func (c *Conversation) PushMessage(m Message) {
	if m.IsZero() {
		return
	}
	c.mu.Lock()
	c.messages = append(c.messages, m)
	c.mu.Unlock()
}

// PushMessages appends messages in order, skipping zero messages.
func (c *Conversation) PushMessages(messages []Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range messages {
		if !m.IsZero() {
			c.messages = append(c.messages, m)
		}
	}
}

// Messages returns a copy of the transcript.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.messages)
}

// Reset replaces the transcript with messages, skipping zero messages.
func (c *Conversation) Reset(messages []Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
	for _, m := range messages {
		if !m.IsZero() {
			c.messages = append(c.messages, m)
		}
	}
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// commit appends one round's messages unless ctx is already done. The check and the
// append happen under the same lock, so a round either lands whole or not at all.
func (c *Conversation) commit(ctx context.Context, messages []Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	c.messages = append(c.messages, messages...)
	return true
}

// wire returns the transcript as sent to the endpoint. Reasoning text is local only.
func (c *Conversation) wire() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	for i, m := range c.messages {
		m.Reasoning = ""
		out[i] = m
	}
	return out
}
