package agentsy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CanceledNotice is shown in place of the answer when an invocation is canceled.
const CanceledNotice = "request canceled"

// Renderer presents a conversation. Implementations must be safe to call from the
// goroutine running Session.Send.
type Renderer interface {
	// PushMessage shows a complete message.
	PushMessage(m Message)
	// PushLoading opens a placeholder for a message still being produced.
	PushLoading()
	// UpdateLoadingContent replaces the placeholder's text with content so far.
	UpdateLoadingContent(content string)
	// UpdateLoadingReasoning replaces the placeholder's reasoning text so far.
	UpdateLoadingReasoning(reasoning string)
	// FinishLoading closes the placeholder, showing m in its place. A zero m removes it.
	FinishLoading(m Message)
}

// SessionRecord is one stored conversation.
type SessionRecord struct {
	ID        string
	CreatedAt time.Time
	Messages  []Message
}

// Title is the first user message of the session, or "" if there is none.
func (r SessionRecord) Title() string {
	for _, m := range r.Messages {
		if m.Role == RoleUser {
			return m.Content
		}
	}
	return ""
}

// Store persists the messages of the active session.
type Store interface {
	AppendMessage(ctx context.Context, m Message) error
	ActiveSession(ctx context.Context) (SessionRecord, error)
}

// SessionStore is a Store holding several sessions, newest first. There is always at
// least one session and exactly one of them is active.
type SessionStore interface {
	Store
	// CreateSession adds an empty session and makes it active.
	CreateSession(ctx context.Context) (SessionRecord, error)
	// SwitchSession makes the session with id active. Unknown ids return ErrSessionNotFound.
	SwitchSession(ctx context.Context, id string) (SessionRecord, error)
	// DeleteSession removes the session with id. Deleting the active session activates the
	// newest remaining one; deleting the last session leaves a fresh empty one.
	DeleteSession(ctx context.Context, id string) error
	// Sessions returns every session, newest first.
	Sessions(ctx context.Context) ([]SessionRecord, error)
}

// Session binds an Agent to a Renderer and a Store: user input goes into the transcript,
// streamed output to the renderer and every transcript message to the store.
type Session struct {
	agent    *Agent
	renderer Renderer
	store    Store
	tools    []string
}

// NewSession returns a Session offering tools (by name) to the model on each Send.
func NewSession(agent *Agent, renderer Renderer, store Store, tools ...string) *Session {
	return &Session{agent: agent, renderer: renderer, store: store, tools: tools}
}

// Resume loads the store's active session into the agent's transcript and renders it.
// An empty stored session is seeded with the agent's current transcript instead.
func (s *Session) Resume(ctx context.Context) error {
	rec, err := s.store.ActiveSession(ctx)
	if err != nil {
		return fmt.Errorf("load active session: %w", err)
	}
	if len(rec.Messages) == 0 {
		for _, m := range s.agent.Messages() {
			if err := s.store.AppendMessage(ctx, m); err != nil {
				return fmt.Errorf("persist message: %w", err)
			}
		}
		return nil
	}
	s.agent.Conversation().Reset(rec.Messages)
	for _, m := range rec.Messages {
		if visible(m) {
			s.renderer.PushMessage(m)
		}
	}
	return nil
}

// Send runs one user turn with a streamed invocation. A canceled turn is not an error: the
// renderer shows CanceledNotice and the returned result has Canceled set.
func (s *Session) Send(ctx context.Context, content string) (Result, error) {
	user := UserMessage(content)
	s.agent.PushMessage(user)
	s.renderer.PushMessage(user)
	if err := s.store.AppendMessage(ctx, user); err != nil {
		return Result{}, fmt.Errorf("persist message: %w", err)
	}
	persisted := s.agent.Conversation().Len()

	var text, reasoning strings.Builder
	s.renderer.PushLoading()
	yield := func(d Delta) error {
		if d.Reasoning != "" {
			reasoning.WriteString(d.Reasoning)
			s.renderer.UpdateLoadingReasoning(reasoning.String())
		}
		if d.Content != "" {
			text.WriteString(d.Content)
			s.renderer.UpdateLoadingContent(text.String())
		}
		return nil
	}
	// Each tool-call round gets its own placeholder.
	intermediate := func(_ context.Context, m Message) {
		if visible(m) {
			s.renderer.FinishLoading(m)
		} else {
			s.renderer.FinishLoading(Message{})
		}
		text.Reset()
		reasoning.Reset()
		s.renderer.PushLoading()
	}

	res, err := s.agent.InvokeStream(ctx, InvokeOptions{Tools: s.tools, Intermediate: intermediate}, yield)
	switch {
	case err != nil:
		s.renderer.FinishLoading(Message{})
	case res.Canceled:
		s.renderer.FinishLoading(AssistantMessage(CanceledNotice))
	case res.Message != nil:
		s.agent.PushMessage(*res.Message)
		s.renderer.FinishLoading(*res.Message)
	default:
		s.renderer.FinishLoading(Message{})
	}

	// Persist everything the invocation committed, including partial progress of a
	// failed or canceled one.
	var persistErr error
	msgs := s.agent.Messages()
	if persisted > len(msgs) {
		persisted = len(msgs)
	}
	storeCtx := context.WithoutCancel(ctx)
	for _, m := range msgs[persisted:] {
		if perr := s.store.AppendMessage(storeCtx, m); perr != nil {
			persistErr = fmt.Errorf("persist message: %w", perr)
			break
		}
	}
	return res, errors.Join(err, persistErr)
}

// visible reports whether m has text worth rendering.
func visible(m Message) bool {
	return (m.Role == RoleUser || m.Role == RoleAssistant) && m.Content != ""
}
