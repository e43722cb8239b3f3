package agentsy

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned by MemoryStore for unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// MemoryStore is an in-memory SessionStore.
type MemoryStore struct {
	mu       sync.Mutex
	sessions []*SessionRecord
	active   string
	now      func() time.Time
}

var _ SessionStore = (*MemoryStore)(nil)

// NewMemoryStore returns a store with one empty, active session.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{now: time.Now}
	s.create()
	return s
}

// AppendMessage implements Store.
func (s *MemoryStore) AppendMessage(_ context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.find(s.active)
	rec.Messages = append(rec.Messages, m)
	return nil
}

// ActiveSession implements Store. The returned record is a copy.
func (s *MemoryStore) ActiveSession(_ context.Context) (SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.find(s.active)), nil
}

// CreateSession implements SessionStore.
func (s *MemoryStore) CreateSession(_ context.Context) (SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.create()), nil
}

// SwitchSession implements SessionStore.
func (s *MemoryStore) SwitchSession(_ context.Context, id string) (SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.find(id)
	if rec == nil {
		return SessionRecord{}, ErrSessionNotFound
	}
	s.active = id
	return clone(rec), nil
}

// DeleteSession implements SessionStore.
func (s *MemoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := slices.IndexFunc(s.sessions, func(r *SessionRecord) bool { return r.ID == id })
	if idx < 0 {
		return ErrSessionNotFound
	}
	s.sessions = slices.Delete(s.sessions, idx, idx+1)
	if len(s.sessions) == 0 {
		s.create()
		return nil
	}
	if s.active == id {
		s.active = s.sessions[0].ID
	}
	return nil
}

// Sessions implements SessionStore. The records are copies.
func (s *MemoryStore) Sessions(_ context.Context) ([]SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SessionRecord, len(s.sessions))
	for i, rec := range s.sessions {
		out[i] = clone(rec)
	}
	return out, nil
}

// create prepends a new session and activates it. Caller holds s.mu.
func (s *MemoryStore) create() *SessionRecord {
	rec := &SessionRecord{ID: uuid.NewString(), CreatedAt: s.now()}
	s.sessions = slices.Insert(s.sessions, 0, rec)
	s.active = rec.ID
	return rec
}

func (s *MemoryStore) find(id string) *SessionRecord {
	for _, rec := range s.sessions {
		if rec.ID == id {
			return rec
		}
	}
	return nil
}

func clone(rec *SessionRecord) SessionRecord {
	out := *rec
	out.Messages = slices.Clone(rec.Messages)
	return out
}
