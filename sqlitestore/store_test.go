package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/skosovsky/agentsy"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func open(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_AppendAndReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")
	s, err := Open(ctx, path)
	require.NoError(t, err)

	msgs := []agentsy.Message{
		agentsy.UserMessage("what day is it?"),
		{Role: agentsy.RoleAssistant, Reasoning: "check", ToolCalls: []agentsy.ToolCall{
			{ID: "call_1", Type: "function", Function: agentsy.FunctionCall{Name: "current_time", Arguments: `{}`}},
		}},
		agentsy.ToolMessage("call_1", `{"weekday":"Monday"}`),
		agentsy.AssistantMessage("Monday."),
	}
	for _, m := range msgs {
		require.NoError(t, s.AppendMessage(ctx, m))
	}
	before, err := s.ActiveSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, msgs, before.Messages)
	require.NoError(t, s.Close())

	reopened := open(t, path)
	after, err := reopened.ActiveSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, msgs, after.Messages)
	assert.Equal(t, "what day is it?", after.Title())
	assert.True(t, before.CreatedAt.Equal(after.CreatedAt))
}

func TestStore_Sessions(t *testing.T) {
	ctx := context.Background()
	s := open(t, ":memory:")
	clock := time.Now()
	s.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	first, err := s.ActiveSession(ctx)
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(ctx, agentsy.UserMessage("first")))

	second, err := s.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(ctx, agentsy.UserMessage("second")))

	all, err := s.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID, "newest first")
	assert.Equal(t, "second", all[0].Title())
	assert.Equal(t, "first", all[1].Title())

	rec, err := s.SwitchSession(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, []agentsy.Message{agentsy.UserMessage("first")}, rec.Messages)
	require.NoError(t, s.AppendMessage(ctx, agentsy.AssistantMessage("hello")))
	active, err := s.ActiveSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)
	assert.Len(t, active.Messages, 2)

	_, err = s.SwitchSession(ctx, "missing")
	assert.ErrorIs(t, err, agentsy.ErrSessionNotFound)
	active, err = s.ActiveSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID, "a failed switch keeps the active session")
}

func TestStore_DeleteSession(t *testing.T) {
	ctx := context.Background()
	s := open(t, ":memory:")
	clock := time.Now()
	s.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	older, err := s.CreateSession(ctx)
	require.NoError(t, err)
	newer, err := s.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(ctx, agentsy.UserMessage("bye")))

	require.NoError(t, s.DeleteSession(ctx, newer.ID))
	active, err := s.ActiveSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, older.ID, active.ID)
	assert.ErrorIs(t, s.DeleteSession(ctx, newer.ID), agentsy.ErrSessionNotFound)

	all, err := s.Sessions(ctx)
	require.NoError(t, err)
	for _, rec := range all {
		require.NoError(t, s.DeleteSession(ctx, rec.ID))
	}
	all, err = s.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1, "a fresh session replaces the last one")
	assert.Empty(t, all[0].Messages)
	active, err = s.ActiveSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, all[0].ID, active.ID)
}

func TestStore_BacksSession(t *testing.T) {
	ctx := context.Background()
	s := open(t, ":memory:")
	a, err := agentsy.New(agentsy.Config{Model: "m", URL: "http://localhost/v1/chat/completions", SystemMessage: "sys"})
	require.NoError(t, err)
	session := agentsy.NewSession(a, nopRenderer{}, s)

	require.NoError(t, session.Resume(ctx))
	rec, err := s.ActiveSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, []agentsy.Message{agentsy.SystemMessage("sys")}, rec.Messages)

	require.NoError(t, s.AppendMessage(ctx, agentsy.UserMessage("earlier")))
	b, err := agentsy.New(agentsy.Config{Model: "m", URL: "http://localhost/v1/chat/completions"})
	require.NoError(t, err)
	require.NoError(t, agentsy.NewSession(b, nopRenderer{}, s).Resume(ctx))
	assert.Equal(t, []agentsy.Message{agentsy.SystemMessage("sys"), agentsy.UserMessage("earlier")}, b.Messages())
}

type nopRenderer struct{}

func (nopRenderer) PushMessage(agentsy.Message)   {}
func (nopRenderer) PushLoading()                  {}
func (nopRenderer) UpdateLoadingContent(string)   {}
func (nopRenderer) UpdateLoadingReasoning(string) {}
func (nopRenderer) FinishLoading(agentsy.Message) {}
