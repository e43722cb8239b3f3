package main

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/skosovsky/agentsy"
	"github.com/skosovsky/agentsy/config"
	"github.com/skosovsky/agentsy/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig(ep *testutil.Endpoint) *config.File {
	return &config.File{
		Model:     "test-model",
		URL:       ep.URL(),
		MaxRounds: 4,
		Stream:    true,
		Tools: config.Tools{
			Enabled:        []string{"current_time", "not_a_tool"},
			Timeout:        time.Second,
			MaxConcurrency: 2,
		},
	}
}

func newTestApp(t *testing.T, ep *testutil.Endpoint, cfg *config.File) (*app, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	logger := slog.New(slog.DiscardHandler)
	a, err := newApp(context.Background(), cfg, &out, logger, false, agentsy.WithHTTPClient(ep.Client()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, &out
}

func hello() testutil.Response {
	return testutil.Response{Chunks: testutil.Frames(testutil.ContentChunk("Hel"), testutil.ContentChunk("lo"))}
}

func TestApp_REPL(t *testing.T) {
	ep := testutil.NewEndpoint(t, hello())
	a, out := newTestApp(t, ep, testConfig(ep))

	require.NoError(t, a.repl(context.Background(), strings.NewReader("hi\n\n/quit\nignored\n")))
	assert.Equal(t, "you> assistant> Hello\nyou> you> ", out.String())
	require.Len(t, ep.Requests(), 1)
}

func TestApp_ToolRound(t *testing.T) {
	ep := testutil.NewEndpoint(t,
		testutil.Response{Chunks: testutil.Frames(testutil.ToolCallChunk(0, "call_1", "current_time", `{}`))},
		testutil.Response{Chunks: testutil.Frames(testutil.ContentChunk("It is Monday."))},
	)
	a, out := newTestApp(t, ep, testConfig(ep))

	require.NoError(t, a.send(context.Background(), "what day is it?"))
	assert.Equal(t, "assistant> It is Monday.\n", out.String())

	reqs := ep.Requests()
	require.Len(t, reqs, 2)
	require.Len(t, reqs[0].Decoded.Tools, 1, "unknown tools are skipped")
	assert.Equal(t, "current_time", reqs[0].Decoded.Tools[0].Function.Name)
	msgs := reqs[1].Decoded.Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "call_1", msgs[2].ToolCallID)
	assert.Contains(t, msgs[2].Content, `"weekday"`)
}

func TestApp_RoundBudgetExhausted(t *testing.T) {
	ep := testutil.NewEndpoint(t,
		testutil.Response{Chunks: testutil.Frames(testutil.ToolCallChunk(0, "call_1", "current_time", `{}`))},
	)
	cfg := testConfig(ep)
	cfg.MaxRounds = 1
	a, out := newTestApp(t, ep, cfg)

	require.NoError(t, a.send(context.Background(), "time?"))
	assert.Equal(t, "assistant> (no answer after 1 rounds)\n", out.String())
}

func TestApp_Interrupt(t *testing.T) {
	ep := testutil.NewEndpoint(t, testutil.Response{
		Chunks: testutil.Frames(testutil.ContentChunk("partial")),
		Hold:   make(chan struct{}),
	})
	a, out := newTestApp(t, ep, testConfig(ep))
	assert.False(t, a.interrupt(), "nothing to interrupt")

	errc := make(chan error, 1)
	go func() { errc <- a.send(context.Background(), "hi") }()
	<-ep.Started()
	assert.True(t, a.interrupt())
	require.NoError(t, <-errc)
	assert.Contains(t, out.String(), "assistant> "+agentsy.CanceledNotice+"\n")
	assert.Equal(t, []agentsy.Message{agentsy.UserMessage("hi")}, a.agent.Messages())
}

func TestApp_SessionCommands(t *testing.T) {
	ep := testutil.NewEndpoint(t, hello())
	cfg := testConfig(ep)
	cfg.SystemMessage = "sys"
	a, out := newTestApp(t, ep, cfg)
	ctx := context.Background()
	require.NoError(t, a.resume(ctx))

	require.NoError(t, a.repl(ctx, strings.NewReader("hi\n/new\n")))
	assert.Equal(t, []agentsy.Message{agentsy.SystemMessage("sys")}, a.agent.Messages())
	all, err := a.store.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	fresh, first := all[0], all[1]
	assert.Contains(t, out.String(), "new session "+fresh.ID+"\n")

	out.Reset()
	require.NoError(t, a.repl(ctx, strings.NewReader("/sessions\n/switch "+first.ID[:8]+"\n")))
	assert.Contains(t, out.String(), "* "+fresh.ID)
	assert.Contains(t, out.String(), "(empty)")
	assert.Contains(t, out.String(), "  "+first.ID)
	assert.Contains(t, out.String(), "you> hi\nassistant> Hello\n")
	assert.Len(t, a.agent.Messages(), 3)

	out.Reset()
	require.NoError(t, a.repl(ctx, strings.NewReader("/delete "+first.ID+"\n/switch\n/switch zzz\n/bogus\n")))
	assert.Contains(t, out.String(), "deleted session "+first.ID+"\n")
	assert.Contains(t, out.String(), "error: missing session id\n")
	assert.Contains(t, out.String(), "error: session not found: zzz\n")
	assert.Contains(t, out.String(), "error: unknown command /bogus, try /help\n")
	active, err := a.store.ActiveSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, active.ID)
	assert.Equal(t, []agentsy.Message{agentsy.SystemMessage("sys")}, a.agent.Messages())
}

func TestApp_SQLiteSessionsSurviveRestart(t *testing.T) {
	ep := testutil.NewEndpoint(t, hello())
	cfg := testConfig(ep)
	cfg.SessionDB = filepath.Join(t.TempDir(), "sessions.db")

	first, _ := newTestApp(t, ep, cfg)
	require.NoError(t, first.resume(context.Background()))
	require.NoError(t, first.send(context.Background(), "hi"))
	require.NoError(t, first.Close())

	second, out := newTestApp(t, ep, cfg)
	require.NoError(t, second.resume(context.Background()))
	assert.Equal(t, "you> hi\nassistant> Hello\n", out.String())
	assert.Equal(t, []agentsy.Message{agentsy.UserMessage("hi"), agentsy.AssistantMessage("Hello")}, second.agent.Messages())
}

func TestNewApp_BadTimezone(t *testing.T) {
	ep := testutil.NewEndpoint(t)
	cfg := testConfig(ep)
	cfg.Tools.Timezone = "Mars/Olympus_Mons"
	_, err := newApp(context.Background(), cfg, &bytes.Buffer{}, slog.New(slog.DiscardHandler), false)
	assert.ErrorContains(t, err, "tools.timezone")
}
