package agentsy_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/skosovsky/agentsy"
	"github.com/skosovsky/agentsy/testutil"
)

func newAgent(t *testing.T, ep *testutil.Endpoint, opts ...agentsy.Option) *agentsy.Agent {
	t.Helper()
	base := []agentsy.Option{
		agentsy.WithHTTPClient(ep.Client()),
		agentsy.WithLogger(slog.New(slog.DiscardHandler)),
	}
	a, err := agentsy.New(agentsy.Config{Model: "test-model", URL: ep.URL()}, append(base, opts...)...)
	require.NoError(t, err)
	return a
}

func addTool() *testutil.MockTool {
	return &testutil.MockTool{
		NameVal: "add",
		DescVal: "Add two integers",
		ParamsVal: agentsy.Object(map[string]*agentsy.Schema{
			"a": agentsy.Integer(""),
			"b": agentsy.Integer(""),
		}, "a", "b"),
		CallFn: func(_ context.Context, args json.RawMessage) (string, error) {
			var in struct{ A, B int }
			if err := json.Unmarshal(args, &in); err != nil {
				return "", err
			}
			out, _ := json.Marshal(map[string]int{"sum": in.A + in.B})
			return string(out), nil
		},
	}
}

func register(t *testing.T, a *agentsy.Agent, tools ...*testutil.MockTool) {
	t.Helper()
	for _, m := range tools {
		require.NoError(t, a.Registry().RegisterTool(m.Tool()))
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := agentsy.New(agentsy.Config{URL: "http://localhost/v1/chat/completions"})
	assert.Error(t, err)
	_, err = agentsy.New(agentsy.Config{Model: "m", URL: "not a url"})
	assert.Error(t, err)
	_, err = agentsy.New(agentsy.Config{Model: "m", URL: "http://localhost", MaxRounds: -1})
	assert.Error(t, err)

	a, err := agentsy.New(agentsy.Config{Model: "m", URL: "http://localhost", SystemMessage: "be brief"})
	require.NoError(t, err)
	assert.Equal(t, []agentsy.Message{agentsy.SystemMessage("be brief")}, a.Messages())
	assert.NotNil(t, a.Registry())
}

func TestInvoke_PlainAnswerIsNotAppended(t *testing.T) {
	ep := testutil.NewEndpoint(t, testutil.Response{JSON: testutil.Completion("4")})
	a := newAgent(t, ep, agentsy.WithAPIKey("sk-test"), agentsy.WithHeader("X-Title", "agentsy"))
	a.PushMessage(agentsy.UserMessage("2+2?"))

	res, err := a.Invoke(context.Background(), agentsy.InvokeOptions{})
	require.NoError(t, err)
	require.NotNil(t, res.Message)
	assert.Equal(t, agentsy.Message{Role: agentsy.RoleAssistant, Content: "4"}, *res.Message)
	assert.Equal(t, 1, res.Rounds)
	assert.False(t, res.Canceled)
	assert.Equal(t, []agentsy.Message{agentsy.UserMessage("2+2?")}, a.Messages())

	reqs := ep.Requests()
	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, "Bearer sk-test", req.Header.Get("Authorization"))
	assert.Equal(t, "agentsy", req.Header.Get("X-Title"))
	assert.Equal(t, "test-model", req.Decoded.Model)
	assert.False(t, req.Decoded.Stream)
	assert.Empty(t, req.Decoded.Tools)
	require.Len(t, req.Decoded.Messages, 1)
	assert.Equal(t, openai.ChatMessageRoleUser, req.Decoded.Messages[0].Role)
	assert.Equal(t, "2+2?", req.Decoded.Messages[0].Content)
}

func TestInvoke_MissingRoleIsAssistant(t *testing.T) {
	ep := testutil.NewEndpoint(t, testutil.Response{JSON: map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"role": nil, "content": "4"}}},
	}})
	a := newAgent(t, ep)
	res, err := a.Invoke(context.Background(), agentsy.InvokeOptions{})
	require.NoError(t, err)
	assert.Equal(t, agentsy.RoleAssistant, res.Message.Role)
}

func TestInvoke_ToolRound(t *testing.T) {
	ep := testutil.NewEndpoint(t,
		testutil.Response{JSON: testutil.Completion("Let me add.", testutil.Call("call_1", "add", `{"a":2,"b":3}`))},
		testutil.Response{JSON: testutil.Completion("2+3=5")},
	)
	a := newAgent(t, ep)
	add := addTool()
	register(t, a, add, &testutil.MockTool{NameVal: "unused"})
	a.PushMessage(agentsy.UserMessage("2+3?"))

	res, err := a.Invoke(context.Background(), agentsy.InvokeOptions{Tools: []string{"add", "ghost"}})
	require.NoError(t, err)
	require.NotNil(t, res.Message)
	assert.Equal(t, "2+3=5", res.Message.Content)
	assert.Equal(t, 2, res.Rounds)
	assert.Len(t, add.Calls(), 1)

	msgs := a.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, agentsy.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Let me add.", msgs[1].Content)
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, "call_1", msgs[1].ToolCalls[0].ID)
	assert.Equal(t, agentsy.ToolMessage("call_1", `{"sum":5}`), msgs[2])

	reqs := ep.Requests()
	require.Len(t, reqs, 2)
	require.Len(t, reqs[0].Decoded.Tools, 1, "only named, registered tools are offered")
	assert.Equal(t, openai.ToolTypeFunction, reqs[0].Decoded.Tools[0].Type)
	assert.Equal(t, "add", reqs[0].Decoded.Tools[0].Function.Name)
	assert.Empty(t, reqs[1].Decoded.Tools, "later rounds offer no tools")
	require.Len(t, reqs[1].Decoded.Messages, 3)
	assert.Equal(t, "call_1", reqs[1].Decoded.Messages[1].ToolCalls[0].ID)
	assert.Equal(t, "call_1", reqs[1].Decoded.Messages[2].ToolCallID)
}

func TestInvoke_LastRoundMakesNoFurtherRequest(t *testing.T) {
	ep := testutil.NewEndpoint(t,
		testutil.Response{JSON: testutil.Completion("", testutil.Call("call_1", "add", `{"a":1,"b":1}`))},
	)
	a := newAgent(t, ep)
	register(t, a, addTool())
	a.PushMessage(agentsy.UserMessage("1+1?"))

	res, err := a.Invoke(context.Background(), agentsy.InvokeOptions{Tools: []string{"add"}, Rounds: 1})
	require.NoError(t, err)
	assert.Nil(t, res.Message)
	assert.Equal(t, 1, res.Rounds)
	assert.Len(t, ep.Requests(), 1)
	msgs := a.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, agentsy.ToolMessage("call_1", `{"sum":2}`), msgs[2])
}

func TestInvoke_MaxRoundsFromConfig(t *testing.T) {
	call := testutil.Completion("", testutil.Call("c", "add", `{"a":1,"b":1}`))
	ep := testutil.NewEndpoint(t,
		testutil.Response{JSON: call},
		testutil.Response{JSON: call},
	)
	a, err := agentsy.New(agentsy.Config{Model: "m", URL: ep.URL(), MaxRounds: 2},
		agentsy.WithHTTPClient(ep.Client()), agentsy.WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)
	register(t, a, addTool())

	res, err := a.Invoke(context.Background(), agentsy.InvokeOptions{Tools: []string{"add"}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rounds)
	assert.Len(t, ep.Requests(), 2)
	assert.Len(t, a.Messages(), 4)
}

func TestInvoke_ToolsRunConcurrentlyResultsInCallOrder(t *testing.T) {
	var arrived atomic.Int32
	both := make(chan struct{})
	barrier := func(name string) *testutil.MockTool {
		return &testutil.MockTool{NameVal: name, CallFn: func(context.Context, json.RawMessage) (string, error) {
			if arrived.Add(1) == 2 {
				close(both)
			}
			select {
			case <-both:
				return name + " done", nil
			case <-time.After(5 * time.Second):
				return "", errors.New("sibling never started")
			}
		}}
	}
	ep := testutil.NewEndpoint(t,
		testutil.Response{JSON: testutil.Completion("",
			testutil.Call("call_slow", "slow", `{}`),
			testutil.Call("call_fast", "fast", ``),
		)},
		testutil.Response{JSON: testutil.Completion("ok")},
	)
	a := newAgent(t, ep)
	register(t, a, barrier("slow"), barrier("fast"))

	_, err := a.Invoke(context.Background(), agentsy.InvokeOptions{Tools: []string{"slow", "fast"}})
	require.NoError(t, err)
	msgs := a.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, agentsy.ToolMessage("call_slow", "slow done"), msgs[1])
	assert.Equal(t, agentsy.ToolMessage("call_fast", "fast done"), msgs[2])
}

func TestInvoke_LocalToolErrorsDoNotAbort(t *testing.T) {
	ep := testutil.NewEndpoint(t,
		testutil.Response{JSON: testutil.Completion("",
			testutil.Call("c1", "add", `{"a":"x"}`),
			testutil.Call("c2", "ghost", `{}`),
			testutil.Call("c3", "add", `{"a":1,"b":2}`),
		)},
		testutil.Response{JSON: testutil.Completion("fixed")},
	)
	a := newAgent(t, ep)
	add := addTool()
	register(t, a, add)

	res, err := a.Invoke(context.Background(), agentsy.InvokeOptions{Tools: []string{"add"}})
	require.NoError(t, err)
	assert.Equal(t, "fixed", res.Message.Content)

	msgs := a.Messages()
	require.Len(t, msgs, 4)
	assert.True(t, strings.HasPrefix(msgs[1].Content, "error: invalid tool input"), msgs[1].Content)
	assert.Contains(t, msgs[1].Content, "'b'")
	assert.Contains(t, msgs[2].Content, "tool not found")
	assert.Equal(t, `{"sum":3}`, msgs[3].Content)
	assert.Len(t, add.Calls(), 1, "invalid arguments never reach the handler")
}

func TestInvoke_HandlerErrorIsReturnedAfterCommit(t *testing.T) {
	boom := errors.New("database unavailable")
	ep := testutil.NewEndpoint(t,
		testutil.Response{JSON: testutil.Completion("",
			testutil.Call("c1", "fail", `{}`),
			testutil.Call("c2", "add", `{"a":1,"b":2}`),
		)},
	)
	a := newAgent(t, ep)
	register(t, a, addTool(), &testutil.MockTool{NameVal: "fail", CallFn: func(context.Context, json.RawMessage) (string, error) {
		return "", boom
	}})

	res, err := a.Invoke(context.Background(), agentsy.InvokeOptions{Tools: []string{"fail", "add"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.False(t, res.Canceled)
	assert.Equal(t, 1, res.Rounds)
	assert.Len(t, ep.Requests(), 1)

	msgs := a.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "error: database unavailable", msgs[1].Content)
	assert.Equal(t, `{"sum":3}`, msgs[2].Content, "siblings are not canceled")
}

func TestInvoke_MissingToolCallIDIsGenerated(t *testing.T) {
	ep := testutil.NewEndpoint(t,
		testutil.Response{JSON: map[string]any{"choices": []any{map[string]any{"message": map[string]any{
			"role":       "assistant",
			"content":    nil,
			"tool_calls": []any{map[string]any{"function": map[string]any{"name": "add", "arguments": `{"a":1,"b":1}`}}},
		}}}}},
		testutil.Response{JSON: testutil.Completion("2")},
	)
	a := newAgent(t, ep)
	register(t, a, addTool())

	_, err := a.Invoke(context.Background(), agentsy.InvokeOptions{Tools: []string{"add"}})
	require.NoError(t, err)
	msgs := a.Messages()
	require.Len(t, msgs, 2)
	id := msgs[0].ToolCalls[0].ID
	assert.True(t, strings.HasPrefix(id, "call_"), id)
	assert.Equal(t, "function", msgs[0].ToolCalls[0].Type)
	assert.Equal(t, id, msgs[1].ToolCallID)
}

func TestInvoke_HTTPError(t *testing.T) {
	ep := testutil.NewEndpoint(t, testutil.Response{
		Status: 401,
		JSON:   testutil.ErrorBody("invalid api key", "invalid_request_error"),
	})
	a := newAgent(t, ep)
	a.PushMessage(agentsy.UserMessage("hi"))

	_, err := a.Invoke(context.Background(), agentsy.InvokeOptions{})
	var apiErr *agentsy.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.StatusCode)
	assert.Equal(t, "invalid api key", apiErr.Message)
	assert.Equal(t, "invalid_request_error", apiErr.Type)
	assert.Len(t, a.Messages(), 1)
}

func TestInvoke_EmptyChoices(t *testing.T) {
	ep := testutil.NewEndpoint(t, testutil.Response{JSON: map[string]any{"choices": []any{}}})
	a := newAgent(t, ep)
	_, err := a.Invoke(context.Background(), agentsy.InvokeOptions{})
	assert.ErrorIs(t, err, agentsy.ErrEmptyResponse)
}

func TestInvokeStream_ToolCascade(t *testing.T) {
	first := testutil.Frames(
		testutil.RoleChunk(),
		testutil.ReasoningChunk("reasoning_content", "need math"),
		testutil.ContentChunk("Adding"),
		testutil.ToolCallChunk(0, "call_1", "add", `{"a":`),
		testutil.ToolCallChunk(0, "", "", `40,"b":2}`),
	)
	second := testutil.Frames(testutil.ContentChunk("The answer "), testutil.ContentChunk("is 42"))
	ep := testutil.NewEndpoint(t,
		testutil.Response{Chunks: testutil.Split(first, 7)},
		testutil.Response{Chunks: append([]string{testutil.KeepAliveFrame}, second...)},
	)
	var intermediate []agentsy.Message
	a := newAgent(t, ep, agentsy.WithIntermediateMessages(func(_ context.Context, m agentsy.Message) {
		intermediate = append(intermediate, m)
	}))
	register(t, a, addTool())
	a.PushMessage(agentsy.UserMessage("40+2?"))

	var content strings.Builder
	res, err := a.InvokeStream(context.Background(), agentsy.InvokeOptions{Tools: []string{"add"}}, func(d agentsy.Delta) error {
		content.WriteString(d.Content)
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, res.Message)
	assert.Equal(t, "The answer is 42", res.Message.Content)
	assert.Equal(t, "AddingThe answer is 42", content.String(), "every round's deltas are yielded")

	require.Len(t, intermediate, 1)
	assert.Equal(t, "Adding", intermediate[0].Content)
	assert.Equal(t, "need math", intermediate[0].Reasoning)

	msgs := a.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, `{"a":40,"b":2}`, msgs[1].ToolCalls[0].Function.Arguments)
	assert.Equal(t, agentsy.ToolMessage("call_1", `{"sum":42}`), msgs[2])

	reqs := ep.Requests()
	require.Len(t, reqs, 2)
	assert.True(t, reqs[0].Decoded.Stream)
	assert.Equal(t, "text/event-stream", reqs[0].Header.Get("Accept"))
	assert.NotContains(t, string(reqs[1].Body), "reasoning", "reasoning stays local")
}

func TestInvokeStream_IncompleteStream(t *testing.T) {
	ep := testutil.NewEndpoint(t, testutil.Response{Chunks: []string{
		testutil.Frame(testutil.ContentChunk("a")),
		`data: {"choices":[{"delta"` + "\n\n",
		testutil.DoneFrame,
	}})
	a := newAgent(t, ep)
	a.PushMessage(agentsy.UserMessage("hi"))
	_, err := a.InvokeStream(context.Background(), agentsy.InvokeOptions{}, nil)
	assert.ErrorIs(t, err, agentsy.ErrIncompleteStream)
	assert.Len(t, a.Messages(), 1)
}

func TestInvokeStream_YieldError(t *testing.T) {
	stop := errors.New("renderer closed")
	ep := testutil.NewEndpoint(t, testutil.Response{Chunks: testutil.Frames(testutil.ContentChunk("a"))})
	a := newAgent(t, ep)
	_, err := a.InvokeStream(context.Background(), agentsy.InvokeOptions{}, func(agentsy.Delta) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestAbort_DuringRequest(t *testing.T) {
	ep := testutil.NewEndpoint(t, testutil.Response{JSON: testutil.Completion("late"), Hold: make(chan struct{})})
	a := newAgent(t, ep)
	a.PushMessage(agentsy.UserMessage("hi"))

	go func() {
		<-ep.Started()
		a.Abort()
	}()
	res, err := a.Invoke(context.Background(), agentsy.InvokeOptions{})
	require.NoError(t, err)
	assert.True(t, res.Canceled)
	assert.Nil(t, res.Message)
	assert.Equal(t, []agentsy.Message{agentsy.UserMessage("hi")}, a.Messages())
}

func TestAbort_MidStream(t *testing.T) {
	ep := testutil.NewEndpoint(t, testutil.Response{
		Chunks: []string{testutil.Frame(testutil.ToolCallChunk(0, "c1", "add", `{"a":1,`))},
		Hold:   make(chan struct{}),
	})
	a := newAgent(t, ep)
	register(t, a, addTool())
	a.PushMessage(agentsy.UserMessage("hi"))

	res, err := a.InvokeStream(context.Background(), agentsy.InvokeOptions{Tools: []string{"add"}}, func(agentsy.Delta) error {
		a.Abort()
		return nil
	})
	require.NoError(t, err)
	assert.True(t, res.Canceled)
	assert.Len(t, a.Messages(), 1)
}

func TestAbort_DuringDispatchDiscardsRound(t *testing.T) {
	var cause error
	var a *agentsy.Agent
	blocker := &testutil.MockTool{NameVal: "block", CallFn: func(ctx context.Context, _ json.RawMessage) (string, error) {
		a.Abort()
		<-ctx.Done()
		cause = context.Cause(ctx)
		return "", ctx.Err()
	}}
	ep := testutil.NewEndpoint(t,
		testutil.Response{JSON: testutil.Completion("", testutil.Call("c1", "block", `{}`), testutil.Call("c2", "add", `{"a":1,"b":1}`))},
	)
	a = newAgent(t, ep)
	register(t, a, blocker, addTool())
	a.PushMessage(agentsy.UserMessage("hi"))

	res, err := a.Invoke(context.Background(), agentsy.InvokeOptions{Tools: []string{"block", "add"}})
	require.NoError(t, err)
	assert.True(t, res.Canceled)
	assert.ErrorIs(t, cause, agentsy.ErrAborted)
	assert.Len(t, a.Messages(), 1, "neither the assistant message nor any result is committed")
}

func TestInvoke_NewInvocationSupersedes(t *testing.T) {
	ep := testutil.NewEndpoint(t,
		testutil.Response{JSON: testutil.Completion("stale"), Hold: make(chan struct{})},
		testutil.Response{JSON: testutil.Completion("fresh")},
	)
	a := newAgent(t, ep)
	a.PushMessage(agentsy.UserMessage("hi"))

	type outcome struct {
		res agentsy.Result
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		res, err := a.Invoke(context.Background(), agentsy.InvokeOptions{})
		first <- outcome{res, err}
	}()
	<-ep.Started()

	res, err := a.Invoke(context.Background(), agentsy.InvokeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "fresh", res.Message.Content)

	old := <-first
	require.NoError(t, old.err)
	assert.True(t, old.res.Canceled)
	assert.Len(t, a.Messages(), 1)
}

func TestInvoke_ParentContext(t *testing.T) {
	t.Run("canceled is not an error", func(t *testing.T) {
		ep := testutil.NewEndpoint(t, testutil.Response{JSON: testutil.Completion("x"), Hold: make(chan struct{})})
		a := newAgent(t, ep)
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			<-ep.Started()
			cancel()
		}()
		res, err := a.Invoke(ctx, agentsy.InvokeOptions{})
		require.NoError(t, err)
		assert.True(t, res.Canceled)
	})
	t.Run("deadline is an error", func(t *testing.T) {
		ep := testutil.NewEndpoint(t, testutil.Response{JSON: testutil.Completion("x"), Hold: make(chan struct{})})
		a := newAgent(t, ep)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		res, err := a.Invoke(ctx, agentsy.InvokeOptions{})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.False(t, res.Canceled)
	})
}

func TestInvoke_RequestTimeout(t *testing.T) {
	ep := testutil.NewEndpoint(t, testutil.Response{JSON: testutil.Completion("x"), Hold: make(chan struct{})})
	a := newAgent(t, ep, agentsy.WithRequestTimeout(20*time.Millisecond))
	res, err := a.Invoke(context.Background(), agentsy.InvokeOptions{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, res.Canceled)
}

func TestInvoke_RateLimit(t *testing.T) {
	ep := testutil.NewEndpoint(t,
		testutil.Response{JSON: testutil.Completion("", testutil.Call("c", "add", `{"a":1,"b":1}`))},
		testutil.Response{JSON: testutil.Completion("never")},
	)
	// One token, refilled every ~17 minutes: the second round cannot start in time.
	a := newAgent(t, ep, agentsy.WithRateLimit(0.001, 1))
	register(t, a, addTool())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, err := a.Invoke(ctx, agentsy.InvokeOptions{Tools: []string{"add"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate")
	assert.Equal(t, 1, res.Rounds)
	assert.Len(t, ep.Requests(), 1)
}

func TestInvoke_Tracing(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ep := testutil.NewEndpoint(t,
		testutil.Response{JSON: testutil.Completion("", testutil.Call("c", "add", `{"a":1,"b":1}`))},
		testutil.Response{JSON: testutil.Completion("2")},
	)
	a := newAgent(t, ep, agentsy.WithTracerProvider(tp))
	register(t, a, addTool())
	_, err := a.Invoke(context.Background(), agentsy.InvokeOptions{Tools: []string{"add"}})
	require.NoError(t, err)

	var names []string
	for _, s := range rec.Ended() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"agentsy.round", "agentsy.tool", "agentsy.round", "agentsy.invoke"}, names)

	spans := rec.Ended()
	invoke := spans[len(spans)-1]
	for _, s := range spans[:len(spans)-1] {
		assert.Equal(t, invoke.SpanContext().TraceID(), s.SpanContext().TraceID())
	}
}

func TestAgent_ConcurrentPushWhileInvoking(t *testing.T) {
	ep := testutil.NewEndpoint(t, testutil.Response{JSON: testutil.Completion("ok")})
	a := newAgent(t, ep)
	var wg sync.WaitGroup
	wg.Go(func() {
		_, err := a.Invoke(context.Background(), agentsy.InvokeOptions{})
		assert.NoError(t, err)
	})
	for range 10 {
		a.PushMessage(agentsy.UserMessage("x"))
	}
	wg.Wait()
	assert.Len(t, a.Messages(), 10)
}
