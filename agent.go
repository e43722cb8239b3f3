package agentsy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// DefaultMaxRounds is the round budget used when neither Config nor InvokeOptions set one.
const DefaultMaxRounds = 4

// Config holds the required settings of an Agent.
type Config struct {
	// Model is sent as the "model" field of every request.
	Model string
	// URL is the full chat-completion endpoint, e.g. https://api.openai.com/v1/chat/completions.
	URL string
	// SystemMessage, when set, is the first message of the transcript.
	SystemMessage string
	// MaxRounds bounds request/dispatch cycles per invocation. Zero means DefaultMaxRounds.
	MaxRounds int
}

// InvokeOptions configures one invocation.
type InvokeOptions struct {
	// Tools names the registered tools offered to the model on the first round.
	// Unknown names are skipped. Later rounds of the same invocation offer none.
	Tools []string
	// Rounds overrides the agent's round budget when positive.
	Rounds int
	// Stream requests a server-sent event response.
	Stream bool
	// Intermediate, like WithIntermediateMessages, receives every assistant message that
	// carries tool calls before they are dispatched. Both are called when both are set.
	Intermediate func(context.Context, Message)
}

// Result is the outcome of an invocation.
type Result struct {
	// Message is the terminal assistant message (a round that made no tool calls). It is not
	// appended to the transcript. Nil when the budget ran out after dispatching tools or the
	// invocation was canceled.
	Message *Message
	// Rounds is the number of completed rounds.
	Rounds int
	// Canceled reports that the invocation was aborted, superseded or its context canceled.
	Canceled bool
}

// Agent drives the request / tool dispatch loop against an OpenAI-compatible endpoint.
// At most one invocation is active at a time: starting a new one cancels the previous.
type Agent struct {
	model     string
	url       string
	maxRounds int

	tools *Registry
	conv  *Conversation

	http           HTTPDoer
	headers        http.Header
	limiter        *rate.Limiter
	requestTimeout time.Duration
	logger         *slog.Logger
	tracer         trace.Tracer
	intermediate   func(context.Context, Message)

	mu     sync.Mutex
	active *invocation
}

type invocation struct {
	cancel context.CancelCauseFunc
}

// New creates an Agent.
func New(cfg Config, opts ...Option) (*Agent, error) {
	if cfg.Model == "" {
		return nil, errors.New("agentsy: model is required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("agentsy: invalid endpoint url %q", cfg.URL)
	}
	if cfg.MaxRounds < 0 {
		return nil, fmt.Errorf("agentsy: max rounds must not be negative, got %d", cfg.MaxRounds)
	}

	var o agentOptions
	for _, opt := range opts {
		opt(&o)
	}
	a := &Agent{
		model:          cfg.Model,
		url:            cfg.URL,
		maxRounds:      cfg.MaxRounds,
		tools:          o.registry,
		conv:           NewConversation(),
		http:           o.httpClient,
		headers:        o.headers.Clone(),
		requestTimeout: o.requestTimeout,
		logger:         o.logger,
		intermediate:   o.intermediate,
	}
	if a.maxRounds == 0 {
		a.maxRounds = DefaultMaxRounds
	}
	if a.tools == nil {
		a.tools = NewRegistry()
	}
	if a.http == nil {
		a.http = http.DefaultClient
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	tp := o.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	a.tracer = tp.Tracer(tracerName)
	if o.rateLimit > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(o.rateLimit), max(o.rateBurst, 1))
	}
	if cfg.SystemMessage != "" {
		a.conv.PushMessage(SystemMessage(cfg.SystemMessage))
	}
	return a, nil
}

// Registry returns the registry tool calls are dispatched through.
func (a *Agent) Registry() *Registry { return a.tools }

// Register adds a tool to the agent's registry.
func (a *Agent) Register(def ToolDefinition, handler Handler) error {
	return a.tools.Register(def, handler)
}

// Conversation returns the agent's transcript.
func (a *Agent) Conversation() *Conversation { return a.conv }

// PushMessage appends m to the transcript.
func (a *Agent) PushMessage(m Message) { a.conv.PushMessage(m) }

// PushMessages appends messages to the transcript in order.
func (a *Agent) PushMessages(messages []Message) { a.conv.PushMessages(messages) }

// Messages returns a copy of the transcript.
func (a *Agent) Messages() []Message { return a.conv.Messages() }

// Invoke sends the transcript and runs tool-call rounds until the model answers without
// tool calls or the round budget is spent. Assistant messages with tool calls and their
// tool results are appended to the transcript; the terminal answer is only returned.
//
// Cancellation (Abort, a newer invocation, or ctx being canceled) is not an error: the
// result has Canceled set and the transcript holds nothing from the interrupted round.
// Transport and decode errors abort the invocation. Tool handler failures are reported to
// the model in the tool message and, once the round is committed, returned joined.
func (a *Agent) Invoke(ctx context.Context, opts InvokeOptions) (Result, error) {
	return a.run(ctx, opts, nil)
}

// InvokeStream is Invoke with a streamed response. yield receives every delta of every
// round as it is merged; a yield error stops the invocation and is returned.
func (a *Agent) InvokeStream(ctx context.Context, opts InvokeOptions, yield func(Delta) error) (Result, error) {
	opts.Stream = true
	return a.run(ctx, opts, yield)
}

// Abort cancels the active invocation, if any.
func (a *Agent) Abort() {
	a.mu.Lock()
	inv := a.active
	a.active = nil
	a.mu.Unlock()
	if inv != nil {
		inv.cancel(ErrAborted)
	}
}

// begin installs a fresh invocation and cancels the one it replaces.
func (a *Agent) begin(parent context.Context) (context.Context, *invocation) {
	ctx, cancel := context.WithCancelCause(parent)
	inv := &invocation{cancel: cancel}
	a.mu.Lock()
	prev := a.active
	a.active = inv
	a.mu.Unlock()
	if prev != nil {
		prev.cancel(ErrSuperseded)
	}
	return ctx, inv
}

func (a *Agent) end(inv *invocation) {
	a.mu.Lock()
	if a.active == inv {
		a.active = nil
	}
	a.mu.Unlock()
	inv.cancel(nil)
}

func (a *Agent) run(parent context.Context, opts InvokeOptions, yield func(Delta) error) (Result, error) {
	ctx, inv := a.begin(parent)
	defer a.end(inv)

	budget := opts.Rounds
	if budget <= 0 {
		budget = a.maxRounds
	}
	tools := a.tools.DefinitionsByNames(opts.Tools)

	ctx, span := a.tracer.Start(ctx, spanInvoke, trace.WithAttributes(
		attribute.String(attrModel, a.model),
		attribute.Int(attrBudget, budget),
		attribute.Bool(attrStream, opts.Stream),
	))
	defer span.End()
	a.logger.DebugContext(ctx, "invoke start", "model", a.model, "rounds", budget, "stream", opts.Stream, "tools", len(tools))

	var res Result
	for round := 1; ; round++ {
		msg, err := a.round(ctx, round, tools, opts.Stream, yield)
		if err != nil {
			return a.settle(ctx, span, res, err)
		}
		if len(msg.ToolCalls) == 0 {
			res.Rounds = round
			res.Message = &msg
			span.SetAttributes(attribute.Int(attrRounds, round))
			return res, nil
		}

		if a.intermediate != nil {
			a.intermediate(ctx, msg)
		}
		if opts.Intermediate != nil {
			opts.Intermediate(ctx, msg)
		}
		results, failures := a.dispatch(ctx, msg.ToolCalls)
		if !a.conv.commit(ctx, append([]Message{msg}, results...)) {
			return a.settle(ctx, span, res, context.Cause(ctx))
		}
		res.Rounds = round
		span.SetAttributes(attribute.Int(attrRounds, round))
		if failures != nil {
			return a.settle(ctx, span, res, failures)
		}
		if round >= budget {
			a.logger.DebugContext(ctx, "round budget exhausted", "rounds", round)
			return res, nil
		}
		tools = nil
	}
}

// settle classifies the error that ended an invocation.
func (a *Agent) settle(ctx context.Context, span trace.Span, res Result, err error) (Result, error) {
	if errors.Is(ctx.Err(), context.Canceled) {
		cause := context.Cause(ctx)
		a.logger.InfoContext(ctx, "request canceled", "cause", cause, "rounds", res.Rounds)
		span.SetAttributes(attribute.String(attrCancelCause, cause.Error()))
		res.Message = nil
		res.Canceled = true
		return res, nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	a.logger.ErrorContext(ctx, "invoke failed", "error", err, "rounds", res.Rounds)
	return res, err
}

// round performs one request and returns the assistant message it produced.
func (a *Agent) round(
	ctx context.Context,
	n int,
	tools []ToolDefinition,
	stream bool,
	yield func(Delta) error,
) (msg Message, err error) {
	ctx, span := a.tracer.Start(ctx, spanRound, trace.WithAttributes(
		attribute.Int(attrRound, n),
		attribute.Int(attrTools, len(tools)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return Message{}, err
		}
	}
	if a.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.requestTimeout)
		defer cancel()
	}

	resp, err := a.post(ctx, chatRequest{
		Model:    a.model,
		Messages: a.conv.wire(),
		Tools:    toolSpecs(tools),
		Stream:   stream,
	})
	if err != nil {
		return Message{}, err
	}
	defer resp.Body.Close()

	if stream {
		msg, err = a.readStream(ctx, resp.Body, yield)
	} else {
		msg, err = readCompletion(resp.Body)
	}
	if err != nil {
		return Message{}, err
	}
	msg = normalizeAssistant(msg)
	span.SetAttributes(attribute.Int(attrToolCalls, len(msg.ToolCalls)))
	a.logger.DebugContext(ctx, "round complete", "round", n, "tool_calls", len(msg.ToolCalls))
	return msg, nil
}

// readStream merges a server-sent event body into one assistant message.
func (a *Agent) readStream(ctx context.Context, body io.Reader, yield func(Delta) error) (Message, error) {
	frames := newFrameReader(body)
	var asm jsonAssembler
	acc := newStreamAccumulator()
	for {
		data, err := frames.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Message{}, err
		}
		chunk, ok, err := asm.Feed(data)
		if err != nil {
			a.logger.WarnContext(ctx, "dropped malformed stream frame", "error", err)
			continue
		}
		if !ok {
			continue
		}
		if chunk.Error != nil {
			return Message{}, chunk.Error.apiError(0)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		acc.Merge(delta)
		if yield != nil {
			if err := yield(delta); err != nil {
				return Message{}, err
			}
		}
	}
	if asm.Awaiting() {
		return Message{}, fmt.Errorf("%w: %q", ErrIncompleteStream, abbreviate(asm.Pending(), 120))
	}
	return acc.Message(), nil
}

// dispatch runs every tool call concurrently and returns one tool message per call, in
// call order. Unknown tools and argument errors are reported to the model only; any other
// failure is also returned.
func (a *Agent) dispatch(ctx context.Context, calls []ToolCall) ([]Message, error) {
	results := make([]Message, len(calls))
	errs := make([]error, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Go(func() {
			content, err := a.callTool(ctx, call)
			if err != nil {
				content = "error: " + err.Error()
				if !isLocalToolError(err) {
					errs[i] = fmt.Errorf("tool %s (%s): %w", call.Function.Name, call.ID, err)
				}
			}
			results[i] = ToolMessage(call.ID, content)
		})
	}
	wg.Wait()
	return results, errors.Join(errs...)
}

func (a *Agent) callTool(ctx context.Context, call ToolCall) (out string, err error) {
	ctx, span := a.tracer.Start(ctx, spanTool, trace.WithAttributes(
		attribute.String(attrToolName, call.Function.Name),
		attribute.String(attrToolCallID, call.ID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	start := time.Now()
	a.logger.DebugContext(ctx, "tool dispatch", "tool", call.Function.Name, "id", call.ID)
	out, err = a.tools.Call(ctx, call.Function.Name, json.RawMessage(call.Function.Arguments))
	a.logger.DebugContext(ctx, "tool settled", "tool", call.Function.Name, "id", call.ID,
		"duration", time.Since(start), "error", err)
	return out, err
}

func isLocalToolError(err error) bool {
	return IsClientError(err) || errors.Is(err, ErrToolNotFound)
}

// normalizeAssistant fills in what some endpoints omit: the role, the tool call type and
// the tool call id (tool results must reference one).
func normalizeAssistant(m Message) Message {
	if m.Role == "" {
		m.Role = RoleAssistant
	}
	for i := range m.ToolCalls {
		c := &m.ToolCalls[i]
		if c.Type == "" {
			c.Type = "function"
		}
		if c.ID == "" {
			c.ID = "call_" + uuid.NewString()
		}
	}
	return m
}

func abbreviate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
