package agentsy

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// RegistryOption configures a Registry.
type RegistryOption func(*registryOptions)

type registryOptions struct {
	timeout        time.Duration
	maxConcurrency int
	recoverPanics  bool
	onBefore       func(context.Context, string, json.RawMessage)
	onAfter        func(context.Context, string, error, time.Duration)
}

// WithDefaultTimeout sets the execution timeout applied to every handler call.
// Zero disables it.
func WithDefaultTimeout(d time.Duration) RegistryOption {
	return func(o *registryOptions) {
		o.timeout = d
	}
}

// WithMaxConcurrency limits concurrent handler executions (semaphore).
// Pass 0 or negative to disable the semaphore (unlimited concurrency).
func WithMaxConcurrency(n int) RegistryOption {
	return func(o *registryOptions) {
		o.maxConcurrency = n
	}
}

// WithRecoverPanics enables panic recovery in Call (returns SystemError).
func WithRecoverPanics(enable bool) RegistryOption {
	return func(o *registryOptions) {
		o.recoverPanics = enable
	}
}

// WithOnBeforeCall sets a hook called after validation, right before the handler runs.
func WithOnBeforeCall(fn func(ctx context.Context, name string, args json.RawMessage)) RegistryOption {
	return func(o *registryOptions) {
		o.onBefore = fn
	}
}

// WithOnAfterCall sets a hook called after each handler execution.
func WithOnAfterCall(fn func(ctx context.Context, name string, err error, d time.Duration)) RegistryOption {
	return func(o *registryOptions) {
		o.onAfter = fn
	}
}

// Option configures an Agent.
type Option func(*agentOptions)

type agentOptions struct {
	httpClient     HTTPDoer
	headers        http.Header
	rateLimit      float64
	rateBurst      int
	requestTimeout time.Duration
	logger         *slog.Logger
	tracerProvider trace.TracerProvider
	registry       *Registry
	intermediate   func(context.Context, Message)
}

// WithHTTPClient sets the client used for chat-completion requests (default http.DefaultClient).
func WithHTTPClient(c HTTPDoer) Option {
	return func(o *agentOptions) {
		o.httpClient = c
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(o *agentOptions) {
		if o.headers == nil {
			o.headers = make(http.Header)
		}
		o.headers.Add(key, value)
	}
}

// WithAPIKey sends "Authorization: Bearer <key>" with every request.
func WithAPIKey(key string) Option {
	return func(o *agentOptions) {
		if key == "" {
			return
		}
		if o.headers == nil {
			o.headers = make(http.Header)
		}
		o.headers.Set("Authorization", "Bearer "+key)
	}
}

// WithRateLimit limits outgoing requests to rps per second with the given burst.
// Each round of an invocation waits for the limiter.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *agentOptions) {
		o.rateLimit = rps
		o.rateBurst = burst
	}
}

// WithRequestTimeout bounds every single HTTP round (including reading a stream).
func WithRequestTimeout(d time.Duration) Option {
	return func(o *agentOptions) {
		o.requestTimeout = d
	}
}

// WithLogger sets the structured logger (default slog.Default()).
func WithLogger(logger *slog.Logger) Option {
	return func(o *agentOptions) {
		o.logger = logger
	}
}

// WithTracerProvider sets the OpenTelemetry provider for invocation, round and tool spans
// (default otel.GetTracerProvider()).
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *agentOptions) {
		o.tracerProvider = tp
	}
}

// WithRegistry makes the agent dispatch tool calls through reg instead of a fresh Registry.
func WithRegistry(reg *Registry) Option {
	return func(o *agentOptions) {
		o.registry = reg
	}
}

// WithIntermediateMessages surfaces every assistant message that carries tool calls
// (including any text that preceded them) to fn before its tools are dispatched.
func WithIntermediateMessages(fn func(context.Context, Message)) Option {
	return func(o *agentOptions) {
		o.intermediate = fn
	}
}
