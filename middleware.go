package agentsy

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Middleware wraps a tool handler with cross-cutting behavior (logging, recovery, timeout).
// def is the definition of the tool being wrapped.
type Middleware func(def ToolDefinition, next Handler) Handler

// WithLogging returns a middleware that logs start, end, duration, and errors.
func WithLogging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(def ToolDefinition, next Handler) Handler {
		return func(ctx context.Context, args json.RawMessage) (string, error) {
			logger.InfoContext(ctx, "tool start", "tool", def.Name)
			start := time.Now()
			res, err := next(ctx, args)
			dur := time.Since(start)
			if err != nil {
				logger.ErrorContext(ctx, "tool error", "tool", def.Name, "duration", dur, "error", err)
				return "", err
			}
			logger.InfoContext(ctx, "tool end", "tool", def.Name, "duration", dur, "bytes", len(res))
			return res, nil
		}
	}
}

// WithRecovery returns a middleware that recovers panics and returns SystemError.
func WithRecovery() Middleware {
	return func(_ ToolDefinition, next Handler) Handler {
		return func(ctx context.Context, args json.RawMessage) (res string, err error) {
			defer func() {
				if p := recover(); p != nil {
					res = ""
					err = &SystemError{Err: &panicError{p: p}}
				}
			}()
			return next(ctx, args)
		}
	}
}

// WithTimeoutMiddleware returns a middleware that enforces a per-tool timeout. When the
// registry default timeout also applies, the effective timeout is the minimum of the two.
func WithTimeoutMiddleware(d time.Duration) Middleware {
	return func(_ ToolDefinition, next Handler) Handler {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, args json.RawMessage) (string, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, args)
		}
	}
}

// Use stores the given middlewares and reapplies them from scratch to all registered tools
// (onion order: first middleware is outermost). Tools registered later get them too.
// Calling Use again replaces the chain instead of double-wrapping.
func (r *Registry) Use(middlewares ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middlewares = middlewares
	for name, t := range r.tools {
		r.handlers[name] = r.wrap(t)
	}
}

// wrap applies the stored middlewares to t. Caller holds r.mu.
func (r *Registry) wrap(t Tool) Handler {
	h := t.Handler
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		h = r.middlewares[i](t.Definition, h)
	}
	return h
}
