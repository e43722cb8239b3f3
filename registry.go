package agentsy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Registry maps tool names to definitions and handlers, validates arguments against each
// tool's schema and runs handlers with timeout, semaphore and optional panic recovery.
type Registry struct {
	mu          sync.RWMutex
	tools       map[string]Tool    // raw, as registered
	handlers    map[string]Handler // wrapped with middlewares, used by Call
	order       []string           // registration order
	validator   *SchemaValidator
	sem         chan struct{}
	opts        registryOptions
	middlewares []Middleware
}

// NewRegistry creates a Registry with the given options.
func NewRegistry(opts ...RegistryOption) *Registry {
	o := registryOptions{
		timeout:        30 * time.Second,
		maxConcurrency: 10,
		recoverPanics:  true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	var sem chan struct{}
	if o.maxConcurrency > 0 {
		sem = make(chan struct{}, o.maxConcurrency)
	}
	return &Registry{
		tools:     make(map[string]Tool),
		handlers:  make(map[string]Handler),
		validator: NewSchemaValidator(),
		sem:       sem,
		opts:      o,
	}
}

// Register adds a tool. The parameters schema is compiled immediately so an invalid schema
// fails here rather than on the first call. A name that is already registered fails with
// ErrToolExists and leaves the existing tool untouched.
func (r *Registry) Register(def ToolDefinition, handler Handler) error {
	if def.Name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if handler == nil {
		return fmt.Errorf("%s: handler must not be nil", def.Name)
	}
	if def.Parameters == nil {
		def.Parameters = Object(nil)
	}
	if def.Parameters.Type != TypeObject {
		return fmt.Errorf("%s: parameters must be an object schema, got %q", def.Name, def.Parameters.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("%s: %w", def.Name, ErrToolExists)
	}
	if _, err := r.validator.Compile(def.Name, def.Parameters); err != nil {
		return err
	}
	t := Tool{Definition: def, Handler: handler}
	r.tools[def.Name] = t
	r.handlers[def.Name] = r.wrap(t)
	r.order = append(r.order, def.Name)
	return nil
}

// RegisterTool is Register for a prebuilt Tool (see NewTypedTool).
func (r *Registry) RegisterTool(t Tool) error {
	return r.Register(t.Definition, t.Handler)
}

// GetDefinition returns the definition registered under name.
func (r *Registry) GetDefinition(name string) (ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t.Definition, ok
}

// GetHandler returns the handler registered under name (after middlewares are applied).
func (r *Registry) GetHandler(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Remove deletes the tool and its cached validator. Removing an unknown name is a no-op.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return
	}
	delete(r.tools, name)
	delete(r.handlers, name)
	r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == name })
	r.validator.Forget(name)
}

// Definitions returns every registered definition in registration order.
// Parameters schemas are shared; callers must not mutate them.
func (r *Registry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Definition)
	}
	return out
}

// DefinitionsByNames returns the definitions for names, in the order given.
// Unknown names are skipped.
func (r *Registry) DefinitionsByNames(names []string) []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDefinition, 0, len(names))
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			out = append(out, t.Definition)
		}
	}
	return out
}

// Validate checks args against the schema of the named tool. It returns an error wrapping
// ErrToolNotFound for unknown names and a ClientError for malformed JSON or schema
// violations (every violation is listed).
func (r *Registry) Validate(name string, args json.RawMessage) error {
	r.mu.RLock()
	_, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrToolNotFound)
	}
	v, err := decodeJSON(normalizeArgs(args))
	if err != nil {
		return wrapJSONParseError(err)
	}
	return r.validator.Validate(name, v)
}

// Call validates args and runs the handler. Validation failures are returned without
// invoking the handler; the handler's own error is returned unchanged.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (out string, err error) {
	args = normalizeArgs(args)
	if err = r.Validate(name, args); err != nil {
		return "", err
	}
	handler, ok := r.GetHandler(name)
	if !ok {
		// Removed between validation and lookup.
		return "", fmt.Errorf("%s: %w", name, ErrToolNotFound)
	}

	if err = r.acquireSemaphore(ctx); err != nil {
		return "", err
	}
	defer r.releaseSemaphore()

	if r.opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.timeout)
		defer cancel()
	}

	start := time.Now()
	// Recover defer is registered after onAfter so it runs first and sets err before the hook.
	defer func() {
		if r.opts.onAfter != nil {
			r.opts.onAfter(ctx, name, err, time.Since(start))
		}
	}()
	if r.opts.recoverPanics {
		defer func() {
			if p := recover(); p != nil {
				out = ""
				err = &SystemError{Err: &panicError{p: p}}
			}
		}()
	}
	if r.opts.onBefore != nil {
		r.opts.onBefore(ctx, name, args)
	}
	return handler(ctx, args)
}

func (r *Registry) acquireSemaphore(ctx context.Context) error {
	if r.sem == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case r.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) releaseSemaphore() {
	if r.sem != nil {
		<-r.sem
	}
}

// normalizeArgs maps an empty argument string (sent by some models for tools without
// parameters) to an empty object.
func normalizeArgs(args json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(args)) == 0 {
		return json.RawMessage("{}")
	}
	return args
}

// panicError wraps a recovered panic value for SystemError; used by Registry and WithRecovery middleware.
type panicError struct{ p any }

func (e *panicError) Error() string {
	return "panic: " + fmt.Sprint(e.p)
}
