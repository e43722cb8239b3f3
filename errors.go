package agentsy

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for agentsy. Use errors.Is to check.
var (
	ErrToolExists       = errors.New("tool name already registered")
	ErrToolNotFound     = errors.New("tool not found")
	ErrValidation       = errors.New("validation failed")
	ErrIncompleteStream = errors.New("stream ended with an unterminated JSON fragment")
	ErrEmptyResponse    = errors.New("response contains no choices")

	// ErrAborted and ErrSuperseded are cancellation causes of an invocation.
	// Invoke never returns them; inspect context.Cause inside tool handlers.
	ErrAborted    = errors.New("request aborted")
	ErrSuperseded = errors.New("request superseded by a newer invocation")
)

// ClientError is an error caused by the arguments the model produced (invalid JSON,
// schema violations). Its message is sent back to the model in the tool message so the
// model can correct itself. Err optionally wraps a sentinel (e.g. ErrValidation).
type ClientError struct {
	Reason string
	// Violations lists every schema violation when Err is ErrValidation.
	Violations []string
	Err        error
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("invalid tool input: %s", e.Reason)
}

// Unwrap supports errors.Is/errors.As on wrapped chains (e.g. errors.Is(err, ErrValidation)).
func (e *ClientError) Unwrap() error { return e.Err }

// SystemError represents an internal failure of a tool (recovered panic, timeout).
type SystemError struct {
	Err error
}

func (e *SystemError) Error() string {
	if e.Err == nil {
		return "internal system error during tool execution"
	}
	return "internal system error during tool execution: " + e.Err.Error()
}

func (e *SystemError) Unwrap() error { return e.Err }

// APIError is returned when the endpoint answers with a non-2xx status or sends an
// error object inside the stream.
type APIError struct {
	StatusCode int
	Message    string
	Type       string
	Code       string
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString("chat completion endpoint error")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Type != "" {
		b.WriteString(" [" + e.Type + "]")
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	return b.String()
}

// IsClientError returns true if err is or wraps a ClientError.
func IsClientError(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce)
}

// IsSystemError returns true if err is or wraps a SystemError.
func IsSystemError(err error) bool {
	var se *SystemError
	return errors.As(err, &se)
}

// wrapJSONParseError returns a ClientError for argument unmarshal failures.
func wrapJSONParseError(err error) error {
	return &ClientError{Reason: "json parse error: " + err.Error()}
}

// newValidationError aggregates every violation into one human-readable message.
func newValidationError(name string, violations []string) error {
	return &ClientError{
		Reason:     fmt.Sprintf("%s: %s", name, strings.Join(violations, ", ")),
		Violations: violations,
		Err:        ErrValidation,
	}
}
