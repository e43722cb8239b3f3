package testutil

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/skosovsky/agentsy"
)

// MockTool is a configurable tool for tests that records the arguments of every call.
type MockTool struct {
	NameVal   string
	DescVal   string
	ParamsVal *agentsy.Schema
	// CallFn runs for each call. When nil the tool returns Result.
	CallFn func(ctx context.Context, args json.RawMessage) (string, error)
	Result string

	mu    sync.Mutex
	calls []json.RawMessage
}

// Name returns the tool name ("mock" when unset).
func (m *MockTool) Name() string {
	if m.NameVal != "" {
		return m.NameVal
	}
	return "mock"
}

// Definition returns the tool definition. Parameters default to an empty object schema.
func (m *MockTool) Definition() agentsy.ToolDefinition {
	params := m.ParamsVal
	if params == nil {
		params = agentsy.Object(nil)
	}
	return agentsy.ToolDefinition{Name: m.Name(), Description: m.DescVal, Parameters: params}
}

// Handle is the tool's agentsy.Handler.
func (m *MockTool) Handle(ctx context.Context, args json.RawMessage) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append(json.RawMessage(nil), args...))
	m.mu.Unlock()
	if m.CallFn != nil {
		return m.CallFn(ctx, args)
	}
	return m.Result, nil
}

// Tool returns the definition and handler as an agentsy.Tool.
func (m *MockTool) Tool() agentsy.Tool {
	return agentsy.Tool{Definition: m.Definition(), Handler: m.Handle}
}

// Calls returns the arguments of every call so far.
func (m *MockTool) Calls() []json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]json.RawMessage, len(m.calls))
	copy(out, m.calls)
	return out
}
