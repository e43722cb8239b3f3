package agentsy

import (
	"context"
	"encoding/json"
)

// Role is the author of a Message.
type Role string

// Message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of the transcript. Which fields are meaningful depends on Role:
// ToolCalls and Reasoning only on assistant messages, ToolCallID only on tool messages.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Reasoning  string     `json:"reasoning_content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// IsZero reports whether m carries nothing worth appending.
func (m Message) IsZero() bool {
	return m.Role == "" && m.Content == "" && m.Reasoning == "" &&
		len(m.ToolCalls) == 0 && m.ToolCallID == ""
}

// SystemMessage returns a system message.
func SystemMessage(content string) Message { return Message{Role: RoleSystem, Content: content} }

// UserMessage returns a user message.
func UserMessage(content string) Message { return Message{Role: RoleUser, Content: content} }

// AssistantMessage returns an assistant message without tool calls.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolMessage returns the result message for the tool call with the given id.
func ToolMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: toolCallID}
}

// ToolCall is a model-issued request to run a tool. Arguments stays a JSON string until
// dispatch because it may arrive in fragments while streaming.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition advertises a tool to the model and describes its arguments.
type ToolDefinition struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Parameters  *Schema `json:"parameters"`
}

// Handler runs a tool with JSON arguments already validated against the tool's schema.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// Tool pairs a definition with its handler.
type Tool struct {
	Definition ToolDefinition
	Handler    Handler
}

// Delta is the incremental part of an assistant message carried by one streamed frame.
type Delta struct {
	Role      Role            `json:"role,omitempty"`
	Content   string          `json:"content,omitempty"`
	Reasoning string          `json:"reasoning_content,omitempty"`
	ToolCalls []ToolCallDelta `json:"tool_calls,omitempty"`
}

// ToolCallDelta is one fragment of a tool call, positioned by the server-supplied Index.
type ToolCallDelta struct {
	Index    int          `json:"index"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

// UnmarshalJSON accepts the "reasoning" alias some gateways use for reasoning text.
func (d *Delta) UnmarshalJSON(data []byte) error {
	type plain Delta
	var aux struct {
		plain
		ReasoningAlias string `json:"reasoning"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*d = Delta(aux.plain)
	if d.Reasoning == "" {
		d.Reasoning = aux.ReasoningAlias
	}
	return nil
}
