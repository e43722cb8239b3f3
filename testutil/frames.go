package testutil

import (
	"encoding/json"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// DoneFrame terminates a stream.
const DoneFrame = "data: [DONE]\n\n"

// KeepAliveFrame is the comment frame some gateways send while the model is thinking.
const KeepAliveFrame = ": OPENROUTER PROCESSING\n\n"

// Frame returns v encoded as one "data:" frame.
func Frame(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return "data: " + string(data) + "\n\n"
}

// Frames encodes each value as a frame and terminates the stream with DoneFrame.
func Frames(values ...any) []string {
	out := make([]string, 0, len(values)+1)
	for _, v := range values {
		out = append(out, Frame(v))
	}
	return append(out, DoneFrame)
}

// Split cuts the concatenated chunks into pieces of at most n bytes, ignoring the
// original boundaries.
func Split(chunks []string, n int) []string {
	all := strings.Join(chunks, "")
	var out []string
	for len(all) > n {
		out = append(out, all[:n])
		all = all[n:]
	}
	if all != "" {
		out = append(out, all)
	}
	return out
}

// ContentChunk is a stream chunk carrying assistant text.
func ContentChunk(content string) openai.ChatCompletionStreamResponse {
	return streamChunk(openai.ChatCompletionStreamChoiceDelta{Content: content})
}

// RoleChunk is the first chunk of a stream, announcing the assistant role.
func RoleChunk() openai.ChatCompletionStreamResponse {
	return streamChunk(openai.ChatCompletionStreamChoiceDelta{Role: openai.ChatMessageRoleAssistant})
}

// ToolCallChunk is a stream chunk carrying one tool-call fragment at index. id and name
// are normally only sent with the first fragment.
func ToolCallChunk(index int, id, name, args string) openai.ChatCompletionStreamResponse {
	call := openai.ToolCall{
		Index:    &index,
		ID:       id,
		Function: openai.FunctionCall{Name: name, Arguments: args},
	}
	if id != "" {
		call.Type = openai.ToolTypeFunction
	}
	return streamChunk(openai.ChatCompletionStreamChoiceDelta{ToolCalls: []openai.ToolCall{call}})
}

// ReasoningChunk is a stream chunk carrying reasoning text under key
// ("reasoning_content" or "reasoning").
func ReasoningChunk(key, text string) map[string]any {
	return map[string]any{
		"object":  "chat.completion.chunk",
		"choices": []any{map[string]any{"index": 0, "delta": map[string]any{key: text}}},
	}
}

// ErrorBody is an OpenAI error response.
func ErrorBody(message, typ string) map[string]any {
	return map[string]any{"error": map[string]any{"message": message, "type": typ, "code": nil}}
}

// Completion is a non-streamed response with one assistant message.
func Completion(content string, calls ...openai.ToolCall) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		ID:     "chatcmpl-test",
		Object: "chat.completion",
		Model:  "test-model",
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Role:      openai.ChatMessageRoleAssistant,
				Content:   content,
				ToolCalls: calls,
			},
			FinishReason: finishReason(len(calls) > 0),
		}},
	}
}

// Call is a complete tool call for Completion.
func Call(id, name, args string) openai.ToolCall {
	return openai.ToolCall{
		ID:       id,
		Type:     openai.ToolTypeFunction,
		Function: openai.FunctionCall{Name: name, Arguments: args},
	}
}

func finishReason(toolCalls bool) openai.FinishReason {
	if toolCalls {
		return openai.FinishReasonToolCalls
	}
	return openai.FinishReasonStop
}

func streamChunk(delta openai.ChatCompletionStreamChoiceDelta) openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{
		ID:      "chatcmpl-test",
		Object:  "chat.completion.chunk",
		Model:   "test-model",
		Choices: []openai.ChatCompletionStreamChoice{{Index: 0, Delta: delta}},
	}
}
