package agentsy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxErrorBody bounds how much of a failed response is read for the error message.
const maxErrorBody = 64 << 10

// HTTPDoer is the subset of *http.Client used to reach the endpoint.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// chatRequest is the body of one chat-completion request.
type chatRequest struct {
	Model    string     `json:"model"`
	Messages []Message  `json:"messages"`
	Tools    []toolSpec `json:"tools,omitempty"`
	Stream   bool       `json:"stream"`
}

type toolSpec struct {
	Type     string         `json:"type"`
	Function ToolDefinition `json:"function"`
}

func toolSpecs(defs []ToolDefinition) []toolSpec {
	if len(defs) == 0 {
		return nil
	}
	out := make([]toolSpec, len(defs))
	for i, def := range defs {
		out[i] = toolSpec{Type: "function", Function: def}
	}
	return out
}

// completionResponse is the body of a non-streamed response.
type completionResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Error *errorBody `json:"error,omitempty"`
}

// errorBody is the OpenAI-style error object. code is a string or a number depending on
// the server.
type errorBody struct {
	Message string          `json:"message"`
	Type    string          `json:"type"`
	Code    json.RawMessage `json:"code"`
}

func (e *errorBody) apiError(status int) *APIError {
	code := strings.Trim(string(e.Code), `"`)
	if code == "null" {
		code = ""
	}
	return &APIError{StatusCode: status, Message: e.Message, Type: e.Type, Code: code}
}

// post sends req and returns the response of a 2xx answer. Other statuses become *APIError.
func (a *Agent) post(ctx context.Context, req chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	for key, values := range a.headers {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	} else {
		httpReq.Header.Set("Accept", "application/json")
	}

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}
	return resp, nil
}

func readAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body struct {
		Error *errorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != nil {
		return body.Error.apiError(resp.StatusCode)
	}
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}

// readCompletion decodes a non-streamed response and returns the first choice's message.
func readCompletion(body io.Reader) (Message, error) {
	var resp completionResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return Message{}, fmt.Errorf("decode chat response: %w", err)
	}
	if resp.Error != nil {
		return Message{}, resp.Error.apiError(0)
	}
	if len(resp.Choices) == 0 {
		return Message{}, ErrEmptyResponse
	}
	return resp.Choices[0].Message, nil
}
