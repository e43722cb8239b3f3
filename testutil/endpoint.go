// Package testutil provides test helpers for agentsy: a scripted chat-completion endpoint,
// SSE frame builders, a recording Renderer and mock tool handlers.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Response is one scripted answer of an Endpoint.
type Response struct {
	// Status defaults to 200.
	Status int
	// JSON is encoded as the body of a non-streamed answer.
	JSON any
	// Chunks are written and flushed one by one as a text/event-stream body. A chunk need
	// not be a whole frame.
	Chunks []string
	// Delay is slept before each chunk.
	Delay time.Duration
	// Hold, when set, blocks until it is closed or the client goes away: before a JSON body
	// is written, or after the last chunk.
	Hold chan struct{}
}

// Request is one request received by an Endpoint.
type Request struct {
	Header http.Header
	Body   []byte
	// Decoded is Body decoded as an OpenAI chat-completion request.
	Decoded openai.ChatCompletionRequest
}

// Endpoint is a fake OpenAI-compatible chat-completion server answering from a script.
// Requests beyond the script get a 500 error object.
type Endpoint struct {
	srv *httptest.Server

	mu       sync.Mutex
	script   []Response
	requests []Request
	started  chan struct{}
}

// NewEndpoint starts an Endpoint closed on test cleanup.
func NewEndpoint(t testing.TB, script ...Response) *Endpoint {
	t.Helper()
	e := &Endpoint{script: script, started: make(chan struct{}, 64)}
	e.srv = httptest.NewServer(http.HandlerFunc(e.serve))
	t.Cleanup(e.srv.Close)
	return e
}

// URL is the endpoint address to configure the agent with.
func (e *Endpoint) URL() string { return e.srv.URL + "/v1/chat/completions" }

// Client returns an HTTP client whose connections are closed with the server.
func (e *Endpoint) Client() *http.Client { return e.srv.Client() }

// Enqueue appends responses to the script.
func (e *Endpoint) Enqueue(responses ...Response) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.script = append(e.script, responses...)
}

// Requests returns the requests received so far.
func (e *Endpoint) Requests() []Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Request, len(e.requests))
	copy(out, e.requests)
	return out
}

// Started receives a value every time a request has been recorded.
func (e *Endpoint) Started() <-chan struct{} { return e.started }

func (e *Endpoint) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	rec := Request{Header: r.Header.Clone(), Body: body}
	_ = json.Unmarshal(body, &rec.Decoded)

	e.mu.Lock()
	e.requests = append(e.requests, rec)
	var resp Response
	scripted := len(e.script) > 0
	if scripted {
		resp = e.script[0]
		e.script = e.script[1:]
	}
	e.mu.Unlock()
	select {
	case e.started <- struct{}{}:
	default:
	}

	if !scripted {
		writeJSON(w, http.StatusInternalServerError, ErrorBody("unexpected request", "server_error"))
		return
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	if resp.Chunks == nil {
		if !hold(r, resp.Hold) {
			return
		}
		writeJSON(w, status, resp.JSON)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	flusher, _ := w.(http.Flusher)
	for _, chunk := range resp.Chunks {
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}
		if _, err := io.WriteString(w, chunk); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	hold(r, resp.Hold)
}

// hold reports false when the client went away while waiting.
func hold(r *http.Request, ch chan struct{}) bool {
	if ch == nil {
		return true
	}
	select {
	case <-ch:
		return true
	case <-r.Context().Done():
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
