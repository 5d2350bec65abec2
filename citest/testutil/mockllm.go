package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockLLMServer mimics the OpenAI streaming chat completions API.
//
// Replies are chosen from the last message of each request:
//   - "read <path>" calls read_file with filePath <path>
//   - a tool result is answered with "Read: <result>"
//   - "flaky" fails the first request with HTTP 500
//   - "hello" gets a greeting; anything else a stock answer
type MockLLMServer struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []MockRequest
	failed   map[string]bool
}

// MockRequest records one chat completion request.
type MockRequest struct {
	Timestamp time.Time
	Path      string
	Body      map[string]any
}

// NewMockLLMServer starts a mock LLM server.
func NewMockLLMServer() *MockLLMServer {
	m := &MockLLMServer{failed: make(map[string]bool)}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", m.handleChatCompletions)
	mux.HandleFunc("/chat/completions", m.handleChatCompletions)

	m.server = httptest.NewServer(mux)
	return m
}

// URL returns the base URL to configure as the provider's baseURL.
func (m *MockLLMServer) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockLLMServer) Close() {
	m.server.Close()
}

// Requests returns a copy of the recorded requests.
func (m *MockLLMServer) Requests() []MockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockRequest(nil), m.requests...)
}

type mockResponse struct {
	content  string
	toolCall *mockToolCall
}

type mockToolCall struct {
	id        string
	name      string
	arguments string
}

func (m *MockLLMServer) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	role, content := lastMessage(req)

	m.mu.Lock()
	m.requests = append(m.requests, MockRequest{Timestamp: time.Now(), Path: r.URL.Path, Body: req})
	fail := role == "user" && strings.Contains(strings.ToLower(content), "flaky") && !m.failed[content]
	if fail {
		m.failed[content] = true
	}
	m.mu.Unlock()

	if fail {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"upstream overloaded","type":"server_error"}}`))
		return
	}

	m.writeStreamingResponse(w, respond(role, content))
}

// lastMessage returns the role and text content of the final message.
func lastMessage(req map[string]any) (string, string) {
	messages, ok := req["messages"].([]any)
	if !ok || len(messages) == 0 {
		return "", ""
	}
	msg, ok := messages[len(messages)-1].(map[string]any)
	if !ok {
		return "", ""
	}
	role, _ := msg["role"].(string)
	content, _ := msg["content"].(string)
	return role, content
}

func respond(role, content string) *mockResponse {
	if role == "tool" {
		return &mockResponse{content: "Read: " + strings.TrimSpace(content)}
	}

	lower := strings.ToLower(content)
	if path, ok := strings.CutPrefix(lower, "read "); ok {
		args, _ := json.Marshal(map[string]string{"filePath": strings.TrimSpace(content[len(content)-len(path):])})
		return &mockResponse{toolCall: &mockToolCall{
			id:        "call_read_001",
			name:      "read_file",
			arguments: string(args),
		}}
	}

	switch {
	case strings.Contains(lower, "hello"):
		return &mockResponse{content: "Hello! How can I help you today?"}
	case strings.Contains(lower, "flaky"):
		return &mockResponse{content: "Recovered answer."}
	default:
		return &mockResponse{content: "I understand your request."}
	}
}

func (m *MockLLMServer) writeStreamingResponse(w http.ResponseWriter, resp *mockResponse) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	send := func(delta map[string]any, finish string) {
		choice := map[string]any{"index": 0, "delta": delta}
		if finish != "" {
			choice["finish_reason"] = finish
		}
		data, _ := json.Marshal(map[string]any{
			"id":      "chatcmpl-mock",
			"object":  "chat.completion.chunk",
			"created": time.Now().Unix(),
			"model":   "mock-gpt",
			"choices": []any{choice},
		})
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	send(map[string]any{"role": "assistant"}, "")

	finish := "stop"
	if tc := resp.toolCall; tc != nil {
		send(map[string]any{
			"tool_calls": []any{map[string]any{
				"index": 0,
				"id":    tc.id,
				"type":  "function",
				"function": map[string]any{
					"name":      tc.name,
					"arguments": tc.arguments,
				},
			}},
		}, "")
		finish = "tool_calls"
	} else {
		words := strings.Fields(resp.content)
		for i, word := range words {
			if i < len(words)-1 {
				word += " "
			}
			send(map[string]any{"content": word}, "")
			time.Sleep(5 * time.Millisecond)
		}
	}

	send(map[string]any{}, finish)
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}
