package provider_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// mockReply is one scripted chat completion.
type mockReply struct {
	Content   string
	ToolCalls []mockToolCall
	Status    int // non-2xx fails the request
}

type mockToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// mockLLMServer mimics the streaming OpenAI chat completions API. Replies
// are served in order; the last one repeats.
type mockLLMServer struct {
	server *httptest.Server

	mu       sync.Mutex
	replies  []mockReply
	requests []map[string]any
}

func newMockLLMServer(replies ...mockReply) *mockLLMServer {
	m := &mockLLMServer{replies: replies}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", m.handleChatCompletions)
	mux.HandleFunc("/chat/completions", m.handleChatCompletions)
	m.server = httptest.NewServer(mux)
	return m
}

func (m *mockLLMServer) URL() string { return m.server.URL + "/v1" }

func (m *mockLLMServer) Close() { m.server.Close() }

func (m *mockLLMServer) Requests() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]any(nil), m.requests...)
}

func (m *mockLLMServer) next() mockReply {
	if len(m.replies) == 0 {
		return mockReply{Content: "I understand your request."}
	}
	r := m.replies[0]
	if len(m.replies) > 1 {
		m.replies = m.replies[1:]
	}
	return r
}

func (m *mockLLMServer) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	reply := m.next()
	m.mu.Unlock()

	if reply.Status >= 300 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(reply.Status)
		fmt.Fprintf(w, `{"error":{"message":"mock failure %d","type":"server_error"}}`, reply.Status)
		return
	}
	m.writeStream(w, reply)
}

func (m *mockLLMServer) writeStream(w http.ResponseWriter, reply mockReply) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)

	send := func(delta map[string]any, finish any) {
		chunk := map[string]any{
			"id":      "chatcmpl-mock",
			"object":  "chat.completion.chunk",
			"created": 1700000000,
			"model":   "mock-gpt",
			"choices": []map[string]any{{
				"index":         0,
				"delta":         delta,
				"finish_reason": finish,
			}},
		}
		data, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", data)
		if flusher != nil {
			flusher.Flush()
		}
	}

	send(map[string]any{"role": "assistant"}, nil)

	words := strings.Fields(reply.Content)
	for i, word := range words {
		if i < len(words)-1 {
			word += " "
		}
		send(map[string]any{"content": word}, nil)
	}

	finish := "stop"
	for i, tc := range reply.ToolCalls {
		send(map[string]any{"tool_calls": []map[string]any{{
			"index": i,
			"id":    tc.ID,
			"type":  "function",
			"function": map[string]any{
				"name":      tc.Name,
				"arguments": tc.Arguments,
			},
		}}}, nil)
		finish = "tool_calls"
	}

	send(map[string]any{}, finish)
	fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}
