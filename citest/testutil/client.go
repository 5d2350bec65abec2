package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/qent/sona-sub000/internal/server"
	"github.com/qent/sona-sub000/pkg/types"
)

// TestClient calls the sona HTTP API.
type TestClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewTestClient creates a client for baseURL.
func NewTestClient(baseURL string) *TestClient {
	return &TestClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Response is a buffered HTTP response.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// JSON unmarshals the body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// ErrorCode returns the API error code of a failed response.
func (r *Response) ErrorCode() string {
	var e server.ErrorResponse
	if err := r.JSON(&e); err != nil {
		return ""
	}
	return e.Error.Code
}

// Get performs a GET request.
func (c *TestClient) Get(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with an optional JSON body.
func (c *TestClient) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// Delete performs a DELETE request.
func (c *TestClient) Delete(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

func (c *TestClient) do(ctx context.Context, method, path string, body any) (*Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Headers: resp.Header, Body: data}, nil
}

// Session returns the live session snapshot.
func (c *TestClient) Session(ctx context.Context) (*types.ChatSession, error) {
	resp, err := c.Get(ctx, "/session")
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("GET /session: status %d", resp.StatusCode)
	}
	var cs types.ChatSession
	if err := resp.JSON(&cs); err != nil {
		return nil, err
	}
	return &cs, nil
}

// Send posts a user message.
func (c *TestClient) Send(ctx context.Context, text string) (*Response, error) {
	return c.Post(ctx, "/session/message", server.SendMessageRequest{Text: text})
}

// ResolvePermission answers the pending permission question.
func (c *TestClient) ResolvePermission(ctx context.Context, allow, persist bool) (*Response, error) {
	return c.Post(ctx, "/session/permission", server.PermissionRequest{Allow: allow, Persist: persist})
}

// NewChat resets the session to an empty chat.
func (c *TestClient) NewChat(ctx context.Context) error {
	resp, err := c.Post(ctx, "/chat", nil)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("POST /chat: status %d", resp.StatusCode)
	}
	return nil
}

// Chats lists stored chats.
func (c *TestClient) Chats(ctx context.Context) ([]types.ChatSummary, error) {
	resp, err := c.Get(ctx, "/chat")
	if err != nil {
		return nil, err
	}
	var chats []types.ChatSummary
	if err := resp.JSON(&chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// Chat returns a stored chat with its messages.
func (c *TestClient) Chat(ctx context.Context, id string) (*server.ChatResponse, error) {
	resp, err := c.Get(ctx, "/chat/"+id)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("GET /chat/%s: status %d", id, resp.StatusCode)
	}
	var chat server.ChatResponse
	if err := resp.JSON(&chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// Roles returns the roles of messages in order.
func Roles(messages []types.TurnMessage) []types.Role {
	out := make([]types.Role, len(messages))
	for i, m := range messages {
		out[i] = m.Role
	}
	return out
}
