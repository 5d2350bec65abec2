package testutil

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/qent/sona-sub000/pkg/types"
)

// SSEEvent is one server-sent event. Type is the SSE event name.
type SSEEvent struct {
	Type string
	Data json.RawMessage
}

// BusEvent is the payload of events relayed from the event bus.
type BusEvent struct {
	Seq  uint64          `json:"seq"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Bus decodes a relayed bus event.
func (evt *SSEEvent) Bus() (*BusEvent, error) {
	var b BusEvent
	if err := json.Unmarshal(evt.Data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Session decodes a /session/event snapshot.
func (evt *SSEEvent) Session() (*types.ChatSession, error) {
	var cs types.ChatSession
	if err := json.Unmarshal(evt.Data, &cs); err != nil {
		return nil, err
	}
	return &cs, nil
}

// SSEClient reads a server-sent event stream.
type SSEClient struct {
	BaseURL    string
	HTTPClient *http.Client

	mu       sync.Mutex
	events   []SSEEvent
	eventsCh chan SSEEvent
	cancel   context.CancelFunc
}

// NewSSEClient creates an SSE client for baseURL.
func NewSSEClient(baseURL string) *SSEClient {
	return &SSEClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{},
		eventsCh:   make(chan SSEEvent, 256),
	}
}

// Connect opens path and reads events in the background.
func (c *SSEClient) Connect(ctx context.Context, path string) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		return fmt.Errorf("unexpected content type: %s", ct)
	}

	go c.readEvents(ctx, resp.Body)
	return nil
}

func (c *SSEClient) readEvents(ctx context.Context, body io.ReadCloser) {
	defer close(c.eventsCh)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var eventType string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				evt := SSEEvent{Type: eventType, Data: json.RawMessage(data.String())}
				c.mu.Lock()
				c.events = append(c.events, evt)
				c.mu.Unlock()
				select {
				case c.eventsCh <- evt:
				case <-ctx.Done():
					return
				}
			}
			eventType = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// heartbeat
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
}

// WaitForEvent returns the next event named eventType.
func (c *SSEClient) WaitForEvent(eventType string, timeout time.Duration) (*SSEEvent, error) {
	return c.WaitFor(func(e SSEEvent) bool { return e.Type == eventType }, timeout)
}

// WaitFor returns the next event matching fn.
func (c *SSEClient) WaitFor(fn func(SSEEvent) bool, timeout time.Duration) (*SSEEvent, error) {
	deadline := time.After(timeout)
	for {
		select {
		case evt, ok := <-c.eventsCh:
			if !ok {
				return nil, fmt.Errorf("connection closed")
			}
			if fn(evt) {
				return &evt, nil
			}
		case <-deadline:
			return nil, fmt.Errorf("timeout waiting for event")
		}
	}
}

// CountEventType counts received events named eventType.
func (c *SSEClient) CountEventType(eventType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, evt := range c.events {
		if evt.Type == eventType {
			n++
		}
	}
	return n
}

// Close closes the connection.
func (c *SSEClient) Close() {
	if c.cancel != nil {
		c.cancel()
	}
}
