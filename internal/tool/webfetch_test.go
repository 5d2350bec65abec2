package tool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func serve(t *testing.T, contentType, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func fetch(t *testing.T, tool *FetchTool, url, format string) (*Result, error) {
	t.Helper()
	input, _ := json.Marshal(FetchInput{URL: url, Format: format})
	return tool.Execute(context.Background(), input, testContext(""))
}

func TestFetchTool_Properties(t *testing.T) {
	tool := NewFetchTool(nil)
	if tool.ID() != "fetch_url" {
		t.Errorf("Expected ID 'fetch_url', got %q", tool.ID())
	}
	var params map[string]any
	if err := json.Unmarshal(tool.Parameters(), &params); err != nil {
		t.Fatalf("Parameters should be valid JSON: %v", err)
	}
}

func TestFetchTool_Validation(t *testing.T) {
	tool := NewFetchTool(nil)
	tests := []struct {
		name   string
		url    string
		format string
	}{
		{"ftp scheme", "ftp://example.com", "text"},
		{"no scheme", "example.com", "text"},
		{"bad format", "https://example.com", "pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := fetch(t, tool, tt.url, tt.format); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if _, err := tool.Execute(context.Background(), json.RawMessage(`{bad`), testContext("")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head><title>Test</title><style>body{color:red}</style></head>
<body>
<h1>Hello World</h1>
<p>This is a <strong>test</strong> paragraph.</p>
<ul>
<li>Item 1</li>
<li>Item 2</li>
</ul>
<script>alert('bad')</script>
</body>
</html>`

func TestFetchTool_MarkdownIsDefault(t *testing.T) {
	server := serve(t, "text/html; charset=utf-8", testPage)

	result, err := fetch(t, NewFetchTool(server.Client()), server.URL, "")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	for _, want := range []string{"# Hello World", "**test**", "- Item 1"} {
		if !strings.Contains(result.Output, want) {
			t.Errorf("Output should contain %q, got %q", want, result.Output)
		}
	}
	if strings.Contains(result.Output, "alert") {
		t.Error("scripts should be removed")
	}
}

func TestFetchTool_Text(t *testing.T) {
	server := serve(t, "text/html", testPage)

	result, err := fetch(t, NewFetchTool(server.Client()), server.URL, "text")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.Contains(result.Output, "Hello World") {
		t.Errorf("Output should contain heading text, got %q", result.Output)
	}
	for _, notWant := range []string{"<h1>", "alert", "color:red"} {
		if strings.Contains(result.Output, notWant) {
			t.Errorf("Output should not contain %q", notWant)
		}
	}
}

func TestFetchTool_Passthrough(t *testing.T) {
	html := serve(t, "text/html", "<p>raw</p>")
	plain := serve(t, "text/plain", "just text")

	result, err := fetch(t, NewFetchTool(html.Client()), html.URL, "html")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Output != "<p>raw</p>" {
		t.Errorf("html should pass through, got %q", result.Output)
	}

	result, err = fetch(t, NewFetchTool(plain.Client()), plain.URL, "markdown")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Output != "just text" {
		t.Errorf("non-HTML should pass through, got %q", result.Output)
	}
	if result.Metadata["contentType"] != "text/plain" {
		t.Errorf("unexpected metadata %v", result.Metadata)
	}
}

func TestFetchTool_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer server.Close()

	_, err := fetch(t, NewFetchTool(server.Client()), server.URL, "text")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("expected status error, got %v", err)
	}
}

func TestFetchTool_ContextCancel(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	input, _ := json.Marshal(FetchInput{URL: server.URL})
	start := time.Now()
	_, err := NewFetchTool(server.Client()).Execute(ctx, input, testContext(""))
	if err == nil {
		t.Fatal("expected error after cancel")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("request was not cancelled promptly")
	}
}

func TestExtractTextFromHTML(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		wantText string
		wantNot  []string
	}{
		{"basic text", "<html><body><p>Hello World</p></body></html>", "Hello World", nil},
		{"skip script", "<html><body><p>Text</p><script>alert('bad')</script></body></html>", "Text", []string{"alert", "bad"}},
		{"skip style", "<html><head><style>body{color:red}</style></head><body><p>Text</p></body></html>", "Text", []string{"color", "red"}},
		{"skip noscript", "<html><body><p>Text</p><noscript>Enable JS</noscript></body></html>", "Text", []string{"Enable JS"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := extractTextFromHTML(tt.html)
			if err != nil {
				t.Fatalf("extractTextFromHTML failed: %v", err)
			}
			if !strings.Contains(result, tt.wantText) {
				t.Errorf("Expected text %q not found in result: %q", tt.wantText, result)
			}
			for _, notWant := range tt.wantNot {
				if strings.Contains(result, notWant) {
					t.Errorf("Unexpected text %q found in result: %q", notWant, result)
				}
			}
		})
	}
}
