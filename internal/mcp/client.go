package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"

	"github.com/qent/sona-sub000/pkg/types"
)

// SDKConnector opens sessions with the official MCP SDK.
type SDKConnector struct {
	client     *sdkmcp.Client
	httpClient *http.Client
}

// NewSDKConnector creates a connector. A nil httpClient uses a default one.
func NewSDKConnector(httpClient *http.Client) *SDKConnector {
	return &SDKConnector{
		client: sdkmcp.NewClient(&sdkmcp.Implementation{
			Name:    "sona",
			Version: "1.0.0",
		}, nil),
		httpClient: httpClient,
	}
}

// Connect opens a session for cfg. http providers try streamable HTTP
// first and fall back to SSE. ctx bounds the handshake only.
func (c *SDKConnector) Connect(ctx context.Context, cfg types.ProviderConfig) (Conn, error) {
	switch cfg.Transport {
	case types.TransportHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("provider %s: url is required", cfg.Name)
		}
		httpClient := httpClientWithHeaders(c.httpClient, cfg.Headers)
		candidates := []struct {
			name      string
			transport sdkmcp.Transport
		}{
			{"streamable", &sdkmcp.StreamableClientTransport{Endpoint: cfg.URL, HTTPClient: httpClient}},
			{"sse", &sdkmcp.SSEClientTransport{Endpoint: cfg.URL, HTTPClient: httpClient}},
		}

		var errs []error
		for _, candidate := range candidates {
			conn, err := c.ConnectTransport(ctx, candidate.transport)
			if err == nil {
				log.Debug().Str("provider", cfg.Name).Str("transport", candidate.name).Msg("provider connected")
				return conn, nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			errs = append(errs, fmt.Errorf("%s transport: %w", candidate.name, err))
		}
		return nil, errors.Join(errs...)

	case types.TransportStdio, "":
		if cfg.Command == "" {
			return nil, fmt.Errorf("provider %s: empty command", cfg.Name)
		}
		cmd := exec.Command(cfg.Command, cfg.Args...)
		cmd.Dir = cfg.WorkingDir
		cmd.Env = os.Environ()
		for _, k := range types.SortedKeys(cfg.Env) {
			cmd.Env = append(cmd.Env, k+"="+cfg.Env[k])
		}
		return c.ConnectTransport(ctx, &sdkmcp.CommandTransport{Command: cmd})

	default:
		return nil, fmt.Errorf("provider %s: unknown transport %q", cfg.Name, cfg.Transport)
	}
}

// ConnectTransport opens a session over transport and lists its tools.
func (c *SDKConnector) ConnectTransport(ctx context.Context, transport sdkmcp.Transport) (Conn, error) {
	session, err := c.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	tools, err := listTools(ctx, session)
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	return &sdkConn{session: session, tools: tools}, nil
}

func listTools(ctx context.Context, session *sdkmcp.ClientSession) ([]Tool, error) {
	var (
		tools  []Tool
		params = &sdkmcp.ListToolsParams{}
	)
	for {
		result, err := session.ListTools(ctx, params)
		if err != nil {
			return nil, err
		}
		for _, t := range result.Tools {
			schema, err := json.Marshal(t.InputSchema)
			if err != nil || string(schema) == "null" {
				schema = json.RawMessage(`{"type":"object","properties":{}}`)
			}
			tools = append(tools, Tool{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: schema,
			})
		}
		if result.NextCursor == "" {
			return tools, nil
		}
		params.Cursor = result.NextCursor
	}
}

type sdkConn struct {
	session *sdkmcp.ClientSession
	tools   []Tool
}

func (c *sdkConn) Tools() []Tool {
	return append([]Tool(nil), c.tools...)
}

func (c *sdkConn) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	result, err := c.session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", err
	}

	text := contentText(result.Content)
	if result.IsError {
		if text == "" {
			text = "tool execution failed"
		}
		return "", fmt.Errorf("tool error: %s", text)
	}
	return text, nil
}

func (c *sdkConn) Close() error {
	return c.session.Close()
}

func contentText(contents []sdkmcp.Content) string {
	var parts []string
	for _, content := range contents {
		switch c := content.(type) {
		case *sdkmcp.TextContent:
			parts = append(parts, c.Text)
		case *sdkmcp.ImageContent:
			parts = append(parts, fmt.Sprintf("[image %s, %d bytes]", c.MIMEType, len(c.Data)))
		case *sdkmcp.AudioContent:
			parts = append(parts, fmt.Sprintf("[audio %s, %d bytes]", c.MIMEType, len(c.Data)))
		}
	}
	return strings.Join(parts, "\n")
}

func httpClientWithHeaders(base *http.Client, headers map[string]string) *http.Client {
	if base == nil {
		base = &http.Client{}
	}

	// copy so the caller's client is not mutated
	client := *base
	client.Timeout = 0

	if len(headers) == 0 {
		return &client
	}

	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = &headerRoundTripper{headers: headers, next: transport}
	return &client
}

type headerRoundTripper struct {
	headers map[string]string
	next    http.RoundTripper
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	for k, v := range h.headers {
		cloned.Header.Set(k, v)
	}
	return h.next.RoundTrip(cloned)
}
