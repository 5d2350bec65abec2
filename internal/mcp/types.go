// Package mcp connects to external tool providers over the Model Context
// Protocol and keeps one independent connection state machine per
// provider.
package mcp

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/qent/sona-sub000/pkg/types"
)

var (
	// ErrProviderNotFound is returned for an unknown provider name.
	ErrProviderNotFound = errors.New("provider not found")
	// ErrNotConnected is returned when calling a provider that is not connected.
	ErrNotConnected = errors.New("provider not connected")
)

// Tool is a tool advertised by a provider, under its provider-side name.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Conn is a live provider session.
type Conn interface {
	// Tools returns the tools advertised when the session was opened.
	Tools() []Tool
	// Call invokes a tool by its provider-side name.
	Call(ctx context.Context, name string, args map[string]any) (string, error)
	Close() error
}

// Connector opens provider sessions.
type Connector interface {
	Connect(ctx context.Context, cfg types.ProviderConfig) (Conn, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, cfg types.ProviderConfig) (Conn, error)

func (f ConnectorFunc) Connect(ctx context.Context, cfg types.ProviderConfig) (Conn, error) {
	return f(ctx, cfg)
}

// Repository persists which providers and tools are enabled.
type Repository interface {
	List(ctx context.Context) ([]types.ProviderConfig, error)
	LoadEnabled(ctx context.Context) (map[string]bool, error)
	SaveEnabled(ctx context.Context, enabled map[string]bool) error
	LoadDisabledTools(ctx context.Context) (map[string]map[string]bool, error)
	SaveDisabledTools(ctx context.Context, disabled map[string]map[string]bool) error
}

// ToolName returns the name a provider tool is exposed under.
func ToolName(provider, tool string) string {
	return sanitizeToolName(provider) + "_" + sanitizeToolName(tool)
}

// sanitizeToolName replaces non-alphanumeric chars with underscore.
func sanitizeToolName(name string) string {
	out := []rune(name)
	for i, r := range out {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			out[i] = '_'
		}
	}
	return string(out)
}
