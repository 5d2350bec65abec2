package types

import (
	"encoding/json"
	"sort"
)

// Transport is the connection kind of an external tool provider.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
)

// ProviderConfig describes one external tool provider.
type ProviderConfig struct {
	Name       string            `json:"name"`
	Transport  Transport         `json:"transport"`
	Command    string            `json:"command,omitempty"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	URL        string            `json:"url,omitempty"`
	WorkingDir string            `json:"workingDir,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Timeout    int               `json:"timeout,omitempty"` // milliseconds
}

// ProviderState is the connection state of a provider.
type ProviderState string

const (
	ProviderDisabled   ProviderState = "disabled"
	ProviderConnecting ProviderState = "connecting"
	ProviderConnected  ProviderState = "connected"
	ProviderFailed     ProviderState = "failed"
)

// ProviderStatus is a read-only view of one provider.
type ProviderStatus struct {
	Name          string        `json:"name"`
	State         ProviderState `json:"state"`
	Cause         string        `json:"cause,omitempty"` // set when State is failed
	Tools         []ToolSpec    `json:"tools"`
	DisabledTools []string      `json:"disabledTools"`
}

// IsToolDisabled reports whether the provider-local tool name is disabled.
func (s ProviderStatus) IsToolDisabled(name string) bool {
	for _, t := range s.DisabledTools {
		if t == name {
			return true
		}
	}
	return false
}

// ToolSpec describes a callable tool.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Provider    string          `json:"provider,omitempty"` // empty for local tools
	Original    string          `json:"original,omitempty"` // provider-side tool name
}

// SortedKeys returns the keys of a set in ascending order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
