package event

import "github.com/qent/sona-sub000/pkg/types"

// EventType represents the type of event.
type EventType string

const (
	SessionUpdated     EventType = "session.updated"
	ChatCreated        EventType = "chat.created"
	ChatDeleted        EventType = "chat.deleted"
	MessagePersisted   EventType = "message.persisted"
	PermissionRequired EventType = "permission.required"
	PermissionResolved EventType = "permission.resolved"
	ProviderStatus     EventType = "provider.status"
	ConfigReloaded     EventType = "config.reloaded"
)

// SessionUpdatedData is the data for session.updated events.
type SessionUpdatedData struct {
	Session types.ChatSession `json:"session"`
}

// ChatData is the data for chat.created and chat.deleted events.
type ChatData struct {
	ChatID string `json:"chatID"`
}

// MessagePersistedData is the data for message.persisted events.
type MessagePersistedData struct {
	Message types.TurnMessage `json:"message"`
}

// PermissionRequiredData is the data for permission.required events.
type PermissionRequiredData struct {
	RequestID string `json:"requestID"`
	ChatID    string `json:"chatID"`
	ToolName  string `json:"toolName"`
	Preview   string `json:"preview,omitempty"`
}

// PermissionResolvedData is the data for permission.resolved events.
type PermissionResolvedData struct {
	RequestID string `json:"requestID"`
	ChatID    string `json:"chatID"`
	ToolName  string `json:"toolName"`
	Allow     bool   `json:"allow"`
	Persist   bool   `json:"persist"`
}

// ProviderStatusData is the data for provider.status events.
type ProviderStatusData struct {
	Providers []types.ProviderStatus `json:"providers"`
}

// ConfigReloadedData is the data for config.reloaded events.
type ConfigReloadedData struct {
	Providers []string `json:"providers"`
}
