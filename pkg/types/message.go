package types

// Role identifies the author of a TurnMessage.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// TurnMessage is one entry of a chat transcript.
type TurnMessage struct {
	ID         string     `json:"id"`
	ChatID     string     `json:"chatID"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ModelName  string     `json:"modelName,omitempty"`
	TokenUsage TokenUsage `json:"tokenUsage"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallID,omitempty"` // set on tool results
	ToolName   string     `json:"toolName,omitempty"`   // set on tool results
	CreatedAt  int64      `json:"createdAt"`
}

// Clone returns a copy that shares no slices with m.
func (m TurnMessage) Clone() TurnMessage {
	out := m
	if m.ToolCalls != nil {
		out.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	}
	return out
}

// HasToolCall reports whether the message already records the call id.
func (m TurnMessage) HasToolCall(id string) bool {
	for _, tc := range m.ToolCalls {
		if tc.ID == id {
			return true
		}
	}
	return false
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ArgumentsJSON string `json:"arguments"`
}

// TokenUsage counts prompt and completion tokens.
type TokenUsage struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
}

// Add returns u + o.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{Input: u.Input + o.Input, Output: u.Output + o.Output}
}

// Sub returns u - o, clamped at zero.
func (u TokenUsage) Sub(o TokenUsage) TokenUsage {
	out := TokenUsage{Input: u.Input - o.Input, Output: u.Output - o.Output}
	if out.Input < 0 {
		out.Input = 0
	}
	if out.Output < 0 {
		out.Output = 0
	}
	return out
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int64 {
	return u.Input + u.Output
}

// ToolDecision is the outcome of one permission negotiation.
type ToolDecision struct {
	Allow   bool `json:"allow"`
	Persist bool `json:"persist"`
}
