// Package provider adapts model backends to eino chat models and drives
// streamed, tool-calling model turns.
package provider

import (
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/qent/sona-sub000/pkg/types"
)

// Provider is a model backend.
type Provider interface {
	// ID returns the provider identifier used in "provider/model" strings.
	ID() string

	// Name returns the human-readable provider name.
	Name() string

	// Models returns the models this provider serves.
	Models() []Model

	// ChatModel returns the eino chat model.
	ChatModel() model.ToolCallingChatModel
}

// Model describes one model offered by a provider.
type Model struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	ProviderID      string `json:"providerID"`
	ContextLength   int    `json:"contextLength"`
	MaxOutputTokens int    `json:"maxOutputTokens"`
	SupportsTools   bool   `json:"supportsTools"`
}

// FullName returns "provider/model".
func (m Model) FullName() string {
	return m.ProviderID + "/" + m.ID
}

// ParseModelString parses "provider/model" format.
func ParseModelString(s string) (providerID, modelID string) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", s
}

// ToEinoMessages converts a transcript to eino messages, prefixed with
// systemPrompt when it is not empty. Empty assistant placeholders are
// skipped. Tool requests without a recorded result, and results without a
// recorded request, are dropped so the model never sees a broken pairing.
func ToEinoMessages(systemPrompt string, history []types.TurnMessage) []*schema.Message {
	requested := make(map[string]bool)
	answered := make(map[string]bool)
	for _, msg := range history {
		switch msg.Role {
		case types.RoleAssistant:
			for _, tc := range msg.ToolCalls {
				requested[tc.ID] = true
			}
		case types.RoleTool:
			if msg.ToolCallID != "" {
				answered[msg.ToolCallID] = true
			}
		}
	}

	result := make([]*schema.Message, 0, len(history)+1)
	if systemPrompt != "" {
		result = append(result, schema.SystemMessage(systemPrompt))
	}

	for _, msg := range history {
		switch msg.Role {
		case types.RoleUser:
			result = append(result, schema.UserMessage(msg.Content))

		case types.RoleAssistant:
			var toolCalls []schema.ToolCall
			for _, tc := range msg.ToolCalls {
				if !answered[tc.ID] {
					continue
				}
				toolCalls = append(toolCalls, schema.ToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: schema.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.ArgumentsJSON,
					},
				})
			}
			if msg.Content == "" && len(toolCalls) == 0 {
				continue
			}
			result = append(result, schema.AssistantMessage(msg.Content, toolCalls))

		case types.RoleTool:
			if !requested[msg.ToolCallID] {
				continue
			}
			result = append(result, schema.ToolMessage(msg.Content, msg.ToolCallID))
		}
	}
	return result
}

// FromEinoToolCalls converts eino tool calls to transcript tool calls.
func FromEinoToolCalls(calls []schema.ToolCall) []types.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]types.ToolCall, len(calls))
	for i, tc := range calls {
		out[i] = types.ToolCall{
			ID:            tc.ID,
			Name:          tc.Function.Name,
			ArgumentsJSON: tc.Function.Arguments,
		}
	}
	return out
}

func usageOf(msg *schema.Message) types.TokenUsage {
	if msg == nil || msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
		return types.TokenUsage{}
	}
	return types.TokenUsage{
		Input:  int64(msg.ResponseMeta.Usage.PromptTokens),
		Output: int64(msg.ResponseMeta.Usage.CompletionTokens),
	}
}
