package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino/components/model"
)

// AnthropicProvider serves Claude models.
type AnthropicProvider struct {
	chatModel model.ToolCallingChatModel
	models    []Model
}

// AnthropicConfig holds configuration for the Anthropic provider.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(ctx context.Context, config *AnthropicConfig) (*AnthropicProvider, error) {
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}

	modelID := config.Model
	if modelID == "" {
		modelID = "claude-sonnet-4-20250514"
	}
	maxTokens := config.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}

	cfg := &claude.Config{
		APIKey:    apiKey,
		Model:     modelID,
		MaxTokens: maxTokens,
	}
	if config.BaseURL != "" {
		cfg.BaseURL = &config.BaseURL
	}

	chatModel, err := claude.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Claude model: %w", err)
	}

	return &AnthropicProvider{
		chatModel: chatModel,
		models:    anthropicModels(modelID),
	}, nil
}

func (p *AnthropicProvider) ID() string                            { return "anthropic" }
func (p *AnthropicProvider) Name() string                          { return "Anthropic" }
func (p *AnthropicProvider) Models() []Model                       { return p.models }
func (p *AnthropicProvider) ChatModel() model.ToolCallingChatModel { return p.chatModel }

func anthropicModels(configured string) []Model {
	return withConfigured("anthropic", configured, []Model{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextLength: 200000, MaxOutputTokens: 64000, SupportsTools: true},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextLength: 200000, MaxOutputTokens: 32000, SupportsTools: true},
		{ID: "claude-haiku-4-5", Name: "Claude 4.5 Haiku", ContextLength: 200000, MaxOutputTokens: 8192, SupportsTools: true},
	})
}
