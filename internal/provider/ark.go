package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// ArkProvider serves Volcengine ARK endpoints.
type ArkProvider struct {
	chatModel model.ToolCallingChatModel
	models    []Model
}

// ArkConfig holds configuration for the ARK provider.
type ArkConfig struct {
	APIKey    string
	BaseURL   string
	Model     string // endpoint ID
	MaxTokens int
}

// NewArkProvider creates an ARK provider.
func NewArkProvider(ctx context.Context, config *ArkConfig) (*ArkProvider, error) {
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ARK_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ARK_API_KEY not set")
	}

	modelID := config.Model
	if modelID == "" {
		modelID = os.Getenv("ARK_MODEL_ID")
	}
	if modelID == "" {
		return nil, fmt.Errorf("ARK_MODEL_ID not set")
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("ARK_BASE_URL")
	}
	maxTokens := config.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	cfg := &ark.ChatModelConfig{
		APIKey:    apiKey,
		Model:     modelID,
		MaxTokens: &maxTokens,
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	chatModel, err := ark.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create ARK model: %w", err)
	}

	return &ArkProvider{
		chatModel: chatModel,
		models: []Model{{
			ID:              modelID,
			Name:            "ARK " + modelID,
			ProviderID:      "ark",
			ContextLength:   128000,
			MaxOutputTokens: maxTokens,
			SupportsTools:   true,
		}},
	}, nil
}

func (p *ArkProvider) ID() string                            { return "ark" }
func (p *ArkProvider) Name() string                          { return "ARK" }
func (p *ArkProvider) Models() []Model                       { return p.models }
func (p *ArkProvider) ChatModel() model.ToolCallingChatModel { return p.chatModel }
