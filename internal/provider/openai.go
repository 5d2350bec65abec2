package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

// OpenAIProvider serves OpenAI and OpenAI-compatible models.
type OpenAIProvider struct {
	chatModel model.ToolCallingChatModel
	models    []Model
	id        string
}

// OpenAIConfig holds configuration for the OpenAI provider.
type OpenAIConfig struct {
	// ID is the provider identifier, "openai" when empty. Compatible
	// backends (ollama, vllm) register under their own ID.
	ID        string
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// NewOpenAIProvider creates an OpenAI provider.
func NewOpenAIProvider(ctx context.Context, config *OpenAIConfig) (*OpenAIProvider, error) {
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	maxTokens := config.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	modelID := config.Model
	if modelID == "" {
		modelID = "gpt-4o"
	}
	id := config.ID
	if id == "" {
		id = "openai"
	}

	cfg := &openai.ChatModelConfig{
		APIKey:              apiKey,
		Model:               modelID,
		MaxCompletionTokens: &maxTokens,
	}
	if config.BaseURL != "" {
		cfg.BaseURL = config.BaseURL
	}

	chatModel, err := openai.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI model: %w", err)
	}

	return &OpenAIProvider{
		chatModel: chatModel,
		models:    openAIModels(id, modelID),
		id:        id,
	}, nil
}

func (p *OpenAIProvider) ID() string                            { return p.id }
func (p *OpenAIProvider) Name() string                          { return "OpenAI" }
func (p *OpenAIProvider) Models() []Model                       { return p.models }
func (p *OpenAIProvider) ChatModel() model.ToolCallingChatModel { return p.chatModel }

func openAIModels(providerID, configured string) []Model {
	models := []Model{
		{ID: "gpt-4o", Name: "GPT-4o", ContextLength: 128000, MaxOutputTokens: 16384, SupportsTools: true},
		{ID: "gpt-4o-mini", Name: "GPT-4o Mini", ContextLength: 128000, MaxOutputTokens: 16384, SupportsTools: true},
		{ID: "gpt-5", Name: "GPT-5", ContextLength: 272000, MaxOutputTokens: 128000, SupportsTools: true},
		{ID: "gpt-5-mini", Name: "GPT-5 Mini", ContextLength: 272000, MaxOutputTokens: 128000, SupportsTools: true},
	}
	return withConfigured(providerID, configured, models)
}

// withConfigured stamps providerID on every model and appends the
// configured model when the catalog does not know it.
func withConfigured(providerID, configured string, models []Model) []Model {
	known := false
	for i := range models {
		models[i].ProviderID = providerID
		if models[i].ID == configured {
			known = true
		}
	}
	if !known && configured != "" {
		models = append(models, Model{
			ID:            configured,
			Name:          configured,
			ProviderID:    providerID,
			SupportsTools: true,
		})
	}
	return models
}
