package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/qent/sona-sub000/pkg/types"
)

var (
	// ErrProviderNotFound is returned for an unknown provider ID.
	ErrProviderNotFound = errors.New("provider not found")
	// ErrNoModels is returned when no provider is configured.
	ErrNoModels = errors.New("no models available")
)

// Registry manages the configured model providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	config    *types.Config
}

// NewRegistry creates an empty registry. config may be nil.
func NewRegistry(config *types.Config) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		config:    config,
	}
}

// Register adds a provider, replacing one with the same ID.
func (r *Registry) Register(provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider.ID()] = provider
}

// Get retrieves a provider by ID.
func (r *Registry) Get(providerID string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, ok := r.providers[providerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, providerID)
	}
	return provider, nil
}

// List returns the providers sorted by ID.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i].ID() < providers[j].ID() })
	return providers
}

// AllModels returns every model of every provider.
func (r *Registry) AllModels() []Model {
	var models []Model
	for _, p := range r.List() {
		models = append(models, p.Models()...)
	}
	return models
}

// Resolve finds the provider and model for a "provider/model" string.
// A bare model ID is looked up across all providers. A model missing
// from a known provider's catalog is passed through as is.
func (r *Registry) Resolve(name string) (Provider, Model, error) {
	providerID, modelID := ParseModelString(name)

	if providerID == "" {
		for _, p := range r.List() {
			for _, m := range p.Models() {
				if m.ID == modelID {
					return p, m, nil
				}
			}
		}
		return nil, Model{}, fmt.Errorf("%w: no provider serves %s", ErrProviderNotFound, modelID)
	}

	p, err := r.Get(providerID)
	if err != nil {
		return nil, Model{}, err
	}
	for _, m := range p.Models() {
		if m.ID == modelID {
			return p, m, nil
		}
	}
	return p, Model{ID: modelID, Name: modelID, ProviderID: providerID, SupportsTools: true}, nil
}

// DefaultModel returns the configured model, or the first model of the
// first provider.
func (r *Registry) DefaultModel() (Provider, Model, error) {
	if r.config != nil && r.config.Model != "" {
		return r.Resolve(r.config.Model)
	}
	for _, p := range r.List() {
		if models := p.Models(); len(models) > 0 {
			return p, models[0], nil
		}
	}
	return nil, Model{}, ErrNoModels
}

// InitializeProviders creates a provider for every configured backend
// with credentials. Backends that fail to initialize are logged and
// skipped. Unknown IDs with a base URL are treated as OpenAI-compatible.
func InitializeProviders(ctx context.Context, config *types.Config) (*Registry, error) {
	registry := NewRegistry(config)

	for _, id := range types.SortedKeys(config.Provider) {
		cfg := config.Provider[id]
		if cfg.Disable {
			continue
		}

		var (
			p   Provider
			err error
		)
		switch id {
		case "anthropic":
			p, err = NewAnthropicProvider(ctx, &AnthropicConfig{
				APIKey:    cfg.APIKey,
				BaseURL:   cfg.BaseURL,
				Model:     cfg.Model,
				MaxTokens: cfg.MaxTokens,
			})
		case "ark":
			p, err = NewArkProvider(ctx, &ArkConfig{
				APIKey:    cfg.APIKey,
				BaseURL:   cfg.BaseURL,
				Model:     cfg.Model,
				MaxTokens: cfg.MaxTokens,
			})
		case "openai":
			p, err = NewOpenAIProvider(ctx, &OpenAIConfig{
				APIKey:    cfg.APIKey,
				BaseURL:   cfg.BaseURL,
				Model:     cfg.Model,
				MaxTokens: cfg.MaxTokens,
			})
		default:
			if cfg.BaseURL == "" {
				log.Warn().Str("provider", id).Msg("unknown provider without baseURL, skipping")
				continue
			}
			p, err = NewOpenAIProvider(ctx, &OpenAIConfig{
				ID:        id,
				APIKey:    cfg.APIKey,
				BaseURL:   cfg.BaseURL,
				Model:     cfg.Model,
				MaxTokens: cfg.MaxTokens,
			})
		}
		if err != nil {
			log.Warn().Err(err).Str("provider", id).Msg("model provider unavailable")
			continue
		}
		registry.Register(p)
		log.Debug().Str("provider", id).Int("models", len(p.Models())).Msg("model provider ready")
	}

	return registry, nil
}
