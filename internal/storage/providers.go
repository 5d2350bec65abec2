package storage

import (
	"context"
	"errors"
	"sort"

	"github.com/qent/sona-sub000/pkg/types"
)

var (
	enabledPath       = []string{"provider", "enabled"}
	disabledToolsPath = []string{"provider", "disabled-tools"}
)

// ConfigSource yields the currently configured tool providers.
type ConfigSource func(ctx context.Context) ([]types.ProviderConfig, error)

// StaticSource serves a fixed provider list.
func StaticSource(configs map[string]types.ProviderConfig) ConfigSource {
	return func(ctx context.Context) ([]types.ProviderConfig, error) {
		out := make([]types.ProviderConfig, 0, len(configs))
		for _, name := range types.SortedKeys(configs) {
			cfg := configs[name]
			cfg.Name = name
			out = append(out, cfg)
		}
		return out, nil
	}
}

// ProviderRepository persists provider enablement and per-tool disablement.
// Provider definitions come from the config source.
type ProviderRepository struct {
	store  *Storage
	source ConfigSource
}

// enabledDoc records the enabled set plus every provider name seen when it
// was saved, so providers added to config later start enabled.
type enabledDoc struct {
	Enabled []string `json:"enabled"`
	Known   []string `json:"known"`
}

// NewProviderRepository creates a repository backed by store.
func NewProviderRepository(store *Storage, source ConfigSource) *ProviderRepository {
	return &ProviderRepository{store: store, source: source}
}

// List returns the configured providers ordered by name.
func (r *ProviderRepository) List(ctx context.Context) ([]types.ProviderConfig, error) {
	configs, err := r.source(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].Name < configs[j].Name })
	return configs, nil
}

// LoadEnabled returns the set of enabled provider names.
func (r *ProviderRepository) LoadEnabled(ctx context.Context) (map[string]bool, error) {
	configs, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	var doc enabledDoc
	err = r.store.Get(ctx, enabledPath, &doc)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	known := make(map[string]bool, len(doc.Known))
	for _, name := range doc.Known {
		known[name] = true
	}

	enabled := make(map[string]bool)
	for _, name := range doc.Enabled {
		enabled[name] = true
	}
	for _, cfg := range configs {
		if !known[cfg.Name] {
			enabled[cfg.Name] = true
		}
	}
	return enabled, nil
}

// SaveEnabled persists the enabled set.
func (r *ProviderRepository) SaveEnabled(ctx context.Context, enabled map[string]bool) error {
	configs, err := r.List(ctx)
	if err != nil {
		return err
	}

	var doc enabledDoc
	return r.store.Update(ctx, enabledPath, &doc, func() error {
		seen := make(map[string]bool)
		for _, name := range doc.Known {
			seen[name] = true
		}
		for _, cfg := range configs {
			seen[cfg.Name] = true
		}
		for name := range enabled {
			seen[name] = true
		}
		doc.Known = types.SortedKeys(seen)

		doc.Enabled = doc.Enabled[:0]
		for _, name := range types.SortedKeys(enabled) {
			if enabled[name] {
				doc.Enabled = append(doc.Enabled, name)
			}
		}
		return nil
	})
}

// LoadDisabledTools returns provider name to disabled tool names.
func (r *ProviderRepository) LoadDisabledTools(ctx context.Context) (map[string]map[string]bool, error) {
	var doc map[string][]string
	if err := r.store.Get(ctx, disabledToolsPath, &doc); err != nil {
		if errors.Is(err, ErrNotFound) {
			return map[string]map[string]bool{}, nil
		}
		return nil, err
	}

	out := make(map[string]map[string]bool, len(doc))
	for provider, tools := range doc {
		set := make(map[string]bool, len(tools))
		for _, t := range tools {
			set[t] = true
		}
		out[provider] = set
	}
	return out, nil
}

// SaveDisabledTools persists the disabled tool map.
func (r *ProviderRepository) SaveDisabledTools(ctx context.Context, disabled map[string]map[string]bool) error {
	doc := make(map[string][]string, len(disabled))
	for provider, tools := range disabled {
		var names []string
		for _, name := range types.SortedKeys(tools) {
			if tools[name] {
				names = append(names, name)
			}
		}
		if len(names) > 0 {
			doc[provider] = names
		}
	}
	return r.store.Put(ctx, disabledToolsPath, doc)
}
