package provider

import (
	"context"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qent/sona-sub000/pkg/types"
)

type mockProvider struct {
	id     string
	models []Model
}

func (m *mockProvider) ID() string                            { return m.id }
func (m *mockProvider) Name() string                          { return m.id }
func (m *mockProvider) Models() []Model                       { return m.models }
func (m *mockProvider) ChatModel() model.ToolCallingChatModel { return nil }

func newMockProvider(id string, modelIDs ...string) *mockProvider {
	p := &mockProvider{id: id}
	for _, m := range modelIDs {
		p.models = append(p.models, Model{ID: m, Name: m, ProviderID: id})
	}
	return p
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	registry := NewRegistry(nil)
	registry.Register(newMockProvider("test"))

	got, err := registry.Get("test")
	require.NoError(t, err)
	assert.Equal(t, "test", got.ID())

	_, err = registry.Get("nonexistent")
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestRegistry_ListIsSorted(t *testing.T) {
	registry := NewRegistry(nil)
	registry.Register(newMockProvider("p2"))
	registry.Register(newMockProvider("p3"))
	registry.Register(newMockProvider("p1"))

	var ids []string
	for _, p := range registry.List() {
		ids = append(ids, p.ID())
	}
	assert.Equal(t, []string{"p1", "p2", "p3"}, ids)
}

func TestRegistry_Resolve(t *testing.T) {
	registry := NewRegistry(nil)
	registry.Register(newMockProvider("anthropic", "claude-a", "claude-b"))
	registry.Register(newMockProvider("openai", "gpt-x"))

	tests := []struct {
		name         string
		input        string
		wantProvider string
		wantModel    string
		wantErr      error
	}{
		{"qualified", "anthropic/claude-b", "anthropic", "claude-b", nil},
		{"bare model", "gpt-x", "openai", "gpt-x", nil},
		{"uncatalogued model passes through", "openai/gpt-new", "openai", "gpt-new", nil},
		{"unknown provider", "mistral/large", "", "", ErrProviderNotFound},
		{"unknown bare model", "nothing", "", "", ErrProviderNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, m, err := registry.Resolve(tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantProvider, p.ID())
			assert.Equal(t, tt.wantModel, m.ID)
			assert.Equal(t, tt.wantProvider, m.ProviderID)
		})
	}
}

func TestRegistry_DefaultModel(t *testing.T) {
	t.Run("from config", func(t *testing.T) {
		registry := NewRegistry(&types.Config{Model: "openai/gpt-x"})
		registry.Register(newMockProvider("anthropic", "claude-a"))
		registry.Register(newMockProvider("openai", "gpt-x"))

		p, m, err := registry.DefaultModel()
		require.NoError(t, err)
		assert.Equal(t, "openai", p.ID())
		assert.Equal(t, "gpt-x", m.ID)
	})

	t.Run("first model", func(t *testing.T) {
		registry := NewRegistry(nil)
		registry.Register(newMockProvider("openai", "gpt-x"))
		registry.Register(newMockProvider("anthropic", "claude-a"))

		_, m, err := registry.DefaultModel()
		require.NoError(t, err)
		assert.Equal(t, "claude-a", m.ID)
	})

	t.Run("empty", func(t *testing.T) {
		_, _, err := NewRegistry(nil).DefaultModel()
		assert.ErrorIs(t, err, ErrNoModels)
	})
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	registry := NewRegistry(nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			registry.Register(newMockProvider("p", "m"))
		}()
		go func() {
			defer wg.Done()
			_ = registry.AllModels()
		}()
	}
	wg.Wait()

	assert.Len(t, registry.List(), 1)
}

func TestInitializeProviders(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("ARK_API_KEY", "")

	cfg := &types.Config{
		Provider: map[string]types.ModelProviderConfig{
			"openai":    {APIKey: "sk-test", Model: "gpt-4o-mini"},
			"anthropic": {APIKey: "sk-ant", Disable: true},
			"ark":       {},
			"local":     {APIKey: "none", BaseURL: "http://127.0.0.1:11434/v1", Model: "qwen3"},
			"mystery":   {APIKey: "x"},
		},
	}

	registry, err := InitializeProviders(context.Background(), cfg)
	require.NoError(t, err)

	var ids []string
	for _, p := range registry.List() {
		ids = append(ids, p.ID())
	}
	assert.Equal(t, []string{"local", "openai"}, ids)

	p, m, err := registry.Resolve("local/qwen3")
	require.NoError(t, err)
	assert.Equal(t, "local", p.ID())
	assert.Equal(t, "qwen3", m.ID)
}
