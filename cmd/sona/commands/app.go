package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/qent/sona-sub000/internal/config"
	"github.com/qent/sona-sub000/internal/event"
	"github.com/qent/sona-sub000/internal/mcp"
	"github.com/qent/sona-sub000/internal/permission"
	"github.com/qent/sona-sub000/internal/provider"
	"github.com/qent/sona-sub000/internal/role"
	"github.com/qent/sona-sub000/internal/session"
	"github.com/qent/sona-sub000/internal/state"
	"github.com/qent/sona-sub000/internal/storage"
	"github.com/qent/sona-sub000/internal/store"
	"github.com/qent/sona-sub000/internal/tool"
	"github.com/qent/sona-sub000/internal/toolset"
	"github.com/qent/sona-sub000/pkg/types"
)

// app is the assembled conversation core.
type app struct {
	workDir string
	config  *types.Config
	paths   *config.Paths

	chats     *store.SQLite
	providers *storage.ProviderRepository
	bus       *event.Bus

	// set by startCore
	state   *state.SessionState
	gate    *permission.Gate
	roles   *role.Registry
	manager *mcp.Manager
	ctrl    *session.Controller
}

// openApp loads config and opens the stores. It does not connect to
// anything.
func openApp() (*app, error) {
	dir, err := resolveWorkDir()
	if err != nil {
		return nil, err
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return nil, err
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.WorkDir != "" {
		dir = cfg.WorkDir
	}

	chats, err := store.OpenSQLite(paths.DatabasePath())
	if err != nil {
		return nil, err
	}

	a := &app{
		workDir: dir,
		config:  cfg,
		paths:   paths,
		chats:   chats,
		bus:     event.NewBus(),
	}
	a.providers = storage.NewProviderRepository(storage.New(paths.StoragePath()), a.providerSource)
	return a, nil
}

// providerSource re-reads the MCP section of the config on every call so
// a reload picks up edits.
func (a *app) providerSource(ctx context.Context) ([]types.ProviderConfig, error) {
	cfg, err := config.Load(a.workDir)
	if err != nil {
		log.Warn().Err(err).Msg("config reload failed, keeping previous tool providers")
		cfg = a.config
	}
	return storage.StaticSource(cfg.MCP)(ctx)
}

// startCore resolves the model and wires the conversation controller.
// Tool providers start connecting in the background.
func (a *app) startCore(ctx context.Context, modelOverride string) error {
	models, err := provider.InitializeProviders(ctx, a.config)
	if err != nil {
		return err
	}
	name := a.config.Model
	if modelOverride != "" {
		name = modelOverride
	}
	var (
		p provider.Provider
		m provider.Model
	)
	if name != "" {
		p, m, err = models.Resolve(name)
	} else {
		p, m, err = models.DefaultModel()
	}
	if err != nil {
		if errors.Is(err, provider.ErrNoModels) {
			return fmt.Errorf("%w: configure a model provider or set OPENAI_API_KEY, ANTHROPIC_API_KEY or ARK_API_KEY", err)
		}
		return err
	}
	log.Info().Str("model", m.FullName()).Msg("model selected")

	roles, err := role.FromConfig(a.config)
	if err != nil {
		return err
	}
	a.roles = roles

	a.state = state.New(a.chats, a.bus)
	a.state.Update(func(cs *types.ChatSession) {
		cs.AutoApproveTools = a.config.AutoApproveTools
	})

	var allow, denyRead []string
	if a.config.Permission != nil {
		allow = a.config.Permission.Allow
		denyRead = a.config.Permission.DenyRead
	}
	a.gate = permission.NewGate(a.state, a.chats, a.bus, allow)

	a.manager = mcp.NewManager(a.providers, mcp.NewSDKConnector(nil), a.bus)
	if err := a.manager.Start(ctx); err != nil {
		log.Warn().Err(err).Msg("tool providers not started")
	}

	local := tool.DefaultRegistry(tool.Options{
		WorkDir:    a.workDir,
		DenyRead:   denyRead,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	})

	a.ctrl = session.NewController(session.Config{
		Chats: a.chats,
		State: a.state,
		Tools: toolset.NewBuilder(toolset.Config{
			Local:   local,
			Roles:   roles,
			Remote:  a.manager,
			Session: a.state,
			Gate:    a.gate,
			Store:   a.chats,
			WorkDir: a.workDir,
		}),
		Gate: a.gate,
		Streamer: provider.NewEinoStreamer(p.ChatModel(), provider.StreamerConfig{
			Model:        m.ID,
			MaxSteps:     a.config.MaxSteps,
			SystemPrompt: roles.SystemPrompt,
		}),
		Bus:          a.bus,
		ModelName:    m.FullName(),
		MaxRetries:   a.config.MaxRetries,
		RetryInitial: time.Duration(a.config.RetryInitialMs) * time.Millisecond,
	})
	return nil
}

func (a *app) Close() {
	if a.ctrl != nil {
		a.ctrl.Stop()
	}
	if a.manager != nil {
		a.manager.Close()
	}
	if a.state != nil {
		a.state.Close()
	}
	a.bus.Close()
	if err := a.chats.Close(); err != nil {
		log.Debug().Err(err).Msg("close chat store")
	}
}
