package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/qent/sona-sub000/internal/event"
	"github.com/qent/sona-sub000/pkg/types"
)

// DefaultConnectTimeout bounds a provider handshake when the config sets none.
const DefaultConnectTimeout = 30 * time.Second

// Manager owns the provider connections. Each provider has its own state
// machine: disabled, connecting, then connected or failed. Connects run
// concurrently; a per-provider generation discards results that arrive
// after the provider was disabled or reloaded.
type Manager struct {
	repo      Repository
	connector Connector
	bus       *event.Bus
	status    *event.Latest[[]types.ProviderStatus]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	providers map[string]*provider
	order     []string
	disabled  map[string]map[string]bool // provider -> original tool name
	routes    map[string]route           // exposed tool name -> owner
	tools     []types.ToolSpec
	closed    bool
}

type provider struct {
	cfg     types.ProviderConfig
	enabled bool
	state   types.ProviderState
	cause   string
	conn    Conn
	tools   []Tool
	gen     uint64
	abort   context.CancelFunc
}

type route struct {
	provider string
	original string
}

// NewManager creates a manager. bus may be nil.
func NewManager(repo Repository, connector Connector, bus *event.Bus) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		repo:      repo,
		connector: connector,
		bus:       bus,
		status:    event.NewLatestWith([]types.ProviderStatus{}),
		ctx:       ctx,
		cancel:    cancel,
		providers: make(map[string]*provider),
		disabled:  make(map[string]map[string]bool),
		routes:    make(map[string]route),
	}
}

// Start loads providers from the repository and connects the enabled ones.
// It returns once connects are started, not when they finish.
func (m *Manager) Start(ctx context.Context) error {
	configs, err := m.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("list providers: %w", err)
	}
	enabled, err := m.repo.LoadEnabled(ctx)
	if err != nil {
		return fmt.Errorf("load enabled providers: %w", err)
	}
	disabled, err := m.repo.LoadDisabledTools(ctx)
	if err != nil {
		return fmt.Errorf("load disabled tools: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}

	if disabled == nil {
		disabled = make(map[string]map[string]bool)
	}
	m.disabled = disabled
	for _, cfg := range configs {
		p, ok := m.providers[cfg.Name]
		if !ok {
			p = &provider{state: types.ProviderDisabled}
			m.providers[cfg.Name] = p
			m.order = append(m.order, cfg.Name)
		}
		p.cfg = cfg
		p.enabled = enabled[cfg.Name]
		if p.enabled && p.state == types.ProviderDisabled {
			m.connectLocked(cfg.Name, p)
		}
	}
	log.Info().Int("providers", len(configs)).Msg("tool providers loaded")
	m.publishLocked()
	return nil
}

// Toggle flips a provider's enablement and persists it. Disabling drops
// its tools at once, even while a connect is in flight.
func (m *Manager) Toggle(ctx context.Context, name string) error {
	m.mu.Lock()
	p, ok := m.providers[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}

	var stale Conn
	if p.enabled {
		p.enabled = false
		stale = m.disconnectLocked(p)
		log.Info().Str("provider", name).Msg("provider disabled")
	} else {
		p.enabled = true
		m.connectLocked(name, p)
		log.Info().Str("provider", name).Msg("provider enabled")
	}
	enabled := m.enabledLocked()
	m.publishLocked()
	m.mu.Unlock()

	closeConn(name, stale)

	if err := m.repo.SaveEnabled(ctx, enabled); err != nil {
		return fmt.Errorf("save enabled providers: %w", err)
	}
	return nil
}

// ToggleTool flips one tool's disabled flag and persists it. tool is the
// provider-side name. The connection is unaffected.
func (m *Manager) ToggleTool(ctx context.Context, providerName, tool string) error {
	m.mu.Lock()
	if _, ok := m.providers[providerName]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrProviderNotFound, providerName)
	}

	set := m.disabled[providerName]
	if set == nil {
		set = make(map[string]bool)
		m.disabled[providerName] = set
	}
	if set[tool] {
		delete(set, tool)
	} else {
		set[tool] = true
	}
	log.Info().Str("provider", providerName).Str("tool", tool).Bool("disabled", set[tool]).Msg("tool toggled")

	snapshot := copyDisabled(m.disabled)
	m.publishLocked()
	m.mu.Unlock()

	if err := m.repo.SaveDisabledTools(ctx, snapshot); err != nil {
		return fmt.Errorf("save disabled tools: %w", err)
	}
	return nil
}

// Reload tears down every connection and rebuilds from the repository.
func (m *Manager) Reload(ctx context.Context) error {
	m.mu.Lock()
	stale := make(map[string]Conn)
	for name, p := range m.providers {
		if c := m.disconnectLocked(p); c != nil {
			stale[name] = c
		}
	}
	m.providers = make(map[string]*provider)
	m.order = nil
	m.publishLocked()
	m.mu.Unlock()

	for name, c := range stale {
		closeConn(name, c)
	}
	log.Info().Msg("reloading tool providers")
	return m.Start(ctx)
}

// ListTools returns the tools of connected providers minus disabled ones.
func (m *Manager) ListTools() []types.ToolSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.ToolSpec(nil), m.tools...)
}

// Execute calls the tool exposed as name. Failures come back as text.
func (m *Manager) Execute(ctx context.Context, callID, name, args string) string {
	m.mu.Lock()
	r, ok := m.routes[name]
	var conn Conn
	if ok {
		if p := m.providers[r.provider]; p != nil && p.state == types.ProviderConnected {
			conn = p.conn
		}
	}
	m.mu.Unlock()

	logger := log.With().Str("callID", callID).Str("tool", name).Logger()
	if !ok {
		logger.Warn().Msg("call to unknown provider tool")
		return fmt.Sprintf("Error: tool %s is not available", name)
	}
	if conn == nil {
		return fmt.Sprintf("Error: %v: %s", ErrNotConnected, r.provider)
	}

	var argMap map[string]any
	if args != "" {
		if err := json.Unmarshal([]byte(args), &argMap); err != nil {
			return fmt.Sprintf("Error: failed to parse arguments: %v", err)
		}
	}

	out, err := conn.Call(ctx, r.original, argMap)
	if err != nil {
		logger.Warn().Err(err).Str("provider", r.provider).Msg("provider tool failed")
		return "Error: " + err.Error()
	}
	return out
}

// Statuses returns the current status of every provider.
func (m *Manager) Statuses() []types.ProviderStatus {
	s, _ := m.status.Get()
	return s
}

// StatusStream streams status snapshots, starting with the current one.
func (m *Manager) StatusStream(ctx context.Context) <-chan []types.ProviderStatus {
	return m.status.Subscribe(ctx)
}

// Close disconnects every provider and waits for in-flight connects.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	stale := make(map[string]Conn)
	for name, p := range m.providers {
		if c := m.disconnectLocked(p); c != nil {
			stale[name] = c
		}
	}
	m.mu.Unlock()

	m.cancel()
	for name, c := range stale {
		closeConn(name, c)
	}
	m.wg.Wait()
	m.status.Close()
	return nil
}

// connectLocked starts a connect for p under a new generation.
func (m *Manager) connectLocked(name string, p *provider) {
	if p.abort != nil {
		p.abort()
	}
	p.gen++
	p.state = types.ProviderConnecting
	p.cause = ""
	p.conn = nil
	p.tools = nil

	ctx, abort := context.WithCancel(m.ctx)
	p.abort = abort

	m.wg.Add(1)
	go m.connect(ctx, name, p.cfg, p.gen)
}

func (m *Manager) connect(ctx context.Context, name string, cfg types.ProviderConfig, gen uint64) {
	defer m.wg.Done()

	timeout := DefaultConnectTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Millisecond
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	conn, err := m.connector.Connect(connectCtx, cfg)

	m.mu.Lock()
	p := m.providers[name]
	if m.closed || p == nil || p.gen != gen {
		m.mu.Unlock()
		log.Debug().Str("provider", name).Uint64("gen", gen).Msg("discarding stale connect result")
		closeConn(name, conn)
		return
	}

	if err != nil {
		p.state = types.ProviderFailed
		p.cause = err.Error()
		log.Warn().Err(err).Str("provider", name).Msg("provider connect failed")
	} else {
		p.state = types.ProviderConnected
		p.conn = conn
		p.tools = conn.Tools()
		log.Info().Str("provider", name).Int("tools", len(p.tools)).Dur("took", time.Since(start)).Msg("provider connected")
	}
	m.publishLocked()
	m.mu.Unlock()
}

// disconnectLocked moves p to disabled and returns the connection the
// caller must close after unlocking.
func (m *Manager) disconnectLocked(p *provider) Conn {
	if p.abort != nil {
		p.abort()
		p.abort = nil
	}
	p.gen++
	conn := p.conn
	p.conn = nil
	p.tools = nil
	p.state = types.ProviderDisabled
	p.cause = ""
	return conn
}

func (m *Manager) enabledLocked() map[string]bool {
	out := make(map[string]bool, len(m.providers))
	for name, p := range m.providers {
		if p.enabled {
			out[name] = true
		}
	}
	return out
}

// publishLocked rebuilds routes and publishes a status snapshot.
func (m *Manager) publishLocked() {
	m.routes = make(map[string]route)
	m.tools = nil

	statuses := make([]types.ProviderStatus, 0, len(m.order))
	for _, name := range m.order {
		p := m.providers[name]
		disabled := m.disabled[name]
		status := types.ProviderStatus{
			Name:          name,
			State:         p.state,
			Cause:         p.cause,
			Tools:         []types.ToolSpec{},
			DisabledTools: []string{},
		}
		for _, t := range types.SortedKeys(disabled) {
			if disabled[t] {
				status.DisabledTools = append(status.DisabledTools, t)
			}
		}

		for _, t := range p.tools {
			spec := types.ToolSpec{
				Name:        ToolName(name, t.Name),
				Description: t.Description,
				Parameters:  t.InputSchema,
				Provider:    name,
				Original:    t.Name,
			}
			status.Tools = append(status.Tools, spec)

			if p.state != types.ProviderConnected || disabled[t.Name] {
				continue
			}
			if owner, dup := m.routes[spec.Name]; dup {
				log.Warn().Str("tool", spec.Name).Str("provider", name).Str("owner", owner.provider).Msg("duplicate tool name, keeping first")
				continue
			}
			m.routes[spec.Name] = route{provider: name, original: t.Name}
			m.tools = append(m.tools, spec)
		}
		statuses = append(statuses, status)
	}

	m.status.Set(statuses)
	if m.bus != nil {
		m.bus.Publish(event.Event{
			Type: event.ProviderStatus,
			Data: event.ProviderStatusData{Providers: statuses},
		})
	}
}

func copyDisabled(in map[string]map[string]bool) map[string]map[string]bool {
	out := make(map[string]map[string]bool, len(in))
	for provider, tools := range in {
		set := make(map[string]bool, len(tools))
		for t, v := range tools {
			set[t] = v
		}
		out[provider] = set
	}
	return out
}

func closeConn(name string, c Conn) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		log.Debug().Err(err).Str("provider", name).Msg("close provider session")
	}
}
