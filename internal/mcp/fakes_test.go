package mcp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/qent/sona-sub000/pkg/types"
)

type fakeConn struct {
	provider string
	tools    []Tool
	closed   atomic.Bool
	fail     error

	mu    sync.Mutex
	calls []string
}

func (c *fakeConn) Tools() []Tool { return c.tools }

func (c *fakeConn) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	c.mu.Lock()
	c.calls = append(c.calls, name)
	c.mu.Unlock()
	if c.fail != nil {
		return "", c.fail
	}
	return fmt.Sprintf("%s:%s:%v", c.provider, name, args["text"]), nil
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

// fakeConnector hands out fakeConns. A provider listed in hold blocks in
// Connect until released.
type fakeConnector struct {
	mu    sync.Mutex
	tools map[string][]Tool
	fail  map[string]error
	hold  map[string]chan struct{}
	conns []*fakeConn
	calls map[string]int
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		tools: make(map[string][]Tool),
		fail:  make(map[string]error),
		hold:  make(map[string]chan struct{}),
		calls: make(map[string]int),
	}
}

func (f *fakeConnector) Connect(ctx context.Context, cfg types.ProviderConfig) (Conn, error) {
	f.mu.Lock()
	f.calls[cfg.Name]++
	hold := f.hold[cfg.Name]
	f.mu.Unlock()

	if hold != nil {
		// ignore ctx so a late result reaches the manager
		<-hold
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[cfg.Name]; err != nil {
		return nil, err
	}
	c := &fakeConn{provider: cfg.Name, tools: f.tools[cfg.Name]}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeConnector) holdConnect(name string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.hold[name] = ch
	return ch
}

func (f *fakeConnector) setFail(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[name] = err
}

func (f *fakeConnector) connects(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeConnector) connsFor(name string) []*fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeConn
	for _, c := range f.conns {
		if c.provider == name {
			out = append(out, c)
		}
	}
	return out
}

type memRepo struct {
	mu       sync.Mutex
	configs  []types.ProviderConfig
	enabled  map[string]bool
	disabled map[string]map[string]bool
	saves    int
	failSave error
}

func newMemRepo(names ...string) *memRepo {
	r := &memRepo{enabled: make(map[string]bool), disabled: make(map[string]map[string]bool)}
	for _, n := range names {
		r.configs = append(r.configs, types.ProviderConfig{Name: n, Transport: types.TransportStdio, Command: n})
		r.enabled[n] = true
	}
	return r
}

func (r *memRepo) List(ctx context.Context) ([]types.ProviderConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.ProviderConfig(nil), r.configs...), nil
}

func (r *memRepo) LoadEnabled(ctx context.Context) (map[string]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]bool)
	for k, v := range r.enabled {
		out[k] = v
	}
	return out, nil
}

func (r *memRepo) SaveEnabled(ctx context.Context, enabled map[string]bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSave != nil {
		return r.failSave
	}
	r.enabled = enabled
	r.saves++
	return nil
}

func (r *memRepo) LoadDisabledTools(ctx context.Context) (map[string]map[string]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyDisabled(r.disabled), nil
}

func (r *memRepo) SaveDisabledTools(ctx context.Context, disabled map[string]map[string]bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled = disabled
	r.saves++
	return nil
}

func (r *memRepo) isEnabled(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled[name]
}

var errRefused = errors.New("connection refused")

func textTool(name string) Tool {
	return Tool{
		Name:        name,
		Description: name + " tool",
		InputSchema: []byte(`{"type":"object","properties":{"text":{"type":"string"}}}`),
	}
}
