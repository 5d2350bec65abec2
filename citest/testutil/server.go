package testutil

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/qent/sona-sub000/internal/event"
	"github.com/qent/sona-sub000/internal/mcp"
	"github.com/qent/sona-sub000/internal/permission"
	"github.com/qent/sona-sub000/internal/provider"
	"github.com/qent/sona-sub000/internal/role"
	"github.com/qent/sona-sub000/internal/server"
	"github.com/qent/sona-sub000/internal/session"
	"github.com/qent/sona-sub000/internal/state"
	"github.com/qent/sona-sub000/internal/storage"
	"github.com/qent/sona-sub000/internal/store"
	"github.com/qent/sona-sub000/internal/tool"
	"github.com/qent/sona-sub000/internal/toolset"
	"github.com/qent/sona-sub000/pkg/types"
)

// TestServer is a fully wired sona server talking to a mock LLM.
type TestServer struct {
	Server     *server.Server
	BaseURL    string
	LLM        *MockLLMServer
	Controller *session.Controller
	Chats      *store.SQLite
	TempDir    string
	WorkDir    string

	bus     *event.Bus
	state   *state.SessionState
	manager *mcp.Manager
}

// StartTestServer wires the conversation core against a mock LLM and
// starts the HTTP server on a free port.
func StartTestServer() (*TestServer, error) {
	tempDir, err := os.MkdirTemp("", "sona-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	workDir := filepath.Join(tempDir, "work")
	if err := os.MkdirAll(workDir, 0755); err != nil {
		os.RemoveAll(tempDir)
		return nil, err
	}

	ts := &TestServer{TempDir: tempDir, WorkDir: workDir, LLM: NewMockLLMServer()}
	if err := ts.wire(); err != nil {
		ts.Stop()
		return nil, err
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		ts.Stop()
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	go func() {
		_ = ts.Server.Serve(ln)
	}()
	ts.BaseURL = "http://" + ln.Addr().String()

	if err := waitForServer(ts.BaseURL, 10*time.Second); err != nil {
		ts.Stop()
		return nil, fmt.Errorf("server failed to start: %w", err)
	}
	return ts, nil
}

func (ts *TestServer) wire() error {
	ctx := context.Background()
	cfg := buildTestConfig(ts.LLM.URL())

	chats, err := store.OpenSQLite(filepath.Join(ts.TempDir, "sona.db"))
	if err != nil {
		return err
	}
	ts.Chats = chats
	ts.bus = event.NewBus()
	ts.state = state.New(chats, ts.bus)
	gate := permission.NewGate(ts.state, chats, ts.bus, nil)

	models, err := provider.InitializeProviders(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize providers: %w", err)
	}
	p, m, err := models.Resolve(cfg.Model)
	if err != nil {
		return err
	}

	roles, err := role.FromConfig(cfg)
	if err != nil {
		return err
	}

	repo := storage.NewProviderRepository(storage.New(filepath.Join(ts.TempDir, "storage")), storage.StaticSource(cfg.MCP))
	ts.manager = mcp.NewManager(repo, mcp.NewSDKConnector(nil), ts.bus)
	if err := ts.manager.Start(ctx); err != nil {
		return err
	}

	ts.Controller = session.NewController(session.Config{
		Chats: chats,
		State: ts.state,
		Tools: toolset.NewBuilder(toolset.Config{
			Local:   tool.DefaultRegistry(tool.Options{WorkDir: ts.WorkDir}),
			Roles:   roles,
			Remote:  ts.manager,
			Session: ts.state,
			Gate:    gate,
			Store:   chats,
			WorkDir: ts.WorkDir,
		}),
		Gate: gate,
		Streamer: provider.NewEinoStreamer(p.ChatModel(), provider.StreamerConfig{
			Model:        m.ID,
			MaxSteps:     cfg.MaxSteps,
			SystemPrompt: roles.SystemPrompt,
		}),
		Bus:          ts.bus,
		ModelName:    m.FullName(),
		MaxRetries:   cfg.MaxRetries,
		RetryInitial: time.Duration(cfg.RetryInitialMs) * time.Millisecond,
	})

	srvConfig := server.DefaultConfig()
	ts.Server = server.New(srvConfig, server.Deps{
		Conversation: ts.Controller,
		Chats:        chats,
		Providers:    ts.manager,
		Bus:          ts.bus,
	})
	return nil
}

// Stop shuts down the server and removes its files.
func (ts *TestServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	if ts.Server != nil {
		err = ts.Server.Shutdown(ctx)
	}
	if ts.Controller != nil {
		ts.Controller.Stop()
	}
	if ts.manager != nil {
		ts.manager.Close()
	}
	if ts.state != nil {
		ts.state.Close()
	}
	if ts.bus != nil {
		ts.bus.Close()
	}
	if ts.Chats != nil {
		ts.Chats.Close()
	}
	if ts.LLM != nil {
		ts.LLM.Close()
	}
	os.RemoveAll(ts.TempDir)
	return err
}

// Client returns a JSON client for this server.
func (ts *TestServer) Client() *TestClient {
	return NewTestClient(ts.BaseURL)
}

// SSEClient returns a new SSE client for this server.
func (ts *TestServer) SSEClient() *SSEClient {
	return NewSSEClient(ts.BaseURL)
}

// WriteFile creates a file in the server's working directory.
func (ts *TestServer) WriteFile(name, content string) error {
	return os.WriteFile(filepath.Join(ts.WorkDir, name), []byte(content), 0644)
}

func buildTestConfig(llmURL string) *types.Config {
	return &types.Config{
		Model: "openai/mock-gpt",
		Provider: map[string]types.ModelProviderConfig{
			"openai": {
				APIKey:  "test-key",
				BaseURL: llmURL + "/v1",
				Model:   "mock-gpt",
			},
		},
		MaxRetries:     2,
		RetryInitialMs: 20,
		MaxSteps:       5,
	}
}

func waitForServer(baseURL string, timeout time.Duration) error {
	client := NewTestClient(baseURL)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := client.Session(context.Background()); err == nil {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("server at %s not ready after %s", baseURL, timeout)
}
