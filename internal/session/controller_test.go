package session

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qent/sona-sub000/internal/permission"
	"github.com/qent/sona-sub000/internal/provider"
	"github.com/qent/sona-sub000/internal/state"
	"github.com/qent/sona-sub000/internal/store"
	"github.com/qent/sona-sub000/internal/tool"
	"github.com/qent/sona-sub000/internal/toolset"
	"github.com/qent/sona-sub000/pkg/types"
)

// script plays one streamed attempt. It runs on its own goroutine.
type script func(ctx context.Context, tools provider.Tools, cb provider.Callbacks)

type fakeStreamer struct {
	mu        sync.Mutex
	scripts   []script
	histories [][]types.TurnMessage
}

func (s *fakeStreamer) Stream(history []types.TurnMessage, tools provider.Tools, cb provider.Callbacks) provider.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories = append(s.histories, history)
	var play script
	if len(s.scripts) > 0 {
		play, s.scripts = s.scripts[0], s.scripts[1:]
	} else {
		play = reply("done", types.TokenUsage{})
	}
	return &fakeHandle{play: play, tools: tools, cb: cb}
}

func (s *fakeStreamer) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.histories)
}

type fakeHandle struct {
	mu     sync.Mutex
	play   script
	tools  provider.Tools
	cb     provider.Callbacks
	cancel context.CancelFunc
}

func (h *fakeHandle) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ctx, h.cancel = context.WithCancel(ctx)
	go h.play(ctx, h.tools, h.cb)
}

func (h *fakeHandle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
	}
}

func reply(text string, usage types.TokenUsage) script {
	return func(ctx context.Context, _ provider.Tools, cb provider.Callbacks) {
		cb.OnPartial(text)
		cb.OnComplete(provider.Response{Content: text, Usage: usage, Steps: 1})
	}
}

func failWith(err error) script {
	return func(ctx context.Context, _ provider.Tools, cb provider.Callbacks) {
		cb.OnPartial("partial")
		cb.OnError(err)
	}
}

// hang streams a partial reply and waits for cancellation. Callbacks sent
// afterwards must be ignored.
func hang(started chan<- struct{}) script {
	return func(ctx context.Context, _ provider.Tools, cb provider.Callbacks) {
		cb.OnPartial("thinking")
		close(started)
		<-ctx.Done()
		cb.OnPartial(" late")
		cb.OnComplete(provider.Response{Content: "late"})
	}
}

func callTool(call types.ToolCall, final string) script {
	return func(ctx context.Context, tools provider.Tools, cb provider.Callbacks) {
		cb.OnPartial("Let me check.")
		result := tools.Execute(ctx, call)
		if ctx.Err() != nil {
			cb.OnError(ctx.Err())
			return
		}
		cb.OnToolExecuted(call, result)
		cb.OnPartial(final)
		cb.OnComplete(provider.Response{Content: final, Usage: types.TokenUsage{Input: 30, Output: 7}, Steps: 2})
	}
}

type harness struct {
	ctrl     *Controller
	db       *store.SQLite
	state    *state.SessionState
	gate     *permission.Gate
	streamer *fakeStreamer
	ran      chan string
}

// testingT is satisfied by *testing.T and GinkgoT().
type testingT interface {
	require.TestingT
	Helper()
	TempDir() string
	Cleanup(func())
}

func newHarness(t testingT, scripts ...script) *harness {
	t.Helper()
	return newHarnessWithAllowList(t, nil, scripts...)
}

// newHarnessWithAllowList lets wrap replace the gate's allow-list.
func newHarnessWithAllowList(t testingT, wrap func(*store.SQLite) permission.AllowList, scripts ...script) *harness {
	t.Helper()

	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "sona.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := &harness{
		db:       db,
		state:    state.New(db, nil),
		streamer: &fakeStreamer{scripts: scripts},
		ran:      make(chan string, 10),
	}
	t.Cleanup(h.state.Close)
	var allow permission.AllowList = db
	if wrap != nil {
		allow = wrap(db)
	}
	h.gate = permission.NewGate(h.state, allow, nil, nil)

	local := tool.NewRegistry()
	local.Register(tool.NewBaseTool("echo", "Echoes text", json.RawMessage(`{"type":"object"}`),
		func(ctx context.Context, input json.RawMessage, toolCtx *tool.Context) (*tool.Result, error) {
			h.ran <- toolCtx.CallID
			return &tool.Result{Output: "echoed"}, nil
		}))

	h.ctrl = NewController(Config{
		Chats:    db,
		State:    h.state,
		Gate:     h.gate,
		Streamer: h.streamer,
		Tools: toolset.NewBuilder(toolset.Config{
			Local:   local,
			Session: h.state,
			Gate:    h.gate,
			Store:   db,
		}),
		ModelName:    "test/model",
		MaxRetries:   2,
		RetryInitial: 10 * time.Millisecond,
	})
	t.Cleanup(h.ctrl.Stop)
	return h
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.ctrl.Wait(ctx))
}

func (h *harness) persisted(t *testing.T) []types.TurnMessage {
	t.Helper()
	msgs, err := h.db.LoadMessages(context.Background(), h.state.Current().ChatID)
	require.NoError(t, err)
	return msgs
}

func roles(msgs []types.TurnMessage) []types.Role {
	out := make([]types.Role, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}

// watchInvariants fails the test if any published snapshot is invalid.
func watchInvariants(t *testing.T, s *state.SessionState) {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for cs := range s.Subscribe(ctx) {
			assert.NoError(t, cs.Validate())
		}
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
}

func TestSend_RejectsEmptyText(t *testing.T) {
	h := newHarness(t)
	for _, text := range []string{"", "   ", "\n\t"} {
		assert.ErrorIs(t, h.ctrl.Send(context.Background(), text), ErrEmptyMessage)
	}
	assert.Empty(t, h.state.Current().ChatID)
	assert.Zero(t, h.streamer.calls())
}

func TestSend_CompletesTurn(t *testing.T) {
	h := newHarness(t, reply("Hello there", types.TokenUsage{Input: 12, Output: 3}))
	watchInvariants(t, h.state)

	require.NoError(t, h.ctrl.Send(context.Background(), "hi"))
	h.wait(t)

	cs := h.state.Current()
	require.NotEmpty(t, cs.ChatID)
	assert.False(t, cs.RequestInProgress)
	assert.False(t, cs.IsStreaming)
	assert.Equal(t, types.TokenUsage{Input: 12, Output: 3}, cs.TokenUsage)
	require.Len(t, cs.Messages, 2)
	assert.Equal(t, "hi", cs.Messages[0].Content)
	assert.Equal(t, "Hello there", cs.Messages[1].Content)
	assert.NotEmpty(t, cs.Messages[1].ID)
	assert.Equal(t, "test/model", cs.Messages[1].ModelName)

	msgs := h.persisted(t)
	assert.Equal(t, []types.Role{types.RoleUser, types.RoleAssistant}, roles(msgs))

	// The model saw the user message followed by the streaming placeholder.
	require.Equal(t, 1, h.streamer.calls())
	history := h.streamer.histories[0]
	require.Len(t, history, 2)
	assert.Equal(t, types.RoleUser, history[0].Role)
	assert.Empty(t, history[1].ID)
}

func TestSend_BusyWhileStreaming(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, hang(started))

	require.NoError(t, h.ctrl.Send(context.Background(), "first"))
	<-started

	assert.ErrorIs(t, h.ctrl.Send(context.Background(), "second"), ErrBusy)
	assert.True(t, h.ctrl.Busy())
	assert.Len(t, h.persisted(t), 1)
}

func TestSend_ContinuesExistingChat(t *testing.T) {
	h := newHarness(t, reply("one", types.TokenUsage{Input: 1, Output: 1}), reply("two", types.TokenUsage{Input: 2, Output: 2}))

	require.NoError(t, h.ctrl.Send(context.Background(), "a"))
	h.wait(t)
	chatID := h.state.Current().ChatID

	require.NoError(t, h.ctrl.Send(context.Background(), "b"))
	h.wait(t)

	cs := h.state.Current()
	assert.Equal(t, chatID, cs.ChatID)
	assert.Equal(t, types.TokenUsage{Input: 3, Output: 3}, cs.TokenUsage)
	assert.Len(t, h.persisted(t), 4)
	assert.Len(t, h.streamer.histories[1], 4)
}

func TestStop_IgnoresLateCallbacks(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, hang(started))
	watchInvariants(t, h.state)

	require.NoError(t, h.ctrl.Send(context.Background(), "hi"))
	<-started
	require.Eventually(t, func() bool {
		last, _ := h.state.Current().LastMessage()
		return last.Content == "thinking"
	}, time.Second, 5*time.Millisecond)

	h.ctrl.Stop()
	assert.False(t, h.ctrl.Busy())

	// give the script time to push its late callbacks
	time.Sleep(50 * time.Millisecond)

	cs := h.state.Current()
	assert.False(t, cs.RequestInProgress)
	assert.False(t, cs.IsStreaming)
	last, _ := cs.LastMessage()
	assert.Equal(t, "thinking", last.Content, "partial text stays visible")
	assert.Empty(t, last.ID)
	assert.Len(t, h.persisted(t), 1, "nothing but the user message is persisted")
}

func TestStop_WithoutTurnIsNoop(t *testing.T) {
	h := newHarness(t)
	h.ctrl.Stop()
	h.ctrl.Stop()
	assert.Equal(t, types.ChatSession{}, h.state.Current())
}

func TestRetry_RecoversAfterFailure(t *testing.T) {
	h := newHarness(t, failWith(errors.New("overloaded")), reply("recovered", types.TokenUsage{Input: 5, Output: 2}))
	watchInvariants(t, h.state)

	require.NoError(t, h.ctrl.Send(context.Background(), "hi"))
	h.wait(t)

	assert.Equal(t, 2, h.streamer.calls())
	msgs := h.persisted(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, "recovered", msgs[1].Content)

	// The retry sees an empty placeholder, not the failed partial text.
	retried := h.streamer.histories[1]
	assert.Empty(t, retried[len(retried)-1].Content)
}

func TestRetry_ExhaustedPersistsOneError(t *testing.T) {
	boom := errors.New("upstream exploded")
	h := newHarness(t, failWith(boom), failWith(boom), failWith(boom))

	require.NoError(t, h.ctrl.Send(context.Background(), "hi"))
	h.wait(t)

	assert.Equal(t, 3, h.streamer.calls(), "first attempt plus two retries")
	msgs := h.persisted(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, types.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Error: upstream exploded", msgs[1].Content)

	cs := h.state.Current()
	assert.False(t, cs.RequestInProgress)
	assert.Len(t, cs.Messages, 2)
}

func TestRetry_StopCancelsPendingRetry(t *testing.T) {
	h := newHarness(t, failWith(errors.New("flaky")))
	h.ctrl.cfg.RetryInitial = time.Hour

	require.NoError(t, h.ctrl.Send(context.Background(), "hi"))
	require.Eventually(t, func() bool {
		cs := h.state.Current()
		return cs.RequestInProgress && !cs.IsStreaming
	}, time.Second, 5*time.Millisecond, "waiting for the retry to be scheduled")

	h.ctrl.Stop()

	cs := h.state.Current()
	assert.False(t, cs.RequestInProgress)
	require.Len(t, cs.Messages, 1, "the empty placeholder is dropped")
	assert.Equal(t, 1, h.streamer.calls())
}

func TestRetry_Disabled(t *testing.T) {
	h := newHarness(t, failWith(errors.New("nope")))
	h.ctrl.cfg.MaxRetries = 0

	require.NoError(t, h.ctrl.Send(context.Background(), "hi"))
	h.wait(t)

	assert.Equal(t, 1, h.streamer.calls())
	assert.Equal(t, "Error: nope", h.persisted(t)[1].Content)
}

func TestToolCall_PersistsTranscript(t *testing.T) {
	call := types.ToolCall{ID: "call_1", Name: "echo", ArgumentsJSON: `{}`}
	h := newHarness(t, callTool(call, "All done."))
	h.state.Update(func(cs *types.ChatSession) { cs.AutoApproveTools = true })
	watchInvariants(t, h.state)

	require.NoError(t, h.ctrl.Send(context.Background(), "use a tool"))
	h.wait(t)

	assert.Equal(t, "call_1", <-h.ran)
	msgs := h.persisted(t)
	require.Equal(t, []types.Role{types.RoleUser, types.RoleAssistant, types.RoleTool, types.RoleAssistant}, roles(msgs))
	assert.Equal(t, "Let me check.", msgs[1].Content)
	assert.True(t, msgs[1].HasToolCall("call_1"))
	assert.Equal(t, "echoed", msgs[2].Content)
	assert.Equal(t, "call_1", msgs[2].ToolCallID)
	assert.Equal(t, "All done.", msgs[3].Content)

	cs := h.state.Current()
	require.Len(t, cs.Messages, 4)
	for _, m := range cs.Messages {
		assert.NotEmpty(t, m.ID, "every message is persisted")
	}
	assert.Equal(t, types.TokenUsage{Input: 30, Output: 7}, cs.TokenUsage)
}

func TestToolCall_WaitsForPermission(t *testing.T) {
	call := types.ToolCall{ID: "call_1", Name: "echo", ArgumentsJSON: `{}`}
	h := newHarness(t, callTool(call, "ok"))
	watchInvariants(t, h.state)

	require.NoError(t, h.ctrl.Send(context.Background(), "use a tool"))
	require.Eventually(t, func() bool {
		return h.state.Current().PendingToolName != nil
	}, time.Second, 5*time.Millisecond)

	cs := h.state.Current()
	assert.Equal(t, "echo", *cs.PendingToolName)
	assert.False(t, cs.RequestInProgress)
	assert.ErrorIs(t, h.ctrl.Send(context.Background(), "again"), ErrBusy)

	require.NoError(t, h.ctrl.ResolvePermission(context.Background(), true, false))
	h.wait(t)

	assert.Equal(t, "echoed", h.persisted(t)[2].Content)
	assert.Nil(t, h.state.Current().PendingToolName)
}

func TestToolCall_StopWhilePending(t *testing.T) {
	call := types.ToolCall{ID: "call_1", Name: "echo", ArgumentsJSON: `{}`}
	h := newHarness(t, callTool(call, "never"))

	require.NoError(t, h.ctrl.Send(context.Background(), "use a tool"))
	require.Eventually(t, func() bool {
		return h.state.Current().PendingToolName != nil
	}, time.Second, 5*time.Millisecond)

	h.ctrl.Stop()
	time.Sleep(50 * time.Millisecond)

	cs := h.state.Current()
	assert.Nil(t, cs.PendingToolName)
	assert.False(t, cs.RequestInProgress)
	for _, m := range cs.Messages {
		assert.NotEqual(t, types.RoleTool, m.Role, "unfinished tool results are dropped")
	}
	_, pending := h.gate.Pending()
	assert.False(t, pending)
	assert.Empty(t, h.ran)
}

// slowAllowList holds AddAllowedTool until release is closed.
type slowAllowList struct {
	*store.SQLite
	started chan struct{}
	release chan struct{}
}

func (s *slowAllowList) AddAllowedTool(ctx context.Context, chatID, tool string) error {
	close(s.started)
	<-s.release
	return s.SQLite.AddAllowedTool(ctx, chatID, tool)
}

func TestToolCall_StopWhileApprovalIsSaved(t *testing.T) {
	call := types.ToolCall{ID: "call_1", Name: "echo", ArgumentsJSON: `{}`}
	var slow *slowAllowList
	h := newHarnessWithAllowList(t, func(db *store.SQLite) permission.AllowList {
		slow = &slowAllowList{SQLite: db, started: make(chan struct{}), release: make(chan struct{})}
		return slow
	}, callTool(call, "never"), reply("next", types.TokenUsage{}))
	watchInvariants(t, h.state)

	require.NoError(t, h.ctrl.Send(context.Background(), "use a tool"))
	require.Eventually(t, func() bool {
		return h.state.Current().PendingToolName != nil
	}, time.Second, 5*time.Millisecond)

	resolved := make(chan error, 1)
	go func() {
		resolved <- h.ctrl.ResolvePermission(context.Background(), true, true)
	}()
	<-slow.started
	h.ctrl.Stop()
	close(slow.release)
	require.NoError(t, <-resolved)

	cs := h.state.Current()
	assert.False(t, cs.RequestInProgress)
	assert.Nil(t, cs.PendingToolName)
	assert.False(t, h.ctrl.Busy())
	assert.Empty(t, h.ran)

	require.NoError(t, h.ctrl.Send(context.Background(), "next"))
	h.wait(t)
	last, _ := h.state.Current().LastMessage()
	assert.Equal(t, "next", last.Content)
}

func TestRetry_BackoffDoubles(t *testing.T) {
	h := newHarness(t)
	h.ctrl.cfg.RetryInitial = time.Second
	h.ctrl.cfg.MaxRetries = 3

	b := h.ctrl.newBackOff()
	for _, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		assert.Equal(t, want, b.NextBackOff())
	}
	assert.Equal(t, backoff.Stop, b.NextBackOff(), "no delay after the last retry")

	b.Reset()
	assert.Equal(t, time.Second, b.NextBackOff(), "reset starts over")
}

func TestDeleteFrom_ReloadsRemainingHistory(t *testing.T) {
	h := newHarness(t, reply("one", types.TokenUsage{}), reply("two", types.TokenUsage{}))
	require.NoError(t, h.ctrl.Send(context.Background(), "a"))
	h.wait(t)
	require.NoError(t, h.ctrl.Send(context.Background(), "b"))
	h.wait(t)

	require.NoError(t, h.ctrl.DeleteFrom(context.Background(), 2))

	cs := h.state.Current()
	require.Len(t, cs.Messages, 2)
	assert.Equal(t, "one", cs.Messages[1].Content)
	assert.Len(t, h.persisted(t), 2)
}

func TestDeleteFrom_RequiresChat(t *testing.T) {
	h := newHarness(t)
	err := h.ctrl.DeleteFrom(context.Background(), 0)
	assert.ErrorIs(t, err, ErrNoChat)
	assert.ErrorIs(t, err, toolset.ErrNoChat, "one sentinel for every layer")
}

func TestChatLifecycle(t *testing.T) {
	h := newHarness(t, reply("one", types.TokenUsage{}))
	require.NoError(t, h.ctrl.Send(context.Background(), "a"))
	h.wait(t)
	chatID := h.state.Current().ChatID

	assert.True(t, h.ctrl.ToggleAutoApproveTools())

	h.ctrl.NewChat()
	cs := h.state.Current()
	assert.Empty(t, cs.ChatID)
	assert.Empty(t, cs.Messages)
	assert.True(t, cs.AutoApproveTools, "auto-approve survives a new chat")

	require.NoError(t, h.ctrl.LoadChat(context.Background(), chatID))
	assert.Len(t, h.state.Current().Messages, 2)

	require.NoError(t, h.ctrl.DeleteChat(context.Background(), chatID))
	assert.Empty(t, h.state.Current().ChatID)
	chats, err := h.db.ListChats(context.Background())
	require.NoError(t, err)
	assert.Empty(t, chats)
}

func TestBuildFailureEndsTurn(t *testing.T) {
	h := newHarness(t)
	h.ctrl.cfg.Tools = failingBuilder{}

	require.NoError(t, h.ctrl.Send(context.Background(), "hi"))
	h.wait(t)

	assert.Zero(t, h.streamer.calls())
	assert.Equal(t, "Error: build tools: registry offline", h.persisted(t)[1].Content)
	assert.False(t, h.state.Current().RequestInProgress)
}

type failingBuilder struct{}

func (failingBuilder) Build(context.Context, string, string) (*toolset.Registry, error) {
	return nil, errors.New("registry offline")
}
