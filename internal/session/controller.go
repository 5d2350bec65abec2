package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/qent/sona-sub000/internal/event"
	"github.com/qent/sona-sub000/internal/provider"
	"github.com/qent/sona-sub000/internal/state"
	"github.com/qent/sona-sub000/internal/store"
	"github.com/qent/sona-sub000/internal/toolset"
	"github.com/qent/sona-sub000/pkg/types"
)

const (
	// DefaultMaxRetries is used when Config.MaxRetries is negative.
	DefaultMaxRetries = 3
	// DefaultRetryInitial is the first retry delay; later ones double.
	DefaultRetryInitial = time.Second
)

var (
	// ErrBusy is returned by Send while a turn is running or waiting
	// for a permission decision.
	ErrBusy = errors.New("a request is already in progress")
	// ErrEmptyMessage is returned by Send for blank text.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNoChat is returned by operations that need a selected chat.
	ErrNoChat = toolset.ErrNoChat
)

// ToolBuilder supplies the tool set of a turn.
type ToolBuilder interface {
	Build(ctx context.Context, chatID, modelName string) (*toolset.Registry, error)
}

// PermissionResolver answers the outstanding permission request.
type PermissionResolver interface {
	Resolve(ctx context.Context, allow, persist bool) error
}

// Config wires a Controller.
type Config struct {
	Chats    store.ChatRepository
	State    *state.SessionState
	Tools    ToolBuilder
	Gate     PermissionResolver
	Streamer provider.Streamer
	Bus      *event.Bus // optional

	// ModelName is recorded on assistant messages.
	ModelName string
	// MaxRetries bounds retries of a failed stream. Zero disables
	// retries; negative selects DefaultMaxRetries.
	MaxRetries   int
	RetryInitial time.Duration
}

// Controller runs one turn at a time against the current session.
//
// All turn bookkeeping happens under mu. Every turn, retry and stop bumps
// gen; callbacks and retry timers carry the gen they were created for
// and do nothing once it is stale.
type Controller struct {
	cfg Config

	mu      sync.Mutex
	gen     uint64
	busy    bool
	chatID  string
	cancel  context.CancelFunc
	turnCtx context.Context
	handle  provider.Handle
	retry   backoff.BackOff
	timer   *time.Timer
	buffer  strings.Builder
	done    chan struct{}
}

// NewController creates a controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = DefaultRetryInitial
	}
	return &Controller{cfg: cfg}
}

// State returns the observable session state.
func (c *Controller) State() *state.SessionState {
	return c.cfg.State
}

// Send starts a turn with text as the user message. It returns once the
// message is persisted and streaming has started; progress is observed
// through State. ctx bounds the synchronous part only.
func (c *Controller) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cs := c.cfg.State.Current()
	if c.busy || cs.RequestInProgress || cs.PendingToolName != nil {
		return ErrBusy
	}

	chatID := cs.ChatID
	if chatID == "" {
		id, err := c.cfg.Chats.CreateChat(ctx)
		if err != nil {
			return fmt.Errorf("create chat: %w", err)
		}
		chatID = id
		c.cfg.State.Update(func(cs *types.ChatSession) {
			cs.ChatID = id
		})
		c.publish(event.ChatCreated, event.ChatData{ChatID: id})
		log.Info().Str("chatID", id).Msg("chat created")
	}

	userMsg, err := c.cfg.Chats.AddMessage(ctx, chatID, types.TurnMessage{
		Role:    types.RoleUser,
		Content: text,
	}, "", types.TokenUsage{})
	if err != nil {
		return fmt.Errorf("persist user message: %w", err)
	}
	c.publish(event.MessagePersisted, event.MessagePersistedData{Message: userMsg})

	c.gen++
	c.busy = true
	c.chatID = chatID
	c.done = make(chan struct{})
	c.turnCtx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.retry = c.newBackOff()
	c.buffer.Reset()

	c.cfg.State.Update(func(cs *types.ChatSession) {
		cs.Messages = append(cs.Messages, userMsg)
		cs.RequestInProgress = true
	})
	c.cfg.State.Update(func(cs *types.ChatSession) {
		cs.Messages = append(cs.Messages, c.placeholder())
		cs.IsStreaming = true
	})

	log.Info().Str("chatID", chatID).Uint64("turn", c.gen).Msg("turn started")
	c.startLocked(c.gen)
	return nil
}

// Stop abandons the running turn. Late callbacks from its stream and a
// pending retry timer are ignored, an open permission question is
// withdrawn and in-flight flags are cleared.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Controller) stopLocked() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.handle != nil {
		c.handle.Cancel()
		c.handle = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	wasBusy := c.busy
	c.finishLocked()

	c.cfg.State.Update(func(cs *types.ChatSession) {
		cs.Messages = dropInFlight(cs.Messages)
		cs.RequestInProgress = false
		cs.IsStreaming = false
		cs.PendingToolName = nil
		cs.PendingPatch = nil
	})
	if wasBusy {
		log.Info().Str("chatID", c.chatID).Msg("turn stopped")
	}
}

// Wait blocks until the current turn, if any, has finished.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Busy reports whether a turn is running.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// DeleteFrom stops the turn, deletes persisted messages from index on and
// reloads the session from what remains.
func (c *Controller) DeleteFrom(ctx context.Context, index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()

	chatID := c.cfg.State.Current().ChatID
	if chatID == "" {
		return ErrNoChat
	}
	if err := c.cfg.Chats.DeleteMessagesFrom(ctx, chatID, index); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return c.cfg.State.LoadChat(ctx, chatID)
}

// LoadChat stops the turn and switches to chatID.
func (c *Controller) LoadChat(ctx context.Context, chatID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	return c.cfg.State.LoadChat(ctx, chatID)
}

// NewChat stops the turn and starts an empty session. The chat is
// created on the first Send.
func (c *Controller) NewChat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.cfg.State.Update(func(cs *types.ChatSession) {
		*cs = types.ChatSession{AutoApproveTools: cs.AutoApproveTools}
	})
}

// DeleteChat removes a chat. Deleting the current chat also resets the
// session.
func (c *Controller) DeleteChat(ctx context.Context, chatID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg.State.Current().ChatID == chatID {
		c.stopLocked()
		c.cfg.State.Update(func(cs *types.ChatSession) {
			*cs = types.ChatSession{AutoApproveTools: cs.AutoApproveTools}
		})
	}
	if err := c.cfg.Chats.DeleteChat(ctx, chatID); err != nil {
		return err
	}
	c.publish(event.ChatDeleted, event.ChatData{ChatID: chatID})
	return nil
}

// ToggleAutoApproveTools flips tool auto-approval and returns the new value.
func (c *Controller) ToggleAutoApproveTools() bool {
	cs := c.cfg.State.Update(func(cs *types.ChatSession) {
		cs.AutoApproveTools = !cs.AutoApproveTools
	})
	log.Info().Bool("autoApprove", cs.AutoApproveTools).Msg("tool auto-approval toggled")
	return cs.AutoApproveTools
}

// ResolvePermission answers the outstanding permission request.
func (c *Controller) ResolvePermission(ctx context.Context, allow, persist bool) error {
	return c.cfg.Gate.Resolve(ctx, allow, persist)
}

// startLocked builds the tools and starts one streamed attempt.
func (c *Controller) startLocked(gen uint64) {
	registry, err := c.cfg.Tools.Build(c.turnCtx, c.chatID, c.cfg.ModelName)
	if err != nil {
		c.failLocked(fmt.Errorf("build tools: %w", err))
		return
	}

	history := c.cfg.State.Current().Messages
	c.handle = c.cfg.Streamer.Stream(history, registry, provider.Callbacks{
		OnPartial:      func(text string) { c.onPartial(gen, text) },
		OnToolExecuted: func(call types.ToolCall, result string) { c.onToolExecuted(gen, call, result) },
		OnComplete:     func(resp provider.Response) { c.onComplete(gen, resp) },
		OnError:        func(err error) { c.onError(gen, err) },
	})
	c.handle.Start(c.turnCtx)
}

func (c *Controller) onPartial(gen uint64, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.buffer.WriteString(text)
	content := c.buffer.String()
	c.cfg.State.Update(func(cs *types.ChatSession) {
		if i := tailPlaceholder(cs.Messages); i >= 0 {
			cs.Messages[i].Content = content
		} else {
			msg := c.placeholder()
			msg.Content = content
			cs.Messages = append(cs.Messages, msg)
		}
		cs.RequestInProgress = true
		cs.IsStreaming = true
	})
}

func (c *Controller) onToolExecuted(gen uint64, call types.ToolCall, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}

	msg := types.TurnMessage{
		Role:       types.RoleTool,
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}
	if i := toolset.FindToolResult(c.cfg.State.Current().Messages, call.ID); i >= 0 {
		msg = c.cfg.State.Current().Messages[i]
	}
	msg.Content = result

	stored := c.persistLocked(msg, "", types.TokenUsage{})

	// The result is persisted before the next placeholder is published.
	c.cfg.State.Update(func(cs *types.ChatSession) {
		if i := toolset.FindToolResult(cs.Messages, call.ID); i >= 0 {
			cs.Messages[i] = stored
		} else {
			cs.Messages = append(cs.Messages, stored)
		}
	})
	c.buffer.Reset()
	c.cfg.State.Update(func(cs *types.ChatSession) {
		cs.Messages = append(cs.Messages, c.placeholder())
		cs.RequestInProgress = true
		cs.IsStreaming = true
	})
}

func (c *Controller) onComplete(gen uint64, resp provider.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}

	content := resp.Content
	if content == "" {
		content = c.buffer.String()
	}
	stored := c.persistLocked(types.TurnMessage{
		Role:    types.RoleAssistant,
		Content: content,
	}, c.cfg.ModelName, resp.Usage)

	before := c.cfg.State.Current().TokenUsage
	after := c.cfg.State.Update(func(cs *types.ChatSession) {
		cs.Messages = replaceTail(cs.Messages, stored)
		cs.TokenUsage = cs.TokenUsage.Add(resp.Usage)
		cs.RequestInProgress = false
		cs.IsStreaming = false
	})

	log.Info().
		Str("chatID", c.chatID).
		Int("steps", resp.Steps).
		Int64("inputTokens", after.TokenUsage.Sub(before).Input).
		Int64("outputTokens", after.TokenUsage.Sub(before).Output).
		Msg("turn completed")
	c.releaseLocked()
}

func (c *Controller) onError(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}

	if errors.Is(err, context.Canceled) {
		log.Debug().Str("chatID", c.chatID).Msg("stream cancelled")
		c.cfg.State.Update(func(cs *types.ChatSession) {
			cs.Messages = dropInFlight(cs.Messages)
			cs.RequestInProgress = false
			cs.IsStreaming = false
		})
		c.releaseLocked()
		return
	}

	delay := c.retry.NextBackOff()
	if delay == backoff.Stop {
		c.failLocked(err)
		return
	}

	log.Warn().Err(err).Str("chatID", c.chatID).Dur("delay", delay).Msg("stream failed, retrying")
	c.handle = nil
	c.buffer.Reset()
	c.cfg.State.Update(func(cs *types.ChatSession) {
		if i := tailPlaceholder(cs.Messages); i >= 0 {
			cs.Messages[i].Content = ""
		}
		cs.RequestInProgress = true
		cs.IsStreaming = false
	})
	c.timer = time.AfterFunc(delay, func() { c.fireRetry(gen) })
}

func (c *Controller) fireRetry(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.timer = nil
	c.cfg.State.Update(func(cs *types.ChatSession) {
		cs.RequestInProgress = true
		cs.IsStreaming = true
	})
	log.Info().Str("chatID", c.chatID).Msg("retrying stream")
	c.startLocked(gen)
}

// failLocked ends the turn with err as the assistant reply.
func (c *Controller) failLocked(err error) {
	log.Error().Err(err).Str("chatID", c.chatID).Msg("turn failed")
	stored := c.persistLocked(types.TurnMessage{
		Role:    types.RoleAssistant,
		Content: "Error: " + err.Error(),
	}, c.cfg.ModelName, types.TokenUsage{})

	c.cfg.State.Update(func(cs *types.ChatSession) {
		cs.Messages = replaceTail(cs.Messages, stored)
		cs.RequestInProgress = false
		cs.IsStreaming = false
	})
	c.releaseLocked()
}

// releaseLocked ends a turn that finished on its own.
func (c *Controller) releaseLocked() {
	c.gen++
	c.handle = nil
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.finishLocked()
}

func (c *Controller) finishLocked() {
	c.busy = false
	if c.done != nil {
		select {
		case <-c.done:
		default:
			close(c.done)
		}
	}
}

// persistLocked stores msg. A storage failure is logged and the message
// is kept in the session unpersisted.
func (c *Controller) persistLocked(msg types.TurnMessage, model string, usage types.TokenUsage) types.TurnMessage {
	msg.ChatID = c.chatID
	stored, err := c.cfg.Chats.AddMessage(context.WithoutCancel(c.turnCtx), c.chatID, msg, model, usage)
	if err != nil {
		log.Error().Err(err).Str("chatID", c.chatID).Str("role", string(msg.Role)).Msg("persist message")
		msg.ModelName = model
		msg.TokenUsage = usage
		return msg
	}
	c.publish(event.MessagePersisted, event.MessagePersistedData{Message: stored})
	return stored
}

func (c *Controller) placeholder() types.TurnMessage {
	return types.TurnMessage{
		ChatID:    c.chatID,
		Role:      types.RoleAssistant,
		ModelName: c.cfg.ModelName,
		CreatedAt: time.Now().UnixMilli(),
	}
}

func (c *Controller) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryInitial
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = time.Hour
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(c.cfg.MaxRetries))
}

func (c *Controller) publish(t event.EventType, data any) {
	if c.cfg.Bus != nil {
		c.cfg.Bus.Publish(event.Event{Type: t, Data: data})
	}
}

// tailPlaceholder returns the index of the trailing unpersisted assistant
// message, or -1.
func tailPlaceholder(messages []types.TurnMessage) int {
	if n := len(messages); n > 0 {
		last := messages[n-1]
		if last.Role == types.RoleAssistant && last.ID == "" {
			return n - 1
		}
	}
	return -1
}

// replaceTail puts msg in place of the trailing placeholder, or appends it.
func replaceTail(messages []types.TurnMessage, msg types.TurnMessage) []types.TurnMessage {
	if i := tailPlaceholder(messages); i >= 0 {
		messages[i] = msg
		return messages
	}
	return append(messages, msg)
}

// dropInFlight removes empty assistant placeholders and unpersisted tool
// results left by an interrupted turn.
func dropInFlight(messages []types.TurnMessage) []types.TurnMessage {
	out := messages[:0]
	for _, m := range messages {
		if m.ID == "" {
			if m.Role == types.RoleTool {
				continue
			}
			if m.Role == types.RoleAssistant && m.Content == "" && len(m.ToolCalls) == 0 {
				continue
			}
		}
		out = append(out, m)
	}
	return out
}
