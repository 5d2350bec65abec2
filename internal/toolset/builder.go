// Package toolset assembles the tools callable in one conversation turn.
//
// A Registry is built per turn from three sources: the local tools, a
// switch_role tool describing the roles configured at build time, and the
// tools advertised by connected MCP providers. Every executor is wrapped
// the same way:
//
//  1. Invariant repair: the latest assistant message must record the
//     tool request being executed. Some providers stream the request
//     without it reaching the transcript, so the wrapper adds it and
//     persists the message.
//  2. An "executing" tool-result placeholder is appended and the session
//     is marked as having a request in progress.
//  3. The permission gate is asked. A denial yields permission.CancelledText.
//  4. On allow the tool runs; failures become "Error: ..." text.
//  5. The placeholder content is replaced by the result. The conversation
//     controller persists it when the model layer reports the execution.
package toolset

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/qent/sona-sub000/internal/permission"
	"github.com/qent/sona-sub000/internal/tool"
	"github.com/qent/sona-sub000/pkg/types"
)

// ExecutingText is the content of a tool result placeholder.
const ExecutingText = "executing"

// ErrNoChat is returned when building for an empty chat ID.
var ErrNoChat = errors.New("no chat selected")

// Session is the session state the wrappers mutate.
type Session interface {
	Current() types.ChatSession
	Update(fn func(*types.ChatSession)) types.ChatSession
}

// Authorizer is the permission gate.
type Authorizer interface {
	Authorize(ctx context.Context, chatID, toolName string) (types.ToolDecision, error)
	AuthorizeWithPreview(ctx context.Context, chatID, toolName, preview string) (types.ToolDecision, error)
}

// MessageStore persists repaired assistant messages.
type MessageStore interface {
	AddMessage(ctx context.Context, chatID string, msg types.TurnMessage, model string, usage types.TokenUsage) (types.TurnMessage, error)
	UpdateMessage(ctx context.Context, msg types.TurnMessage) error
}

// RemoteTools is the MCP provider manager.
type RemoteTools interface {
	ListTools() []types.ToolSpec
	Execute(ctx context.Context, callID, name, args string) string
}

// Config configures a Builder. Roles and Remote may be nil.
type Config struct {
	Local   *tool.Registry
	Roles   tool.Roles
	Remote  RemoteTools
	Session Session
	Gate    Authorizer
	Store   MessageStore
	WorkDir string
}

// Builder builds per-turn tool registries.
type Builder struct {
	cfg Config
}

// NewBuilder creates a builder.
func NewBuilder(cfg Config) *Builder {
	if cfg.Local == nil {
		cfg.Local = tool.NewRegistry()
	}
	return &Builder{cfg: cfg}
}

// Build assembles the tools for one turn of chatID. modelName is recorded
// on repaired assistant messages.
func (b *Builder) Build(ctx context.Context, chatID, modelName string) (*Registry, error) {
	if chatID == "" {
		return nil, ErrNoChat
	}

	r := &Registry{
		entries: make(map[string]entry),
	}
	t := turn{builder: b, chatID: chatID, model: modelName}
	r.unknown = t.unknown

	locals := b.cfg.Local.List()
	if b.cfg.Roles != nil {
		locals = append(locals, tool.NewSwitchRoleTool(b.cfg.Roles))
	}
	sort.Slice(locals, func(i, j int) bool { return locals[i].ID() < locals[j].ID() })

	for _, lt := range locals {
		spec := types.ToolSpec{
			Name:        lt.ID(),
			Description: lt.Description(),
			Parameters:  lt.Parameters(),
		}
		r.add(spec, t.wrap(spec, t.localPreview(lt), t.runLocal(lt)))
	}

	if b.cfg.Remote != nil {
		for _, spec := range b.cfg.Remote.ListTools() {
			if _, taken := r.entries[spec.Name]; taken {
				log.Warn().Str("tool", spec.Name).Str("provider", spec.Provider).Msg("provider tool shadowed by local tool")
				continue
			}
			r.add(spec, t.wrap(spec, nil, t.runRemote(spec)))
		}
	}

	log.Debug().Str("chatID", chatID).Int("tools", len(r.specs)).Msg("tool registry built")
	return r, nil
}

// turn carries the per-build context of the wrappers.
type turn struct {
	builder *Builder
	chatID  string
	model   string
}

type runFunc func(ctx context.Context, call types.ToolCall) string

type previewFunc func(ctx context.Context, call types.ToolCall) (string, error)

func (t turn) toolContext(call types.ToolCall) *tool.Context {
	return &tool.Context{
		ChatID:  t.chatID,
		CallID:  call.ID,
		WorkDir: t.builder.cfg.WorkDir,
	}
}

func (t turn) runLocal(lt tool.Tool) runFunc {
	return func(ctx context.Context, call types.ToolCall) string {
		result, err := lt.Execute(ctx, arguments(call), t.toolContext(call))
		if err != nil {
			return "Error: " + err.Error()
		}
		if result == nil {
			return ""
		}
		return result.Output
	}
}

func (t turn) localPreview(lt tool.Tool) previewFunc {
	p, ok := lt.(tool.Previewer)
	if !ok {
		return nil
	}
	return func(ctx context.Context, call types.ToolCall) (string, error) {
		return p.Preview(ctx, arguments(call), t.toolContext(call))
	}
}

func (t turn) runRemote(spec types.ToolSpec) runFunc {
	remote := t.builder.cfg.Remote
	return func(ctx context.Context, call types.ToolCall) string {
		return remote.Execute(ctx, call.ID, spec.Name, call.ArgumentsJSON)
	}
}

// wrap applies the permission-gated execution sequence around run.
func (t turn) wrap(spec types.ToolSpec, preview previewFunc, run runFunc) Executor {
	return func(ctx context.Context, call types.ToolCall) string {
		logger := log.With().Str("chatID", t.chatID).Str("tool", spec.Name).Str("callID", call.ID).Logger()

		t.repair(ctx, call)
		t.appendPlaceholder(ctx, call)
		if ctx.Err() != nil {
			return permission.CancelledText
		}

		var decision types.ToolDecision
		var err error
		if preview != nil {
			text, perr := preview(ctx, call)
			if perr != nil {
				result := "Error: " + perr.Error()
				t.complete(ctx, call, result)
				return result
			}
			decision, err = t.builder.cfg.Gate.AuthorizeWithPreview(ctx, t.chatID, spec.Name, text)
		} else {
			decision, err = t.builder.cfg.Gate.Authorize(ctx, t.chatID, spec.Name)
		}

		var result string
		switch {
		case err != nil:
			logger.Debug().Err(err).Msg("permission wait abandoned")
			result = permission.CancelledText
		case !decision.Allow:
			logger.Info().Msg("tool call denied")
			result = permission.CancelledText
		default:
			start := time.Now()
			result = run(ctx, call)
			logger.Debug().Dur("took", time.Since(start)).Msg("tool executed")
		}

		t.complete(ctx, call, result)
		return result
	}
}

// unknown handles a call to a tool that is not in the registry.
func (t turn) unknown(ctx context.Context, call types.ToolCall, suggestion string) string {
	t.repair(ctx, call)
	msg := "Error: unknown tool " + call.Name
	if suggestion != "" {
		msg += ". Did you mean " + suggestion + "?"
	}
	log.Warn().Str("chatID", t.chatID).Str("tool", call.Name).Str("suggestion", suggestion).Msg("model called unknown tool")
	return msg
}

// repair makes sure the latest assistant message records call, persisting
// the message when it had to be changed.
//
// The wrappers leave the session alone once ctx is cancelled: a stopped
// turn has already been cleaned up and must not be reopened.
func (t turn) repair(ctx context.Context, call types.ToolCall) {
	var (
		repaired types.TurnMessage
		changed  bool
	)
	t.builder.cfg.Session.Update(func(cs *types.ChatSession) {
		if ctx.Err() != nil {
			return
		}
		idx := lastAssistant(cs.Messages)
		if idx < 0 || cs.Messages[idx].HasToolCall(call.ID) {
			return
		}
		cs.Messages[idx].ToolCalls = append(cs.Messages[idx].ToolCalls, call)
		repaired = cs.Messages[idx].Clone()
		changed = true
	})
	if !changed {
		return
	}

	store := t.builder.cfg.Store
	if repaired.ID != "" {
		if err := store.UpdateMessage(ctx, repaired); err != nil {
			log.Error().Err(err).Str("chatID", t.chatID).Str("messageID", repaired.ID).Msg("persist repaired message")
		}
		return
	}

	stored, err := store.AddMessage(ctx, t.chatID, repaired, t.model, types.TokenUsage{})
	if err != nil {
		log.Error().Err(err).Str("chatID", t.chatID).Msg("persist repaired message")
		return
	}
	t.builder.cfg.Session.Update(func(cs *types.ChatSession) {
		for i := len(cs.Messages) - 1; i >= 0; i-- {
			m := &cs.Messages[i]
			if m.Role == types.RoleAssistant && m.ID == "" && m.HasToolCall(call.ID) {
				m.ID = stored.ID
				m.ModelName = stored.ModelName
				m.CreatedAt = stored.CreatedAt
				return
			}
		}
	})
}

func (t turn) appendPlaceholder(ctx context.Context, call types.ToolCall) {
	t.builder.cfg.Session.Update(func(cs *types.ChatSession) {
		if ctx.Err() != nil {
			return
		}
		cs.Messages = append(cs.Messages, types.TurnMessage{
			ChatID:     t.chatID,
			Role:       types.RoleTool,
			Content:    ExecutingText,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			CreatedAt:  time.Now().UnixMilli(),
		})
		cs.RequestInProgress = true
	})
}

func (t turn) complete(ctx context.Context, call types.ToolCall, result string) {
	t.builder.cfg.Session.Update(func(cs *types.ChatSession) {
		if ctx.Err() != nil {
			return
		}
		if i := FindToolResult(cs.Messages, call.ID); i >= 0 {
			cs.Messages[i].Content = result
		}
	})
}

// FindToolResult returns the index of the unpersisted result message for
// callID, or -1.
func FindToolResult(messages []types.TurnMessage, callID string) int {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role == types.RoleTool && m.ToolCallID == callID && m.ID == "" {
			return i
		}
	}
	return -1
}

func lastAssistant(messages []types.TurnMessage) int {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == types.RoleAssistant {
			return i
		}
	}
	return -1
}

func arguments(call types.ToolCall) json.RawMessage {
	if call.ArgumentsJSON == "" {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(call.ArgumentsJSON)
}
