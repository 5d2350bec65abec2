package permission

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/qent/sona-sub000/internal/event"
	"github.com/qent/sona-sub000/pkg/types"
)

// Gate authorizes tool calls for the current session.
type Gate struct {
	session  Session
	allow    AllowList
	bus      *event.Bus
	patterns []string

	mu      sync.Mutex
	pending map[string]*waiter // requestID -> waiter
	order   []string           // FIFO of pending request IDs
}

// waiter is a single-slot future for one request. done is the asking
// turn's context; once it is closed the turn is gone and must not be
// marked in progress again.
type waiter struct {
	req  Request
	ch   chan types.ToolDecision
	done <-chan struct{}
}

func (w *waiter) live() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// NewGate creates a gate. patterns are doublestar tool-name patterns that
// are always allowed; bus may be nil.
func NewGate(session Session, allow AllowList, bus *event.Bus, patterns []string) *Gate {
	return &Gate{
		session:  session,
		allow:    allow,
		bus:      bus,
		patterns: ValidPatterns(patterns),
		pending:  make(map[string]*waiter),
	}
}

// Authorize decides whether toolName may run in chatID, suspending until
// Resolve when no standing approval applies. If ctx ends first the call
// is denied and ctx.Err() is returned.
func (g *Gate) Authorize(ctx context.Context, chatID, toolName string) (types.ToolDecision, error) {
	return g.authorize(ctx, chatID, toolName, "")
}

// AuthorizeWithPreview is Authorize that also exposes preview (a patch)
// as the session's pending patch while the question is open.
func (g *Gate) AuthorizeWithPreview(ctx context.Context, chatID, toolName, preview string) (types.ToolDecision, error) {
	return g.authorize(ctx, chatID, toolName, preview)
}

func (g *Gate) authorize(ctx context.Context, chatID, toolName, preview string) (types.ToolDecision, error) {
	if g.preapproved(ctx, chatID, toolName) {
		return allowOnce, nil
	}

	w := &waiter{
		req: Request{
			ID:       ulid.Make().String(),
			ChatID:   chatID,
			ToolName: toolName,
			Preview:  preview,
		},
		ch:   make(chan types.ToolDecision, 1),
		done: ctx.Done(),
	}

	g.mu.Lock()
	g.pending[w.req.ID] = w
	g.order = append(g.order, w.req.ID)
	head := g.headLocked()
	g.mu.Unlock()

	g.session.Update(func(cs *types.ChatSession) {
		showPending(cs, head)
	})

	log.Debug().Str("chatID", chatID).Str("tool", toolName).Str("requestID", w.req.ID).Msg("permission required")
	g.publish(event.PermissionRequired, event.PermissionRequiredData{
		RequestID: w.req.ID,
		ChatID:    chatID,
		ToolName:  toolName,
		Preview:   preview,
	})

	select {
	case d := <-w.ch:
		return d, nil
	case <-ctx.Done():
		g.abandon(w)
		// A Resolve that won the race has already delivered.
		select {
		case d := <-w.ch:
			return d, nil
		default:
		}
		return types.ToolDecision{}, ctx.Err()
	}
}

func (g *Gate) preapproved(ctx context.Context, chatID, toolName string) bool {
	if g.session.Current().AutoApproveTools {
		return true
	}
	if MatchAny(g.patterns, toolName) {
		return true
	}
	allowed, err := g.allow.IsToolAllowed(ctx, chatID, toolName)
	if err != nil {
		log.Warn().Err(err).Str("chatID", chatID).Str("tool", toolName).Msg("allow-list lookup failed")
		return false
	}
	return allowed
}

// Resolve answers the oldest outstanding request.
func (g *Gate) Resolve(ctx context.Context, allow, persist bool) error {
	g.mu.Lock()
	if len(g.order) == 0 {
		g.mu.Unlock()
		return ErrNoPendingRequest
	}
	id := g.order[0]
	g.mu.Unlock()
	return g.ResolveRequest(ctx, id, allow, persist)
}

// ResolveRequest answers a specific request. A request resolves at most
// once; later calls return ErrNoPendingRequest.
func (g *Gate) ResolveRequest(ctx context.Context, requestID string, allow, persist bool) error {
	g.mu.Lock()
	w, ok := g.pending[requestID]
	if !ok {
		g.mu.Unlock()
		return ErrNoPendingRequest
	}
	g.removeLocked(requestID)
	head := g.headLocked()
	g.mu.Unlock()

	decision := types.ToolDecision{Allow: allow, Persist: persist}
	if allow && persist {
		if err := g.allow.AddAllowedTool(ctx, w.req.ChatID, w.req.ToolName); err != nil {
			log.Error().Err(err).Str("chatID", w.req.ChatID).Str("tool", w.req.ToolName).Msg("failed to persist tool approval")
		}
	}

	g.session.Update(func(cs *types.ChatSession) {
		if head != nil {
			showPending(cs, head)
			return
		}
		clearPending(cs)
		// Checked under the state lock: a Stop that cancelled the turn
		// clears the flags after this or has already cleared them.
		if w.live() {
			cs.RequestInProgress = true
		}
	})

	g.publish(event.PermissionResolved, event.PermissionResolvedData{
		RequestID: requestID,
		ChatID:    w.req.ChatID,
		ToolName:  w.req.ToolName,
		Allow:     allow,
		Persist:   persist,
	})

	w.ch <- decision
	return nil
}

// Pending returns the oldest outstanding request.
func (g *Gate) Pending() (Request, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if head := g.headLocked(); head != nil {
		return *head, true
	}
	return Request{}, false
}

// abandon drops a waiter whose caller went away.
func (g *Gate) abandon(w *waiter) {
	g.mu.Lock()
	_, ok := g.pending[w.req.ID]
	if ok {
		g.removeLocked(w.req.ID)
	}
	head := g.headLocked()
	g.mu.Unlock()

	if !ok {
		return
	}
	log.Debug().Str("requestID", w.req.ID).Msg("permission request abandoned")
	g.session.Update(func(cs *types.ChatSession) {
		if head != nil {
			showPending(cs, head)
			return
		}
		clearPending(cs)
	})
}

func (g *Gate) removeLocked(id string) {
	delete(g.pending, id)
	for i, v := range g.order {
		if v == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
}

func (g *Gate) headLocked() *Request {
	if len(g.order) == 0 {
		return nil
	}
	req := g.pending[g.order[0]].req
	return &req
}

func (g *Gate) publish(t event.EventType, data any) {
	if g.bus != nil {
		g.bus.Publish(event.Event{Type: t, Data: data})
	}
}

func showPending(cs *types.ChatSession, req *Request) {
	cs.PendingToolName = types.StringPtr(req.ToolName)
	cs.PendingPatch = nil
	if req.Preview != "" {
		cs.PendingPatch = types.StringPtr(req.Preview)
	}
	cs.RequestInProgress = false
	cs.IsStreaming = false
}

func clearPending(cs *types.ChatSession) {
	cs.PendingToolName = nil
	cs.PendingPatch = nil
}
