// Package state holds the single current ChatSession snapshot and
// broadcasts every replacement to observers.
package state

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/qent/sona-sub000/internal/event"
	"github.com/qent/sona-sub000/pkg/types"
)

// Loader reads persisted chat history.
type Loader interface {
	LoadMessages(ctx context.Context, chatID string) ([]types.TurnMessage, error)
	LoadTokenUsage(ctx context.Context, chatID string) (types.TokenUsage, error)
}

// SessionState is the point of truth for what the chat is right now.
// Every change replaces the whole value; readers always get copies.
type SessionState struct {
	mu     sync.Mutex
	latest *event.Latest[types.ChatSession]
	loader Loader
	bus    *event.Bus
}

// New creates a SessionState holding an empty session. bus may be nil.
func New(loader Loader, bus *event.Bus) *SessionState {
	return &SessionState{
		latest: event.NewLatestWith(types.ChatSession{}),
		loader: loader,
		bus:    bus,
	}
}

// Current returns a copy of the current session.
func (s *SessionState) Current() types.ChatSession {
	v, _ := s.latest.Get()
	return v.Clone()
}

// Replace installs session as current. Current observes it as soon as
// Replace returns; subscribers are notified asynchronously, in order.
func (s *SessionState) Replace(session types.ChatSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceLocked(session)
}

// Update applies fn to a copy of the current session and installs the
// result. Concurrent updates are serialized.
func (s *SessionState) Update(fn func(*types.ChatSession)) types.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, _ := s.latest.Get()
	next := cur.Clone()
	fn(&next)
	s.replaceLocked(next)
	return next.Clone()
}

func (s *SessionState) replaceLocked(session types.ChatSession) {
	if err := session.Validate(); err != nil {
		log.Warn().Err(err).Msg("session snapshot violates invariant")
	}
	session = session.Clone()
	s.latest.Set(session)
	if s.bus != nil {
		s.bus.Publish(event.Event{
			Type: event.SessionUpdated,
			Data: event.SessionUpdatedData{Session: session},
		})
	}
}

// Subscribe streams session snapshots, starting with the current one.
func (s *SessionState) Subscribe(ctx context.Context) <-chan types.ChatSession {
	return s.latest.Subscribe(ctx)
}

// LoadChat replaces the session with the persisted state of chatID.
// The auto-approve preference carries over; in-flight flags are cleared.
func (s *SessionState) LoadChat(ctx context.Context, chatID string) error {
	messages, err := s.loader.LoadMessages(ctx, chatID)
	if err != nil {
		return fmt.Errorf("load chat %s: %w", chatID, err)
	}
	usage, err := s.loader.LoadTokenUsage(ctx, chatID)
	if err != nil {
		return fmt.Errorf("load usage %s: %w", chatID, err)
	}

	s.Update(func(cs *types.ChatSession) {
		*cs = types.ChatSession{
			ChatID:           chatID,
			TokenUsage:       usage,
			Messages:         messages,
			AutoApproveTools: cs.AutoApproveTools,
		}
	})
	return nil
}

// Close ends all subscriptions.
func (s *SessionState) Close() {
	s.latest.Close()
}
