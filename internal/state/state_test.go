package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qent/sona-sub000/internal/event"
	"github.com/qent/sona-sub000/pkg/types"
)

type fakeLoader struct {
	messages map[string][]types.TurnMessage
	usage    map[string]types.TokenUsage
}

func (f *fakeLoader) LoadMessages(ctx context.Context, chatID string) ([]types.TurnMessage, error) {
	msgs, ok := f.messages[chatID]
	if !ok {
		return nil, errors.New("chat not found")
	}
	return msgs, nil
}

func (f *fakeLoader) LoadTokenUsage(ctx context.Context, chatID string) (types.TokenUsage, error) {
	return f.usage[chatID], nil
}

func next(t *testing.T, ch <-chan types.ChatSession) types.ChatSession {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for session")
	}
	return types.ChatSession{}
}

func TestSessionState_ReplaceIsVisibleImmediately(t *testing.T) {
	s := New(&fakeLoader{}, nil)

	s.Replace(types.ChatSession{ChatID: "1", RequestInProgress: true})

	cur := s.Current()
	assert.Equal(t, "1", cur.ChatID)
	assert.True(t, cur.RequestInProgress)
}

func TestSessionState_CurrentIsACopy(t *testing.T) {
	s := New(&fakeLoader{}, nil)
	s.Replace(types.ChatSession{ChatID: "1", Messages: []types.TurnMessage{{Content: "a"}}})

	cur := s.Current()
	cur.Messages[0].Content = "mutated"

	assert.Equal(t, "a", s.Current().Messages[0].Content)
}

func TestSessionState_SubscribersSeeEmissionOrder(t *testing.T) {
	s := New(&fakeLoader{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.Subscribe(ctx)
	assert.Equal(t, "", next(t, ch).ChatID, "replays current value first")

	for i := 0; i < 50; i++ {
		s.Update(func(cs *types.ChatSession) {
			cs.Messages = append(cs.Messages, types.TurnMessage{Content: "m"})
		})
	}

	for i := 1; i <= 50; i++ {
		assert.Len(t, next(t, ch).Messages, i)
	}
}

func TestSessionState_ConcurrentUpdatesAreSerialized(t *testing.T) {
	s := New(&fakeLoader{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update(func(cs *types.ChatSession) {
				cs.TokenUsage = cs.TokenUsage.Add(types.TokenUsage{Input: 1})
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(20), s.Current().TokenUsage.Input)
}

func TestSessionState_LoadChat(t *testing.T) {
	loader := &fakeLoader{
		messages: map[string][]types.TurnMessage{
			"7": {{ID: "a", Role: types.RoleUser, Content: "hi"}, {ID: "b", Role: types.RoleAssistant, Content: "hello"}},
		},
		usage: map[string]types.TokenUsage{"7": {Input: 5, Output: 9}},
	}
	s := New(loader, nil)
	s.Replace(types.ChatSession{ChatID: "1", RequestInProgress: true, IsStreaming: true, AutoApproveTools: true})

	require.NoError(t, s.LoadChat(context.Background(), "7"))

	cur := s.Current()
	assert.Equal(t, "7", cur.ChatID)
	assert.Len(t, cur.Messages, 2)
	assert.Equal(t, types.TokenUsage{Input: 5, Output: 9}, cur.TokenUsage)
	assert.False(t, cur.RequestInProgress)
	assert.False(t, cur.IsStreaming)
	assert.True(t, cur.AutoApproveTools)

	err := s.LoadChat(context.Background(), "missing")
	assert.Error(t, err)
	assert.Equal(t, "7", s.Current().ChatID, "failed load leaves state untouched")
}

func TestSessionState_PublishesOnBus(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()

	got := make(chan event.SessionUpdatedData, 1)
	bus.Subscribe(event.SessionUpdated, func(e event.Event) {
		got <- e.Data.(event.SessionUpdatedData)
	})

	s := New(&fakeLoader{}, bus)
	s.Replace(types.ChatSession{ChatID: "42"})

	select {
	case data := <-got:
		assert.Equal(t, "42", data.Session.ChatID)
	case <-time.After(time.Second):
		t.Fatal("no bus event")
	}
}
