package event

import (
	"context"
	"sync"
)

// Latest holds a current value and fans every update out to subscribers.
// A new subscriber first receives the current value. Each subscriber has
// its own queue so it observes updates in the order they were set, and a
// slow subscriber never blocks Set or other subscribers.
type Latest[T any] struct {
	mu     sync.Mutex
	value  T
	has    bool
	subs   map[uint64]*latestSub[T]
	nextID uint64
	closed bool
}

type latestSub[T any] struct {
	out    chan T
	queue  []T
	signal chan struct{}
	closed bool
}

// NewLatest returns a broadcaster with no current value.
func NewLatest[T any]() *Latest[T] {
	return &Latest[T]{subs: make(map[uint64]*latestSub[T])}
}

// NewLatestWith returns a broadcaster holding initial.
func NewLatestWith[T any](initial T) *Latest[T] {
	l := NewLatest[T]()
	l.value = initial
	l.has = true
	return l
}

// Get returns the current value.
func (l *Latest[T]) Get() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, l.has
}

// Set replaces the current value and queues it for every subscriber.
// When Set returns, Get observes v.
func (l *Latest[T]) Set(v T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.value = v
	l.has = true
	for _, s := range l.subs {
		s.queue = append(s.queue, v)
		notify(s.signal)
	}
}

// Subscribe returns a channel of values. The channel is closed when ctx
// is done or the broadcaster is closed.
func (l *Latest[T]) Subscribe(ctx context.Context) <-chan T {
	s := &latestSub[T]{
		out:    make(chan T),
		signal: make(chan struct{}, 1),
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		close(s.out)
		return s.out
	}
	if l.has {
		s.queue = append(s.queue, l.value)
		notify(s.signal)
	}
	id := l.nextID
	l.nextID++
	l.subs[id] = s
	l.mu.Unlock()

	go l.pump(ctx, id, s)
	return s.out
}

// Subscribers returns the number of live subscribers.
func (l *Latest[T]) Subscribers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

func (l *Latest[T]) pump(ctx context.Context, id uint64, s *latestSub[T]) {
	defer close(s.out)
	defer l.remove(id)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.signal:
		}

		for {
			v, ok, closed := l.next(s)
			if !ok {
				if closed {
					return
				}
				break
			}
			select {
			case s.out <- v:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (l *Latest[T]) next(s *latestSub[T]) (T, bool, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var zero T
	if len(s.queue) == 0 {
		return zero, false, s.closed
	}
	v := s.queue[0]
	s.queue[0] = zero
	s.queue = s.queue[1:]
	return v, true, false
}

func (l *Latest[T]) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.subs, id)
}

// Close stops accepting values. Subscribers drain what is queued and
// then see their channel closed.
func (l *Latest[T]) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for _, s := range l.subs {
		s.closed = true
		notify(s.signal)
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
