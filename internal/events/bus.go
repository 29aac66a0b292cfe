package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Bus fans events out to subscriptions.
type Bus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger,
		subs:   make(map[*Subscription]struct{}),
	}
}

// Subscription receives the events a subscriber asked for.
type Subscription struct {
	bus    *Bus
	queue  *Queue[Event]
	filter map[Type]struct{} // nil = all types
}

// Subscribe registers a subscription for the given types, or for every type
// when none are given.
func (b *Bus) Subscribe(types ...Type) *Subscription {
	s := &Subscription{
		bus:   b,
		queue: NewQueue[Event](64),
	}
	if len(types) > 0 {
		s.filter = make(map[Type]struct{}, len(types))
		for _, t := range types {
			s.filter[t] = struct{}{}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.queue.Close()
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Unsubscribe detaches a subscription and closes its queue.
func (b *Bus) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
	s.queue.Close()
}

// Publish delivers ev to every matching subscription. It never blocks on
// consumers.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		if s.wants(ev.Type) {
			s.queue.Push(ev)
		}
	}
}

// Close closes every subscription queue. Later publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.queue.Close()
	}
	b.subs = nil
	b.logger.Debug("event bus closed")
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (s *Subscription) wants(t Type) bool {
	if s.filter == nil {
		return true
	}
	_, ok := s.filter[t]
	return ok
}

// Receive blocks for the next event. ok is false when the subscription is
// closed and drained or ctx is done.
func (s *Subscription) Receive(ctx context.Context) (Event, bool) {
	return s.queue.Pop(ctx)
}

// TryReceive returns the next event without blocking.
func (s *Subscription) TryReceive() (Event, bool) {
	return s.queue.TryPop()
}

// Len returns the number of pending events.
func (s *Subscription) Len() int {
	return s.queue.Len()
}

// Close unsubscribes from the bus.
func (s *Subscription) Close() {
	s.bus.Unsubscribe(s)
}

// Run calls fn for each event until ctx is done or the subscription closes.
func (s *Subscription) Run(ctx context.Context, fn func(Event)) {
	for {
		ev, ok := s.Receive(ctx)
		if !ok {
			return
		}
		fn(ev)
	}
}
