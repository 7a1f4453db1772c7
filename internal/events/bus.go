// Package events provides the non-blocking, write-only event distribution
// the core uses to report every observable occurrence. An event
// sink failure must never fail a rebalance: Emit never returns an
// error and never blocks its caller.
package events

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/domain"
)

// Handler processes one emitted event.
type Handler func(domain.Event)

// Bus is a minimal pub/sub dispatcher: subscribers are snapshotted under a read lock and invoked
// on their own goroutine so a slow or panicking handler can never block
// Emit or take down the emitting rebalance.
type Bus struct {
	subscribers map[domain.EventKind]map[uint64]Handler
	log         zerolog.Logger
	nextID      uint64
	mu          sync.RWMutex
}

// NewBus creates an empty Bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[domain.EventKind]map[uint64]Handler),
		log:         log.With().Str("component", "events").Logger(),
	}
}

// Subscription identifies a registered handler for later removal.
type Subscription struct {
	kind domain.EventKind
	id   uint64
}

// Subscribe registers handler for every event of kind.
func (b *Bus) Subscribe(kind domain.EventKind, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if _, ok := b.subscribers[kind]; !ok {
		b.subscribers[kind] = make(map[uint64]Handler)
	}
	b.subscribers[kind][id] = handler
	return Subscription{kind: kind, id: id}
}

// Unsubscribe removes a previously registered handler. Safe to call more than once.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if handlers, ok := b.subscribers[sub.kind]; ok {
		delete(handlers, sub.id)
		if len(handlers) == 0 {
			delete(b.subscribers, sub.kind)
		}
	}
}

// Emit publishes ev to every handler subscribed to ev.Type. Never blocks.
func (b *Bus) Emit(ev domain.Event) {
	b.mu.RLock()
	var handlers []Handler
	if registered := b.subscribers[ev.Type]; len(registered) > 0 {
		handlers = make([]Handler, 0, len(registered))
		for _, h := range registered {
			handlers = append(handlers, h)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		go func(h Handler) {
			defer func() {
				if r := recover(); r != nil {
					b.log.Warn().Interface("panic", r).Msg("event handler panicked")
				}
			}()
			h(ev)
		}(h)
	}

	b.log.Debug().
		Str("event_type", string(ev.Type)).
		Str("asset", string(ev.Asset)).
		Int("subscribers", len(handlers)).
		Msg("event emitted")
}
