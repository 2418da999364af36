package engine

import (
	"sync"
	"time"
)

// SubscriptionID identifies a subscriber for later removal.
type SubscriptionID int

type subscriber struct {
	fn    func(Event)
	types map[EventType]bool // nil means all
}

// EventBus fans engine events out to the TUI, the SSE stream, and any
// other consumer. Handlers run on the emitter's goroutine; consumers
// that need to block must hand off to their own.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[SubscriptionID]*subscriber
	nextID SubscriptionID
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[SubscriptionID]*subscriber)}
}

// Subscribe registers a handler for every event type.
func (b *EventBus) Subscribe(fn func(Event)) SubscriptionID {
	return b.subscribe(fn, nil)
}

// SubscribeTypes registers a handler for the listed event types only.
func (b *EventBus) SubscribeTypes(fn func(Event), types ...EventType) SubscriptionID {
	set := make(map[EventType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return b.subscribe(fn, set)
}

func (b *EventBus) subscribe(fn func(Event), types map[EventType]bool) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[id] = &subscriber{fn: fn, types: types}
	return id
}

// Unsubscribe removes a handler. Unknown IDs are ignored.
func (b *EventBus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Emit delivers an event to every matching subscriber, stamping the
// time if the caller left it zero.
func (b *EventBus) Emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if s.types == nil || s.types[e.Type] {
			s.fn(e)
		}
	}
}
