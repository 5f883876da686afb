// Package events is the in-process pub/sub bus connecting the daemon's
// phases to observers: the status snapshot writer, the CLI's live
// output, and tests.
package events

import (
	"sync"
	"time"
)

// Type names an event stream.
type Type string

const (
	IndexUpdated        Type = "index.updated"
	EnrichmentCompleted Type = "enrichment.completed"
	EmbeddingCompleted  Type = "embedding.completed"
	HealthSnapshot      Type = "health.snapshot"
	ErrorRecorded       Type = "error.recorded"
)

// Event is one published occurrence. Payload shape depends on Type;
// subscribers assert what they expect.
type Event struct {
	Type    Type
	At      time.Time
	Payload any
}

// Handler consumes events. Handlers run synchronously on the
// publisher's goroutine; keep them fast and never block.
type Handler func(Event)

// Bus fans events out to subscribers by type. Zero value unusable;
// use NewBus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
	all      []Handler
}

// NewBus builds an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Type][]Handler)}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// SubscribeAll registers a handler for every event.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish delivers the event to matching subscribers, in subscription
// order. The timestamp is filled in when zero.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.RLock()
	typed := b.handlers[ev.Type]
	all := b.all
	b.mu.RUnlock()

	for _, h := range typed {
		h(ev)
	}
	for _, h := range all {
		h(ev)
	}
}
