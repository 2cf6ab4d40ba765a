// Package eventbus provides the append-only event log and subscriber
// registry shared across a deployment run.
//
// Events are immutable once appended. Append order is the only ordering
// guarantee: events for a given span appear in the order their originating
// code emitted them, while sibling spans may interleave arbitrarily.
// Subscriber fan-out is synchronous with respect to Emit, making Emit a
// suspension point for the emitting task. Fan-out happens outside the log
// critical section so a slow handler never blocks concurrent appends.
package eventbus

import (
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/deployd/internal/runctx"
)

// Lifecycle event types emitted by scopes and tasks. Task bodies may emit
// additional domain-specific types through the same bus.
const (
	TypeScopeEnter    = "scope.enter"
	TypeScopeExit     = "scope.exit"
	TypeTaskStart     = "task.start"
	TypeTaskComplete  = "task.complete"
	TypeTaskCancelled = "task.cancelled"
	TypeTaskError     = "task.error"
)

// Event is an immutable, causally-tagged record of something that happened.
type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	TraceID   string         `json:"trace_id"`
	SpanID    string         `json:"span_id"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Handler receives events for a subscribed type. Handler errors propagate
// to the caller of Emit; the bus performs no isolation.
type Handler func(Event, *runctx.Context) error

// Bus is the process-local event log plus subscriber registry. Append is
// safe under concurrent callers. Subscribe must complete before concurrent
// emission begins.
type Bus struct {
	mu          sync.Mutex
	log         []Event
	subscribers map[string][]Handler
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string][]Handler)}
}

// Subscribe registers a handler for an event type. Handlers run in
// registration order. There is no unsubscribe.
func (b *Bus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], h)
}

// Emit appends an event to the log and invokes every handler registered
// for its type. Emit does not return until all handlers have run; a handler
// error aborts the remaining handlers and is returned to the emitter.
func (b *Bus) Emit(eventType string, payload map[string]any, rc *runctx.Context) error {
	ev := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		TraceID:   rc.TraceID(),
		SpanID:    rc.SpanID(),
		Payload:   payload,
	}

	b.mu.Lock()
	b.log = append(b.log, ev)
	handlers := b.subscribers[eventType]
	b.mu.Unlock()

	eventsEmitted.WithLabelValues(eventType).Inc()

	for _, h := range handlers {
		if err := h(ev, rc); err != nil {
			return fmt.Errorf("subscriber for %s failed: %w", eventType, err)
		}
	}
	return nil
}

// Events returns a snapshot of the log in append order.
func (b *Bus) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.log))
	copy(out, b.log)
	return out
}

// Len returns the number of appended events.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.log)
}
