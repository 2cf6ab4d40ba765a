package eventbus

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/fyrsmithlabs/deployd/internal/runctx"
)

// DefaultSubjectPrefix is the leading token for forwarded event subjects.
const DefaultSubjectPrefix = "deploy"

// Forwarder republishes bus events onto NATS subjects so other processes
// can observe a run. Subjects are <prefix>.<trace_id>.<type>. Forwarding is
// transport only; the in-process log remains the source of truth.
type Forwarder struct {
	nc     *nats.Conn
	prefix string
}

// NewForwarder creates a forwarder publishing through nc. An empty prefix
// falls back to DefaultSubjectPrefix.
func NewForwarder(nc *nats.Conn, prefix string) *Forwarder {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Forwarder{nc: nc, prefix: prefix}
}

// Attach subscribes the forwarder to the given event types on bus.
func (f *Forwarder) Attach(bus *Bus, types ...string) {
	for _, t := range types {
		bus.Subscribe(t, f.forward)
	}
}

// AttachLifecycle subscribes the forwarder to all scope and task lifecycle
// events.
func (f *Forwarder) AttachLifecycle(bus *Bus) {
	f.Attach(bus,
		TypeScopeEnter, TypeScopeExit,
		TypeTaskStart, TypeTaskComplete, TypeTaskCancelled, TypeTaskError,
	)
}

// forward publishes a single event as JSON.
func (f *Forwarder) forward(ev Event, _ *runctx.Context) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.Type, err)
	}
	subject := fmt.Sprintf("%s.%s.%s", f.prefix, ev.TraceID, ev.Type)
	if err := f.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
