// Package runctx provides the causal run context propagated from parent
// tasks to child tasks during a deployment run.
//
// A Context identifies one point in a run's causal tree: the run-wide trace
// ID, a dotted span path reflecting ancestry, the execution mode selected
// for the run, and free-form metadata. Contexts are immutable; derivation
// of a child is a pure function, safe to call concurrently from sibling
// tasks sharing a parent.
package runctx

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Mode selects the execution posture for a run.
type Mode string

const (
	// ModeEmergency favors speed over completeness.
	ModeEmergency Mode = "emergency"

	// ModeSurgical makes the minimal set of changes.
	ModeSurgical Mode = "surgical"

	// ModeSystematic is the default: complete, ordered execution.
	ModeSystematic Mode = "systematic"

	// ModeExploratory adds explanatory detail to every step.
	ModeExploratory Mode = "exploratory"

	// ModeStrategic reports at a high level with decision points.
	ModeStrategic Mode = "strategic"
)

// AllModes returns the closed set of valid modes.
func AllModes() []Mode {
	return []Mode{ModeEmergency, ModeSurgical, ModeSystematic, ModeExploratory, ModeStrategic}
}

// Valid reports whether m is a member of the closed mode set.
func (m Mode) Valid() bool {
	for _, known := range AllModes() {
		if m == known {
			return true
		}
	}
	return false
}

// ParseMode converts a string into a Mode, rejecting unknown values.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown mode %q (valid: %v)", s, AllModes())
	}
	return m, nil
}

// MetaParentSpan is the metadata key recording the parent's span ID on a
// derived child context.
const MetaParentSpan = "parent_span"

// RootSpanID is the span ID assigned to the root of every run.
const RootSpanID = "root"

// Context is an immutable causal-lineage record. The zero value is not
// usable; construct via NewRoot or Child.
type Context struct {
	traceID  string
	spanID   string
	mode     Mode
	metadata map[string]string
}

// NewRoot creates the root context for a run. The trace ID is unique per
// run and stable across every context derived from this one.
func NewRoot(mode Mode, metadata map[string]string) *Context {
	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	return &Context{
		traceID:  "deploy-" + uuid.NewString(),
		spanID:   RootSpanID,
		mode:     mode,
		metadata: md,
	}
}

// Child derives the context for a named sub-operation. The child shares the
// parent's trace ID and mode, extends the span path with the operation name,
// and records the parent's span in its metadata. Span uniqueness among
// siblings comes from the operation name supplied by the caller.
func (c *Context) Child(operation string) *Context {
	md := make(map[string]string, len(c.metadata)+1)
	for k, v := range c.metadata {
		md[k] = v
	}
	md[MetaParentSpan] = c.spanID
	return &Context{
		traceID:  c.traceID,
		spanID:   c.spanID + "." + operation,
		mode:     c.mode,
		metadata: md,
	}
}

// TraceID returns the run-wide trace identifier.
func (c *Context) TraceID() string { return c.traceID }

// SpanID returns the dotted span path for this context.
func (c *Context) SpanID() string { return c.spanID }

// Mode returns the execution mode for the run.
func (c *Context) Mode() Mode { return c.mode }

// Meta looks up a single metadata entry.
func (c *Context) Meta(key string) (string, bool) {
	v, ok := c.metadata[key]
	return v, ok
}

// Metadata returns a copy of the metadata map.
func (c *Context) Metadata() map[string]string {
	md := make(map[string]string, len(c.metadata))
	for k, v := range c.metadata {
		md[k] = v
	}
	return md
}

// ctxKey is the context.Context key for a *Context.
type ctxKey struct{}

// Into stores rc in a context.Context for log correlation. Explicit
// parameter passing remains the propagation mechanism between tasks; this
// carriage exists so the logging layer can annotate entries.
func Into(ctx context.Context, rc *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, rc)
}

// From recovers the run context, or nil when none is attached.
func From(ctx context.Context) *Context {
	if rc, ok := ctx.Value(ctxKey{}).(*Context); ok {
		return rc
	}
	return nil
}
