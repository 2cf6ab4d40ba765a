// Package scope implements the structured-concurrency unit of deployd.
//
// A Scope owns every task spawned within it: Exit does not return control
// to the caller until all spawned tasks have reached a terminal state, so
// resources held by those tasks are releasable deterministically. The scope
// walks a small state machine:
//
//	Open (accepting spawns) -> Draining (exit started) -> Closed
//
// Cancellation is cooperative and directional. It flows parent to
// descendants through the shared scope context, never sibling to sibling.
// A cancellation signal raised inside any task (the gateway's
// self-preservation veto, a timeout, an external stop) requests cancellation
// of the whole scope, and Exit absorbs it: the scope returns normally with
// Cancelled() true. A generic task failure also cancels the remaining
// siblings (fail-fast within a phase) but is re-raised after cleanup.
package scope

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/deployd/internal/eventbus"
	"github.com/fyrsmithlabs/deployd/internal/logging"
	"github.com/fyrsmithlabs/deployd/internal/runctx"
)

// State is the scope lifecycle state.
type State string

const (
	StateOpen     State = "open"
	StateDraining State = "draining"
	StateClosed   State = "closed"
)

// ErrNotOpen is returned by Spawn once the exit sequence has started.
var ErrNotOpen = errors.New("scope is not accepting spawns")

// Work is a task body. It receives the scope's cancellable context and the
// task's derived run context, and returns nil, a cancellation signal, or a
// failure.
type Work func(ctx context.Context, rc *runctx.Context) error

// Scope is a structured-concurrency boundary.
type Scope struct {
	name string
	rc   *runctx.Context
	bus  *eventbus.Bus
	log  *logging.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc

	mu          sync.Mutex
	state       State
	handles     []*Handle
	cancelled   bool
	cancelCause *CancelError
	failure     error

	wg sync.WaitGroup
}

// Enter opens a scope under ctx and emits scope.enter. The returned scope
// must be closed with Exit.
func Enter(ctx context.Context, name string, rc *runctx.Context, bus *eventbus.Bus, log *logging.Logger) (*Scope, error) {
	if log == nil {
		log = logging.Nop()
	}
	sctx, cancel := context.WithCancelCause(ctx)
	s := &Scope{
		name:   name,
		rc:     rc,
		bus:    bus,
		log:    log,
		ctx:    sctx,
		cancel: cancel,
		state:  StateOpen,
	}
	if err := bus.Emit(eventbus.TypeScopeEnter, map[string]any{"scope": name}, rc); err != nil {
		cancel(nil)
		return nil, fmt.Errorf("scope %s: emit enter: %w", name, err)
	}
	return s, nil
}

// Name returns the scope name.
func (s *Scope) Name() string { return s.name }

// Context returns the run context the scope was opened with.
func (s *Scope) Context() *runctx.Context { return s.rc }

// State returns the current lifecycle state.
func (s *Scope) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cancelled reports whether the scope terminated via a cancellation signal.
func (s *Scope) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// CancelCause returns the first cancellation signal observed, or nil.
func (s *Scope) CancelCause() *CancelError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelCause
}

// Handles returns the task handles spawned in this scope.
func (s *Scope) Handles() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Handle, len(s.handles))
	copy(out, s.handles)
	return out
}

// Spawn launches work as a child task. The child derives its run context
// from the scope's, so its events carry the extended span path. Spawn is
// valid only while the scope is Open.
func (s *Scope) Spawn(name string, work Work) (*Handle, error) {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return nil, fmt.Errorf("scope %s: spawn %s: %w", s.name, name, ErrNotOpen)
	}
	h := newHandle(name, s.rc.Child(name))
	s.handles = append(s.handles, h)
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(h, work)
	return h, nil
}

// run wraps a task body with lifecycle events and terminal-state recording.
func (s *Scope) run(h *Handle, work Work) {
	defer s.wg.Done()

	lctx := runctx.Into(s.ctx, h.rc)

	if err := s.bus.Emit(eventbus.TypeTaskStart, map[string]any{"task": h.name}, h.rc); err != nil {
		s.recordFailure(h, fmt.Errorf("task %s (%s): emit start: %w", h.name, h.rc.SpanID(), err))
		return
	}

	err := work(s.ctx, h.rc)
	switch {
	case err == nil:
		h.finish(TaskCompleted, nil)
		if err := s.bus.Emit(eventbus.TypeTaskComplete, map[string]any{"task": h.name}, h.rc); err != nil {
			s.log.Error(lctx, "emit task.complete failed", zap.Error(err))
		}

	case IsCancellation(err):
		ce, _ := AsCancel(err)
		h.finish(TaskCancelled, ce)
		s.noteCancellation(ce)
		if err := s.bus.Emit(eventbus.TypeTaskCancelled, map[string]any{
			"task":     h.name,
			"category": ce.Category,
			"reason":   ce.Reason,
		}, h.rc); err != nil {
			s.log.Error(lctx, "emit task.cancelled failed", zap.Error(err))
		}
		s.log.Info(lctx, "task cancelled", zap.String("reason", ce.Reason))

	default:
		wrapped := fmt.Errorf("task %s (%s): %w", h.name, h.rc.SpanID(), err)
		s.recordFailure(h, wrapped)
		s.log.Error(lctx, "task failed", zap.Error(err))
	}
}

// recordFailure marks h failed, stores the first failure, and requests
// cancellation of the remaining siblings (fail-fast within a scope).
func (s *Scope) recordFailure(h *Handle, wrapped error) {
	h.finish(TaskFailed, wrapped)

	s.mu.Lock()
	if s.failure == nil {
		s.failure = wrapped
	}
	s.mu.Unlock()
	s.cancel(wrapped)

	if err := s.bus.Emit(eventbus.TypeTaskError, map[string]any{
		"task":  h.name,
		"error": wrapped.Error(),
	}, h.rc); err != nil {
		s.log.Error(runctx.Into(context.Background(), h.rc), "emit task.error failed", zap.Error(err))
	}
}

// noteCancellation records the first cancellation signal and requests
// cooperative cancellation of every still-running task in the scope. When a
// failure has already been recorded, the failure owns the terminal
// classification: siblings cancelled by fail-fast do not turn the scope's
// outcome into a cancellation.
func (s *Scope) noteCancellation(ce *CancelError) {
	s.mu.Lock()
	if s.failure == nil {
		s.cancelled = true
		if s.cancelCause == nil {
			s.cancelCause = ce
		}
	}
	s.mu.Unlock()
	s.cancel(ce)
}

// Exit drains the scope: no further spawns are accepted, still-running
// tasks are cancelled if the scope is terminating on a cancellation signal
// or a failure, and Exit blocks until every handle is terminal. scope.exit
// is always the scope's final event.
//
// cause is the outcome signal from the scope body: nil for normal
// completion, a cancellation signal, or a failure. A cancellation cause is
// absorbed (Exit returns nil and Cancelled() reports true); any failure is
// returned after cleanup completes.
func (s *Scope) Exit(cause error) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return fmt.Errorf("scope %s: already closed", s.name)
	}
	s.state = StateDraining

	causeCancel, causeIsCancel := AsCancel(cause)
	switch {
	case causeIsCancel:
		s.cancelled = true
		if s.cancelCause == nil {
			s.cancelCause = causeCancel
		}
	case cause != nil:
		// Record the failing cause before cancelling: siblings drained by
		// fail-fast must not reclassify the scope as cancelled.
		if s.failure == nil {
			s.failure = cause
		}
	}
	mustCancel := s.cancelled || s.failure != nil
	failFastCause := s.failure
	s.mu.Unlock()

	if mustCancel {
		if causeIsCancel {
			s.cancel(causeCancel)
		} else {
			s.cancel(failFastCause)
		}
	}

	// Every child must reach a terminal state before the scope returns,
	// cancelled or not.
	s.wg.Wait()

	s.mu.Lock()
	s.state = StateClosed
	cancelled := s.cancelled
	category := ""
	if s.cancelCause != nil {
		category = s.cancelCause.Category
	}
	failure := s.failure
	s.mu.Unlock()

	payload := map[string]any{
		"scope":     s.name,
		"cancelled": cancelled,
	}
	if category != "" {
		payload["category"] = category
	}
	if failure != nil {
		payload["error"] = failure.Error()
	}
	if err := s.bus.Emit(eventbus.TypeScopeExit, payload, s.rc); err != nil {
		s.log.Error(runctx.Into(context.Background(), s.rc), "emit scope.exit failed", zap.Error(err))
	}

	// Release the scope context in every path.
	s.cancel(nil)

	if failure != nil {
		return fmt.Errorf("scope %s: %w", s.name, failure)
	}
	return nil
}
