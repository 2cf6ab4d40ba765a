package scope

import (
	"context"
	"sync"

	"github.com/fyrsmithlabs/deployd/internal/runctx"
)

// TaskState is the lifecycle state of a spawned task.
type TaskState string

const (
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskCancelled TaskState = "cancelled"
	TaskFailed    TaskState = "failed"
)

// Terminal reports whether the state is one of the three terminal states.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskCancelled || s == TaskFailed
}

// Handle represents one spawned task. It is owned exclusively by the scope
// that created it; sibling tasks never observe each other's handles.
type Handle struct {
	name string
	rc   *runctx.Context

	mu    sync.Mutex
	state TaskState
	err   error
	done  chan struct{}
}

func newHandle(name string, rc *runctx.Context) *Handle {
	return &Handle{
		name:  name,
		rc:    rc,
		state: TaskRunning,
		done:  make(chan struct{}),
	}
}

// Name returns the task name given at spawn.
func (h *Handle) Name() string { return h.name }

// Context returns the task's derived run context.
func (h *Handle) Context() *runctx.Context { return h.rc }

// State returns the task's current lifecycle state.
func (h *Handle) State() TaskState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err returns the terminal error: nil for completed tasks, the cancellation
// signal for cancelled ones, the wrapped failure otherwise.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Wait blocks until the task reaches a terminal state or ctx is done, and
// returns the terminal error.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finish records the single transition out of Running.
func (h *Handle) finish(state TaskState, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != TaskRunning {
		return
	}
	h.state = state
	h.err = err
	close(h.done)
}
