package scope

import (
	"context"
	"errors"
	"fmt"
)

// Cancellation category attached to a CancelError. Recorded on the
// scope.exit event so a run's terminal cause is inspectable.
const (
	// CategorySelfPreservation marks cancellation raised by the
	// validation gateway's hard veto.
	CategorySelfPreservation = "self_preservation"

	// CategoryTimeout marks cancellation from an action exceeding its
	// time budget. Time-based abandonment is graceful, not exceptional.
	CategoryTimeout = "timeout"

	// CategoryExternal marks cancellation requested from outside the
	// scope, e.g. signal handling or a parent context.
	CategoryExternal = "external"
)

// CancelError is the cooperative stop signal. It is not a failure: scopes
// absorb it at their boundary and report a cancelled, non-error outcome.
// It implements error only so it can travel through ordinary Go return
// paths; callers classify it with IsCancellation / AsCancel.
type CancelError struct {
	Category string
	Reason   string
}

func (e *CancelError) Error() string {
	return fmt.Sprintf("cancelled (%s): %s", e.Category, e.Reason)
}

// Canceled builds an external-category cancellation signal.
func Canceled(reason string) *CancelError {
	return &CancelError{Category: CategoryExternal, Reason: reason}
}

// CanceledFor builds a cancellation signal with an explicit category.
func CanceledFor(category, reason string) *CancelError {
	return &CancelError{Category: category, Reason: reason}
}

// IsCancellation reports whether err is a cooperative stop signal rather
// than a failure. Stdlib context cancellation and deadline expiry count, so
// external cancellation shares the scope's cleanup path.
func IsCancellation(err error) bool {
	_, ok := AsCancel(err)
	return ok
}

// AsCancel extracts the cancellation signal from err, normalizing stdlib
// context errors into CancelError values.
func AsCancel(err error) (*CancelError, bool) {
	if err == nil {
		return nil, false
	}
	var ce *CancelError
	if errors.As(err, &ce) {
		return ce, true
	}
	if errors.Is(err, context.Canceled) {
		return Canceled("context canceled"), true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CanceledFor(CategoryTimeout, "deadline exceeded"), true
	}
	return nil, false
}
