package services

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the assignment engine. Callers decide the
// retry policy; the engine never retries internally.
var (
	// ErrNoEligibleWorker means the eligible set was empty for an item or
	// a whole batch after filtering.
	ErrNoEligibleWorker = errors.New("no eligible worker")

	// ErrAssignmentConflict means the item's status changed between read
	// and commit; the caller must re-fetch and decide to retry or skip.
	ErrAssignmentConflict = errors.New("concurrent assignment conflict")

	// ErrScanInProgress means an overload scan tick was dropped because a
	// previous scan is still in flight.
	ErrScanInProgress = errors.New("overload scan already in progress")
)

// TransientError wraps a collaborator failure (store or directory
// unreachable). It unwraps to the underlying error.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a collaborator failure
// worth retrying by the caller.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}
