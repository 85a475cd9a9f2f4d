package allocation

import (
	"errors"
	"fmt"
)

var (
	ErrRequesterNotFound    = errors.New("requester not found")
	ErrResourceUnavailable  = errors.New("resource unavailable")
	ErrConflict             = errors.New("resource state changed concurrently")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrAlreadyTerminal      = errors.New("allocation is already terminal")
	ErrNotFound             = errors.New("not found")
	ErrInvalidRequest       = errors.New("invalid allocation request")
	ErrIdempotencyKeyReused = errors.New("idempotency key was used for a different request")
	ErrStoreUnavailable     = errors.New("resource store unavailable")
)

// TransitionError describes a rejected status change. It matches
// ErrInvalidTransition, and ErrAlreadyTerminal when raised by Cancel on a
// completed or errored record.
type TransitionError struct {
	From     Status
	To       Status
	terminal bool
}

func (e *TransitionError) Error() string {
	if e.terminal {
		return fmt.Sprintf("allocation is already %s and cannot move to %s", e.From, e.To)
	}
	return fmt.Sprintf("cannot transition from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	if target == ErrInvalidTransition {
		return true
	}
	return e.terminal && target == ErrAlreadyTerminal
}
