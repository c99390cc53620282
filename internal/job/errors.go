package job

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("job not found")

	// ErrAssignmentConflict is the losing side of an accept race, or an accept
	// for an offer that is no longer live. Callers must not retry it.
	ErrAssignmentConflict = errors.New("job no longer available")

	// ErrStaleState means a conditional update matched no row because the
	// job moved on since it was read.
	ErrStaleState = errors.New("job state changed")

	ErrNotOffered  = errors.New("job is not offered to this provider")
	ErrNotAssigned = errors.New("job is not assigned to this provider")
	ErrNoProviders = errors.New("no providers available")
	ErrForbidden   = errors.New("forbidden")
)

// ValidationError reports malformed job requirements.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// IllegalTransitionError is returned when an actor asks for a status change
// the state machine does not allow. Current is the status the job is in.
type IllegalTransitionError struct {
	Actor   ActorKind
	Current Status
	To      Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("%s may not move job from %s to %s", e.Actor, e.Current, e.To)
}
