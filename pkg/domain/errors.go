package domain

import (
	"errors"
	"fmt"
)

// ErrCheckpointNotFound is returned when a key has no committed checkpoint.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// ErrStaleResume is returned when a resume is requested but no interrupt is pending.
var ErrStaleResume = errors.New("no pending interrupt to resume")

// ErrDoubleSuspend is returned when a session already has a pending interrupt.
var ErrDoubleSuspend = errors.New("session already has a pending interrupt")

// ErrPendingInterrupt is returned when a fresh run is requested while an interrupt is pending.
var ErrPendingInterrupt = errors.New("session is suspended and must be resumed")

// ErrResumeMismatch is returned when the caller's resume flag disagrees with the registry.
var ErrResumeMismatch = errors.New("resume flag does not match the session's interrupt state")

// ModelInvocationError wraps a failure of the model-inference collaborator.
type ModelInvocationError struct {
	Node string
	Err  error
}

func (e *ModelInvocationError) Error() string {
	return fmt.Sprintf("model invocation failed in node '%s': %v", e.Node, e.Err)
}

func (e *ModelInvocationError) Unwrap() error {
	return e.Err
}
