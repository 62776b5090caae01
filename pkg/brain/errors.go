package brain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the brain package.
var (
	// ErrMissingDependency indicates a required collaborator was not provided.
	ErrMissingDependency = errors.New("brain: missing dependency")

	// ErrNoFaceService indicates a name was recorded without a face service.
	ErrNoFaceService = errors.New("brain: face service not configured")
)

// CollaboratorError wraps a failure from an external service.
type CollaboratorError struct {
	// Collaborator names the failing service (profile, face, voice, predictor).
	Collaborator string

	// Op is the operation that failed.
	Op string

	Cause error
}

// Error implements the error interface.
func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("brain: %s %s: %v", e.Collaborator, e.Op, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *CollaboratorError) Unwrap() error {
	return e.Cause
}

// IsCollaboratorError reports whether err came from an external service.
func IsCollaboratorError(err error) bool {
	var ce *CollaboratorError
	return errors.As(err, &ce)
}

func missing(name string) error {
	return fmt.Errorf("%w: %s", ErrMissingDependency, name)
}
