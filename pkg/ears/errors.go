package ears

import "errors"

// Sentinel errors for the ears package.
var (
	// ErrNotInitialized indicates Init has not completed successfully.
	ErrNotInitialized = errors.New("ears: not initialized")

	// ErrAlreadyInitialized indicates Init was called twice.
	ErrAlreadyInitialized = errors.New("ears: already initialized")

	// ErrNoRecognizer indicates Ears was built without a recognizer.
	ErrNoRecognizer = errors.New("ears: recognizer is required")
)
