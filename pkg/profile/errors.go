package profile

import "errors"

// Sentinel errors for the profile package.
var (
	// ErrMissingBaseURL indicates the backend base URL was not configured.
	ErrMissingBaseURL = errors.New("profile: base URL is required")

	// ErrAlreadyRekeyed indicates the session was already moved to a real id.
	ErrAlreadyRekeyed = errors.New("profile: session already rekeyed")

	// ErrIDInUse indicates the target id already has a session.
	ErrIDInUse = errors.New("profile: person id already has a session")

	// ErrNoSession indicates no session exists for the id.
	ErrNoSession = errors.New("profile: no session for person id")

	// ErrEmptyID indicates an empty person id.
	ErrEmptyID = errors.New("profile: person id is empty")
)
