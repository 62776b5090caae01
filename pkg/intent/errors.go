package intent

import "errors"

// Sentinel errors for the intent package.
var (
	// ErrMissingAppID indicates the prediction app id was not provided.
	ErrMissingAppID = errors.New("intent: app id is required")

	// ErrMissingKey indicates the prediction subscription key was not provided.
	ErrMissingKey = errors.New("intent: subscription key is required")

	// ErrNoReplySource indicates a generic intent arrived without a reply source.
	ErrNoReplySource = errors.New("intent: reply source is required")
)
