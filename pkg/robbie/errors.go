package robbie

import "errors"

// ErrNotInitialized is returned by Run before a successful Init.
var ErrNotInitialized = errors.New("robbie: not initialized")
