package face

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/teslashibe/go-robbie/internal/httpc"
)

var (
	// ErrNotTrained is returned by IdentifyFaces before the person group
	// has been trained.
	ErrNotTrained = errors.New("face: person group not trained")

	// ErrTrainingFailed is returned when the service reports a failed
	// training run.
	ErrTrainingFailed = errors.New("face: training failed")

	// ErrMissingKey is returned when no subscription key is configured.
	ErrMissingKey = errors.New("face: subscription key required")

	// ErrMissingGroup is returned when no person group id is configured.
	ErrMissingGroup = errors.New("face: person group id required")
)

// APIError is an error answer of the face service.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("face: HTTP %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsNotFound reports whether the requested resource does not exist.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == 404
}

// IsAPIError reports whether err is an *APIError and returns it.
func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// convertError turns an HTTP status error into an *APIError, mapping the
// untrained-group answer to ErrNotTrained.
func convertError(err error) error {
	var se *httpc.StatusError
	if !errors.As(err, &se) {
		return err
	}
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(se.Body, &body)
	if body.Error.Code == "PersonGroupNotTrained" {
		return ErrNotTrained
	}
	return &APIError{
		StatusCode: se.StatusCode,
		Code:       body.Error.Code,
		Message:    body.Error.Message,
	}
}
