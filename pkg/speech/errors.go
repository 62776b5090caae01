package speech

import (
	"errors"
	"fmt"
)

var (
	// ErrNoAPIKey is returned when the API key is missing.
	ErrNoAPIKey = errors.New("speech: API key required")

	// ErrNoMicrophone is returned when no capture source is configured.
	ErrNoMicrophone = errors.New("speech: microphone required")

	// ErrMicrophoneClosed is returned when capture ends before a transcript.
	ErrMicrophoneClosed = errors.New("speech: microphone stream ended")
)

// ServerError is an error event sent by the transcription service.
type ServerError struct {
	Type    string
	Code    string
	Message string
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("speech: %s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("speech: %s: %s", e.Type, e.Message)
}

// IsServerError reports whether err came from the transcription service.
func IsServerError(err error) bool {
	var se *ServerError
	return errors.As(err, &se)
}
