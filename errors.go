package kidwatch

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable indicates no active video stream could provide a
	// frame, eg the recorder has not started yet or camera permission was denied.
	ErrSourceUnavailable = errors.New("video source unavailable")

	// ErrMissingCredential indicates no API key is configured. Checked before
	// any network call, and before a monitoring session starts.
	ErrMissingCredential = errors.New("missing api credential")

	// ErrMalformedResponse indicates the model response did not hold a verdict
	// in the expected shape.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrTransport is matched by every TransportError.
	ErrTransport = errors.New("transport error")

	// ErrSessionActive is returned when starting while a session is running.
	ErrSessionActive = errors.New("monitoring session already active")

	// ErrInvalidMode is returned for unknown monitoring modes.
	ErrInvalidMode = errors.New("invalid mode")
)

// TransportError is a failed network call, or a call that returned a non-success
// HTTP status.
type TransportError struct {
	Code   int    // HTTP status code, 0 if no response was received.
	Status string // Message from the response body, or the HTTP status line.
	Err    error  // Underlying error for failed requests.
}

// Error returns a human-readable description of the transport error.
func (e *TransportError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("http response error, code %d: %s", e.Code, e.Status)
	}
	return fmt.Sprintf("http request: %v", e.Err)
}

// Unwrap returns the underlying error, if any.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrTransport) true for all transport errors.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// Ensure TransportError implements the error interface.
var _ error = (*TransportError)(nil)
