package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeTransport  = "transport_error"
	ErrCodeValidation = "validation_error"
	ErrCodePermission = "permission_error"
	ErrCodeState      = "state_error"
)

var (
	// ErrTransport covers connection and network failures. Retried with
	// backoff; a failed send marks the message Failed for user retry.
	ErrTransport = errors.New("transport error")
	// ErrValidation covers malformed events and payloads.
	ErrValidation = errors.New("validation error")
	// ErrPermission covers denied notification permission. Degrades to
	// in-app-only display.
	ErrPermission = errors.New("permission denied")
	// ErrStaleTransition covers duplicate or out-of-order status
	// transitions. Swallowed: stale events are expected and harmless.
	ErrStaleTransition = errors.New("stale transition")
	// ErrSessionClosed is returned by operations posted after teardown.
	ErrSessionClosed = errors.New("session closed")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
	err     error
}

func (e *CoreError) Error() string {
	return e.Message
}

func (e *CoreError) Unwrap() error {
	return e.err
}

func transportError(msg string) *CoreError {
	return &CoreError{Code: ErrCodeTransport, Message: msg, err: ErrTransport}
}

// PermissionError marks a denied surfacing permission, for example an
// alert backend refusing to display. Alerter implementations return it
// so the session degrades to in-app display only.
func PermissionError(msg string) *CoreError {
	return &CoreError{Code: ErrCodePermission, Message: msg, err: ErrPermission}
}

func validationError(msg string) *CoreError {
	return &CoreError{Code: ErrCodeValidation, Message: msg, err: ErrValidation}
}

func stateError(msg string) *CoreError {
	return &CoreError{Code: ErrCodeState, Message: msg, err: ErrStaleTransition}
}
