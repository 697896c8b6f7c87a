// Package ctlerr implements the controller's structured error type.
//
// It mirrors the OrchestratorError/XAppError pattern used elsewhere in this
// code base: a typed, wrapped error carrying a kind, a component name, a
// correlation ID for log correlation and a retryable flag, so that callers
// several layers removed (an HTTP handler, a tick callback) can still make a
// decision without string-matching error text.
package ctlerr

import (
	"fmt"
	"time"
)

// Kind classifies an error per the controller's error handling design.
type Kind int

const (
	// KindParse indicates malformed JSON or protocol body.
	KindParse Kind = iota
	// KindInvalidArgument indicates a semantically invalid request.
	KindInvalidArgument
	// KindNotFound indicates an unknown BS, UE, or slice.
	KindNotFound
	// KindBackpressure indicates a send queue was full.
	KindBackpressure
	// KindProtocolViolation indicates malformed framing or unexpected message kind.
	KindProtocolViolation
	// KindTimeout indicates a handshake or command did not complete in time.
	KindTimeout
	// KindFatal indicates a non-recoverable condition.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "Parse"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindNotFound:
		return "NotFound"
	case KindBackpressure:
		return "Backpressure"
	case KindProtocolViolation:
		return "ProtocolViolation"
	case KindTimeout:
		return "Timeout"
	case KindFatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// Error is the controller's structured error type.
type Error struct {
	Kind          Kind
	Component     string
	Message       string
	CorrelationID string
	Timestamp     time.Time
	Retryable     bool
	Err           error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s (correlation: %s) - %v",
			e.Kind, e.Component, e.Message, e.CorrelationID, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s (correlation: %s)",
		e.Kind, e.Component, e.Message, e.CorrelationID)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an Error with no wrapped cause.
func New(kind Kind, component, message, correlationID string) *Error {
	return &Error{
		Kind:          kind,
		Component:     component,
		Message:       message,
		CorrelationID: correlationID,
		Timestamp:     time.Now(),
	}
}

// Wrap builds an Error wrapping an existing cause.
func Wrap(kind Kind, component, message, correlationID string, err error) *Error {
	e := New(kind, component, message, correlationID)
	e.Err = err
	return e
}

// HTTPStatus maps a Kind to the public HTTP contract in spec §7: every
// input-related error surfaces as 400 to avoid leaking existence of
// resources through status codes.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindParse, KindInvalidArgument, KindNotFound:
		return 400
	default:
		return 500
	}
}
