package syncbus

import (
	"fmt"
	"time"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// NotActivatedError is returned when a send is attempted before the link
// session is activated. The request never enters the pending table.
type NotActivatedError struct {
	State ActivationState
}

func (e *NotActivatedError) Error() string {
	return fmt.Sprintf("link session not activated (state: %s)", e.State)
}

// NewNotActivatedError creates a new NotActivatedError.
func NewNotActivatedError(state ActivationState) *NotActivatedError {
	return &NotActivatedError{State: state}
}

// TimeoutError is delivered when no reply arrived within the request deadline.
type TimeoutError struct {
	ID      string
	Type    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request %s (%s) timed out after %s", e.ID, e.Type, e.Timeout)
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(id, msgType string, timeout time.Duration) *TimeoutError {
	return &TimeoutError{ID: id, Type: msgType, Timeout: timeout}
}

// TransportError wraps a failure reported by the underlying transport.
type TransportError struct {
	ID    string
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport send failed for %s: %v", e.ID, e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// NewTransportError creates a new TransportError.
func NewTransportError(id string, cause error) *TransportError {
	return &TransportError{ID: id, Cause: cause}
}

// EncodingError is returned when a typed payload cannot be serialized.
// Encoding failures are structural, never transient; no retry happens here.
type EncodingError struct {
	Type  string
	Cause error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("cannot encode %s payload: %v", e.Type, e.Cause)
}

func (e *EncodingError) Unwrap() error {
	return e.Cause
}

// NewEncodingError creates a new EncodingError.
func NewEncodingError(msgType string, cause error) *EncodingError {
	return &EncodingError{Type: msgType, Cause: cause}
}

// DecodingError is raised when an inbound payload does not match the schema
// implied by its type tag. The envelope is unroutable and must be dropped.
type DecodingError struct {
	ID    string
	Type  string
	Cause error
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("cannot decode %s envelope %s: %v", e.Type, e.ID, e.Cause)
}

func (e *DecodingError) Unwrap() error {
	return e.Cause
}

// NewDecodingError creates a new DecodingError.
func NewDecodingError(id, msgType string, cause error) *DecodingError {
	return &DecodingError{ID: id, Type: msgType, Cause: cause}
}

// SessionInvalidatedError is delivered to every outstanding request when the
// link session deactivates and the pending table is cancelled in bulk.
type SessionInvalidatedError struct {
	ID string
}

func (e *SessionInvalidatedError) Error() string {
	return fmt.Sprintf("link session invalidated, request %s cancelled", e.ID)
}

// NewSessionInvalidatedError creates a new SessionInvalidatedError.
func NewSessionInvalidatedError(id string) *SessionInvalidatedError {
	return &SessionInvalidatedError{ID: id}
}

// AlreadyRegisteredError is returned when a second handler is registered for
// a type tag. Only one handler per tag is allowed.
type AlreadyRegisteredError struct {
	Type string
}

func (e *AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("handler already registered for %s", e.Type)
}

// NewAlreadyRegisteredError creates a new AlreadyRegisteredError.
func NewAlreadyRegisteredError(msgType string) *AlreadyRegisteredError {
	return &AlreadyRegisteredError{Type: msgType}
}

// DurableRejectedError is returned when the durable fallback path refused to
// queue a payload for eventual delivery.
type DurableRejectedError struct {
	ID    string
	Cause error
}

func (e *DurableRejectedError) Error() string {
	return fmt.Sprintf("durable delivery rejected for %s: %v", e.ID, e.Cause)
}

func (e *DurableRejectedError) Unwrap() error {
	return e.Cause
}

// NewDurableRejectedError creates a new DurableRejectedError.
func NewDurableRejectedError(id string, cause error) *DurableRejectedError {
	return &DurableRejectedError{ID: id, Cause: cause}
}
