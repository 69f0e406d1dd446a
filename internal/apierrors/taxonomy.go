package apierrors

import (
	"errors"
	"fmt"
)

// Sentinels compared with errors.Is.
var (
	ErrNoCredential   = errors.New("no stored credential")
	ErrUnknownEvent   = errors.New("unknown event")
	ErrMalformedEvent = errors.New("malformed event payload")
)

// Coder is implemented by taxonomy errors so callers can report a
// registered code without switching on concrete types.
type Coder interface {
	Code() string
}

// AuthError means the credential was rejected or has expired. It always
// propagates to the "require login" signal.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
	}
	return "auth: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }
func (e *AuthError) Code() string  { return CodeAuthFailed }

// TransportError means the realtime connection could not be established
// or was lost. Callers surface it as retryable.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
func (e *TransportError) Code() string  { return CodeTransportFailed }

// FetchError means a collaborator REST call failed. Status is the HTTP
// status when a response was received, zero otherwise.
type FetchError struct {
	Op     string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch: %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch: %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
func (e *FetchError) Code() string  { return CodeFetchFailed }

// StateInconsistency is reported when a transition's precondition does
// not hold against the local ticket. The event is dropped.
type StateInconsistency struct {
	TicketID   string
	Transition string
	Status     string
	Detail     string
}

func (e *StateInconsistency) Error() string {
	msg := fmt.Sprintf("inconsistent state: %s on ticket %s in status %q", e.Transition, e.TicketID, e.Status)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *StateInconsistency) Code() string { return CodeStateInconsistency }

// CodeOf returns the registered code for err, falling back to the
// internal error code.
func CodeOf(err error) string {
	var c Coder
	switch {
	case err == nil:
		return ""
	case errors.As(err, &c):
		return c.Code()
	case errors.Is(err, ErrNoCredential):
		return CodeNoCredential
	case errors.Is(err, ErrUnknownEvent):
		return CodeUnknownEvent
	case errors.Is(err, ErrMalformedEvent):
		return CodeMalformedEvent
	}
	return CodeInternalError
}

// IsAuth reports whether err carries an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsInconsistency reports whether err carries a StateInconsistency.
func IsInconsistency(err error) bool {
	var si *StateInconsistency
	return errors.As(err, &si)
}
