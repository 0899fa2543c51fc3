package services

import (
	"errors"
	"fmt"
)

// Error codes reported to synchronous callers.
const (
	CodeUnauthenticated    = "unauthenticated"
	CodeInvalidArgument    = "invalid-argument"
	CodePermissionDenied   = "permission-denied"
	CodeFailedPrecondition = "failed-precondition"
	CodeInternal           = "internal"
)

var (
	// ErrPurchaseNotFound is returned by a verifier when the store answers 404 for the credential.
	ErrPurchaseNotFound = errors.New("purchase not found in store")
	// ErrMalformedEvent marks a notification payload that can never be processed.
	ErrMalformedEvent = errors.New("malformed notification payload")
)

// Error is a client-facing failure with a stable code.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// ErrorCode extracts the client-facing code, defaulting to internal.
func ErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// VerificationError reports a store rejecting a credential or failing in transit.
type VerificationError struct {
	Store      string
	StatusCode int
	Status     int
	Detail     string
}

func (e *VerificationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s verification failed: status %d", e.Store, e.Status)
	}
	return fmt.Sprintf("%s verification failed: http %d (%s)", e.Store, e.StatusCode, e.Detail)
}
