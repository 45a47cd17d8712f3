package remote

import (
	"errors"
	"fmt"
)

// ErrorClass buckets remote send/connect failures into retry policies.
type ErrorClass string

const (
	// ClassTransient covers failures expected to self-resolve; the caller
	// may retry with backoff.
	ClassTransient ErrorClass = "transient"
	// ClassAuth covers rejected or revoked credentials; never retried with
	// the same credentials.
	ClassAuth ErrorClass = "auth"
	// ClassPermanent covers invalid or unreachable recipients; the payload
	// is dropped.
	ClassPermanent ErrorClass = "permanent"
	// ClassResource covers externally broken state (deleted channel,
	// storage failure); repaired lazily on next access.
	ClassResource ErrorClass = "resource"
)

// SendError is a classified failure from Client.Send or Client.Connect.
type SendError struct {
	Class ErrorClass
	Msg   string
	Err   error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote: %s (%s): %v", e.Msg, e.Class, e.Err)
	}
	return fmt.Sprintf("remote: %s (%s)", e.Msg, e.Class)
}

func (e *SendError) Unwrap() error { return e.Err }

// NewSendError builds a classified send error.
func NewSendError(class ErrorClass, msg string, err error) *SendError {
	return &SendError{Class: class, Msg: msg, Err: err}
}

// Classify extracts the error class from err. Unclassified errors are
// treated as transient so they stay retryable rather than silently dropped.
func Classify(err error) ErrorClass {
	var se *SendError
	if errors.As(err, &se) {
		return se.Class
	}
	return ClassTransient
}
