package core

import (
	"context"
	"errors"
	"fmt"
)

// RemoteErrorKind classifies remote service failures.
type RemoteErrorKind string

const (
	// RemoteErrorUnknown is an uncategorized failure.
	RemoteErrorUnknown RemoteErrorKind = "unknown"
	// RemoteErrorUnavailable indicates the service is unreachable.
	RemoteErrorUnavailable RemoteErrorKind = "unavailable"
	// RemoteErrorUnauthenticated indicates authentication failed.
	RemoteErrorUnauthenticated RemoteErrorKind = "unauthenticated"
	// RemoteErrorPermissionDenied indicates authorization failed.
	RemoteErrorPermissionDenied RemoteErrorKind = "permission_denied"
	// RemoteErrorInvalidArgument indicates the server rejected the statement.
	RemoteErrorInvalidArgument RemoteErrorKind = "invalid_argument"
	// RemoteErrorTimeout indicates the request timed out.
	RemoteErrorTimeout RemoteErrorKind = "timeout"
	// RemoteErrorCanceled indicates the request was canceled.
	RemoteErrorCanceled RemoteErrorKind = "canceled"
)

// RemoteError wraps failures of the remote SQL or history service with a
// stable classification. Its message is what a result's Error field shows.
type RemoteError struct {
	Kind    RemoteErrorKind
	Op      string
	Message string
	Err     error
}

// NewRemoteError constructs a classified remote error.
func NewRemoteError(kind RemoteErrorKind, op string, err error) *RemoteError {
	return &RemoteError{Kind: kind, Op: op, Err: err}
}

func (e *RemoteError) Error() string {
	if e == nil {
		return "remote error"
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("remote %s failed", e.Op)
	}
	return "remote error"
}

func (e *RemoteError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// AsRemoteError returns err as a RemoteError, classifying context errors.
func AsRemoteError(op string, err error) *RemoteError {
	if err == nil {
		return nil
	}
	var existing *RemoteError
	if errors.As(err, &existing) {
		return existing
	}
	switch {
	case errors.Is(err, context.Canceled):
		return NewRemoteError(RemoteErrorCanceled, op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewRemoteError(RemoteErrorTimeout, op, err)
	default:
		return NewRemoteError(RemoteErrorUnknown, op, err)
	}
}
