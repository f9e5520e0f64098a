package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
)

type ErrorKind string

const (
	KindInvalidInput ErrorKind = "invalid_input"
	KindUrlNotValid  ErrorKind = "url_not_valid"
	KindEnoent       ErrorKind = "enoent"
	KindNoAccess     ErrorKind = "no_access"
	KindNotDirectory ErrorKind = "not_directory"
	KindNotSupported ErrorKind = "not_supported"
	KindNetworkError ErrorKind = "network_error"
	KindTimeout      ErrorKind = "timeout"
	KindIOError      ErrorKind = "io_error"
	KindCancelled    ErrorKind = "cancelled"
	KindServerError  ErrorKind = "server_error"
	KindInternal     ErrorKind = "internal"
)

// Retryable reports whether a failure of this kind may succeed on another attempt.
func (k ErrorKind) Retryable() bool {
	return k == KindNetworkError || k == KindTimeout
}

type FetchError struct {
	Kind   ErrorKind
	Status int // HTTP status for KindServerError
	Err    error
}

func (e *FetchError) Error() string {
	if e.Kind == KindServerError {
		if e.Err != nil {
			return fmt.Sprintf("%s (%d): %v", e.Kind, e.Status, e.Err)
		}
		return fmt.Sprintf("%s (%d)", e.Kind, e.Status)
	}
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func NewFetchError(kind ErrorKind, err error) *FetchError {
	return &FetchError{Kind: kind, Err: err}
}

func NewServerError(status int, detail string) *FetchError {
	var err error
	if detail != "" {
		err = errors.New(detail)
	}
	return &FetchError{Kind: KindServerError, Status: status, Err: err}
}

// AsFetchError extracts a *FetchError from err, wrapping unknown errors as
// KindInternal so callers always receive a classified failure.
func AsFetchError(err error) *FetchError {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	return NewFetchError(KindInternal, err)
}

// ClassifyTransportError maps a client error to Cancelled, Timeout or
// NetworkError. parent is the job context: once it is done every failure is
// a cancellation, whatever the transport reported.
func ClassifyTransportError(parent context.Context, err error) *FetchError {
	if parent.Err() != nil {
		return NewFetchError(KindCancelled, parent.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewFetchError(KindTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewFetchError(KindTimeout, err)
	}
	return NewFetchError(KindNetworkError, err)
}
