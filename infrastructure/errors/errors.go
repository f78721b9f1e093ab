// Package errors provides the reference-style error records used across the
// core: a dotted type string, a message, an optional details map, and an
// optional cause. Every failure the core surfaces (socket, thread, pool,
// connection, URL parsing) uses one of these rather than a bare error string.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a dotted error type string, e.g. "Socket.Closed".
type Code string

const (
	// Socket errors.
	SocketClosed            Code = "Socket.Closed"
	SocketSslHandshakeError Code = "Socket.SslHandshakeError"
	SocketWriteError        Code = "Socket.WriteError"
	SocketReadError         Code = "Socket.ReadError"

	// Thread/operation errors.
	ThreadInsufficientResources Code = "Thread.InsufficientResources"
	ThreadInvalidParameters     Code = "Thread.InvalidParameters"
	ThreadAccessDenied          Code = "Thread.AccessDenied"
	ThreadInsufficientMemory    Code = "Thread.InsufficientMemory"
	ThreadError                 Code = "Thread.Error"
	Interrupted                 Code = "Interrupted"

	// Connection/statement errors.
	ConnectionInvalidUrl               Code = "Connection.InvalidUrl"
	ConnectionTransactionBeginError    Code = "Connection.TransactionBeginError"
	ConnectionTransactionCommitError   Code = "Connection.TransactionCommitError"
	ConnectionTransactionRollbackError Code = "Connection.TransactionRollbackError"

	// URL errors.
	MalformedUrl Code = "MalformedUrl"
)

// Error is a reference-counted-in-spirit error record: in Go, the GC already
// makes a *Error safe to share across goroutines without a manual refcount,
// so it is just an ordinary immutable value once constructed.
type Error struct {
	Code       Code
	Message    string
	HTTPStatus int
	Details    map[string]any
	Cause      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetails attaches additional context to the error and returns it.
func (e *Error) WithDetails(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new Error.
func New(code Code, message string, httpStatus int) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: httpStatus}
}

// Wrap creates a new Error chaining an existing one as its cause.
func Wrap(code Code, message string, httpStatus int, cause error) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: httpStatus, Cause: cause}
}

// Socket errors.

func ErrSocketClosed() *Error {
	return New(SocketClosed, "socket is closed", http.StatusServiceUnavailable)
}

func ErrSslHandshake(cause error) *Error {
	return Wrap(SocketSslHandshakeError, "TLS handshake failed", http.StatusServiceUnavailable, cause)
}

func ErrSocketWrite(cause error) *Error {
	return Wrap(SocketWriteError, "socket write failed", http.StatusBadGateway, cause)
}

func ErrSocketRead(cause error) *Error {
	return Wrap(SocketReadError, "socket read failed", http.StatusBadGateway, cause)
}

// Thread/operation errors.

func ErrThreadInsufficientResources(cause error) *Error {
	return Wrap(ThreadInsufficientResources, "insufficient resources to start thread", http.StatusInternalServerError, cause)
}

func ErrThreadInvalidParameters(reason string) *Error {
	return New(ThreadInvalidParameters, "invalid thread parameters", http.StatusInternalServerError).WithDetails("reason", reason)
}

func ErrThreadAccessDenied(cause error) *Error {
	return Wrap(ThreadAccessDenied, "access denied", http.StatusForbidden, cause)
}

func ErrThreadInsufficientMemory(cause error) *Error {
	return Wrap(ThreadInsufficientMemory, "insufficient memory", http.StatusInternalServerError, cause)
}

func ErrThread(cause error) *Error {
	return Wrap(ThreadError, "thread error", http.StatusInternalServerError, cause)
}

func ErrInterrupted() *Error {
	return New(Interrupted, "interrupted", http.StatusRequestTimeout)
}

// Connection/statement errors.

func ErrConnectionInvalidUrl(rawURL string, cause error) *Error {
	return Wrap(ConnectionInvalidUrl, "invalid connection url", http.StatusBadRequest, cause).WithDetails("url", rawURL)
}

func ErrTransactionBegin(cause error) *Error {
	return Wrap(ConnectionTransactionBeginError, "failed to begin transaction", http.StatusInternalServerError, cause)
}

func ErrTransactionCommit(cause error) *Error {
	return Wrap(ConnectionTransactionCommitError, "failed to commit transaction", http.StatusInternalServerError, cause)
}

func ErrTransactionRollback(cause error) *Error {
	return Wrap(ConnectionTransactionRollbackError, "failed to roll back transaction", http.StatusInternalServerError, cause)
}

// ErrMalformedUrl reports a URL that could not be parsed at all.
func ErrMalformedUrl(rawURL string, cause error) *Error {
	return Wrap(MalformedUrl, "malformed url", http.StatusBadRequest, cause).WithDetails("url", rawURL)
}

// Helper functions.

// As extracts an *Error from an error chain.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// HTTPStatus returns the HTTP status code for an error, defaulting to 500.
func HTTPStatus(err error) int {
	if e := As(err); e != nil {
		return e.HTTPStatus
	}
	return http.StatusInternalServerError
}
