// Package apperr defines the coded errors shared by the offline store, the
// sync trigger and the preload scheduler.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies a class of failure callers can branch on.
type Code string

const (
	// StorageUnavailable is terminal: the environment offers no persistent
	// storage. It is not retryable within a session.
	StorageUnavailable Code = "STORAGE_UNAVAILABLE"
	// TransactionFailed means a single read or write failed. The store stays usable.
	TransactionFailed Code = "TRANSACTION_FAILED"
	// PreloadFailed means a single content fetch or dependency check failed.
	PreloadFailed Code = "PRELOAD_FAILED"
	// SyncSignalUnavailable means no background host is registered.
	SyncSignalUnavailable Code = "SYNC_SIGNAL_UNAVAILABLE"

	NotFound     Code = "NOT_FOUND"
	InvalidInput Code = "INVALID_INPUT"
)

// Error is an error carrying a Code.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error without a cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to err.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Is reports whether any error in err's chain carries code.
func Is(err error, code Code) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Err
	}
	return false
}

// CodeOf returns the outermost code in err's chain, or "" if there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
