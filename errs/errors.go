// Package errs defines the boundary error codes and error type shared by
// every cdoc package. It is deliberately dependency-free (a leaf package)
// so that backend, lock, stream, cdoc1, and cdoc2 can all report errors
// without importing the root cdoc package, which itself imports them.
package errs

import (
	"errors"
	"fmt"
)

// Code is one of the boundary error codes a caller can switch on.
type Code int

const (
	Unspecified Code = iota
	NotImplemented
	InvalidParams
	CryptoError
	HashMismatch
	IOError
	InputStreamError
	OutputStreamError
	WorkflowError
	EndOfStream
	NotSupported
)

func (c Code) String() string {
	switch c {
	case Unspecified:
		return "UNSPECIFIED"
	case NotImplemented:
		return "NOT_IMPLEMENTED"
	case InvalidParams:
		return "INVALID_PARAMS"
	case CryptoError:
		return "CRYPTO_ERROR"
	case HashMismatch:
		return "HASH_MISMATCH"
	case IOError:
		return "IO_ERROR"
	case InputStreamError:
		return "INPUT_STREAM_ERROR"
	case OutputStreamError:
		return "OUTPUT_STREAM_ERROR"
	case WorkflowError:
		return "WORKFLOW_ERROR"
	case EndOfStream:
		return "END_OF_STREAM"
	case NotSupported:
		return "NOT_SUPPORTED"
	default:
		return "UNSPECIFIED"
	}
}

// Error is the single error type returned across the cdoc API boundary.
type Error struct {
	Code   Code
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cdoc: %s: %s: %v", e.Code, e.Detail, e.Err)
	}
	return fmt.Sprintf("cdoc: %s: %s", e.Code, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error with the given code and detail message.
func New(code Code, detail string) *Error {
	return &Error{Code: code, Detail: detail}
}

// Wrap constructs an *Error that wraps an underlying error.
func Wrap(code Code, detail string, err error) *Error {
	return &Error{Code: code, Detail: detail, Err: err}
}

// CodeOf extracts the Code carried by err, or Unspecified if err is not an
// *Error (or is nil, for which Unspecified is returned as a harmless zero
// value — callers should check err != nil first).
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unspecified
}
