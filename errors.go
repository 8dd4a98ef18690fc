// Package cdoc is the public facade over the CDoc1/CDoc2 container codecs:
// format detection, and the Reader/Writer interfaces callers drive.
package cdoc

import "github.com/cdoc-project/cdoc/errs"

// Code is one of the boundary error codes a caller can switch on. It is an
// alias of errs.Code so that every internal package (which cannot import
// this root package without creating an import cycle through backend and
// the codecs) still produces errors callers can match against cdoc.Code.
type Code = errs.Code

const (
	Unspecified      = errs.Unspecified
	NotImplemented   = errs.NotImplemented
	InvalidParams    = errs.InvalidParams
	CryptoError      = errs.CryptoError
	HashMismatch     = errs.HashMismatch
	IOError          = errs.IOError
	InputStreamError = errs.InputStreamError
	OutputStreamError = errs.OutputStreamError
	WorkflowError    = errs.WorkflowError
	EndOfStream      = errs.EndOfStream
	NotSupported     = errs.NotSupported
)

// Error is the single error type returned across the cdoc API boundary.
type Error = errs.Error

// New constructs an *Error with the given code and detail message.
func New(code Code, detail string) *Error { return errs.New(code, detail) }

// Wrap constructs an *Error that wraps an underlying error.
func Wrap(code Code, detail string, err error) *Error { return errs.Wrap(code, detail, err) }

// CodeOf extracts the Code carried by err, or Unspecified if err is not a
// *Error.
func CodeOf(err error) Code { return errs.CodeOf(err) }
