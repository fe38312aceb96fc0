// Package errs defines the typed error taxonomy shared across powerplane:
// every internal failure carries a stable numeric code, a human-readable
// message, and the source location where it was raised, so that the
// pkg/cabi boundary can map it to an integer without losing context in
// logs.
package errs

import (
	"errors"
	"fmt"
	"runtime"
)

// Code is a stable, wire-safe error code. Values never change once
// released; append new ones at the end.
type Code int

const (
	// CodeRuntime is a platform/OS failure: MSR open/read/write error,
	// hardware not present, shared-memory syscall failure.
	CodeRuntime Code = iota + 1
	// CodeLogic is an internal invariant violation (a bug in powerplane
	// itself, not caller misuse or environment failure).
	CodeLogic
	// CodeInvalid is boundary misuse: a bad argument, an out-of-range
	// field, an unsupported mode for the operation requested.
	CodeInvalid
	// CodePolicyNull is a nil/unknown policy handle crossing the cabi
	// boundary.
	CodePolicyNull
	// CodeFileParse is a malformed GlobalPolicy config (bad JSON, wrong
	// field type, missing required option, out-of-bounds value).
	CodeFileParse
	// CodeLevelRange is a tree level outside [0, NumLevel).
	CodeLevelRange
)

var codeNames = map[Code]string{
	CodeRuntime:    "RUNTIME",
	CodeLogic:      "LOGIC",
	CodeInvalid:    "INVALID",
	CodePolicyNull: "POLICY_NULL",
	CodeFileParse:  "FILE_PARSE",
	CodeLevelRange: "LEVEL_RANGE",
}

// String returns the stable uppercase tag for the code, or "UNKNOWN" for
// a code this catalog doesn't recognize.
func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return "UNKNOWN"
}

const tag = "powerplane"

// Error is the typed error every internal component raises. It satisfies
// the standard error interface and additionally exposes Code, File, and
// Line for callers (notably pkg/cabi) that need the structured form.
type Error struct {
	Code    Code
	Message string
	File    string
	Line    int
}

// New constructs an Error, capturing the caller's file and line the way
// the source's Exception(message, code, file, line) constructor does.
func New(code Code, message string) *Error {
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file, line = "unknown", 0
	}
	return &Error{Code: code, Message: message, File: file, Line: line}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(code Code, format string, args ...any) *Error {
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file, line = "unknown", 0
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), File: file, Line: line}
}

// Wrap attaches a code and the calling location to an existing error,
// preserving its message. Used at boundaries that receive a plain error
// from the standard library (os, encoding/json) and need to classify it.
func Wrap(code Code, err error) *Error {
	if err == nil {
		return nil
	}
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file, line = "unknown", 0
	}
	return &Error{Code: code, Message: err.Error(), File: file, Line: line}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s (%s:%d)", tag, e.Code, e.Message, e.File, e.Line)
}

// As reports whether err is (or wraps) an *Error and, if so, returns it.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// CodeOf extracts the Code from err if it is an *Error, otherwise returns
// CodeRuntime — the same fallback the C ABI boundary uses for any error
// that didn't originate from this catalog (delegating unknown codes to
// the OS strerror family, per spec.md §6).
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeRuntime
}
