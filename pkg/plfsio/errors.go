package plfsio

import (
	"errors"
	"fmt"
)

// Code classifies a plfsio error the way the caller needs to react to it.
type Code int

const (
	// OK is the zero value: no error.
	OK Code = iota
	NotFound
	Corruption
	AlreadyExists
	AccessDenied
	NotSupported
	InvalidArgument
	IOError
	// TryAgain is an internal retry signal. It never escapes this package.
	TryAgain
	// AssertionFailed backs the sticky "already finished" sentinel returned
	// by every operation issued after Finish has completed once.
	AssertionFailed
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case NotFound:
		return "NotFound"
	case Corruption:
		return "Corruption"
	case AlreadyExists:
		return "AlreadyExists"
	case AccessDenied:
		return "AccessDenied"
	case NotSupported:
		return "NotSupported"
	case InvalidArgument:
		return "InvalidArgument"
	case IOError:
		return "IOError"
	case TryAgain:
		return "TryAgain"
	case AssertionFailed:
		return "AssertionFailed"
	default:
		return "Unknown"
	}
}

// Error is a structured plfsio error: a code classifying the failure plus
// the operation, component, and cause that produced it.
type Error struct {
	Code      Code
	Op        string
	Component string
	Context   string
	Cause     error
}

func (e *Error) Error() string {
	if e.Context != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s %s (%s): %s: %v", e.Op, e.Component, e.Context, e.Code, e.Cause)
		}
		return fmt.Sprintf("%s %s (%s): %s", e.Op, e.Component, e.Context, e.Code)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Component, e.Code, e.Cause)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Component, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	if other, ok := target.(*Error); ok {
		return e.Code == other.Code
	}
	return errors.Is(e.Cause, target)
}

// ErrorBuilder builds an *Error with a fluent interface, mirroring the
// shape of the storage-layer error builder this package is adapted from.
type ErrorBuilder struct {
	err Error
}

// NewError starts building an error for the named operation.
func NewError(op string) *ErrorBuilder {
	return &ErrorBuilder{err: Error{Op: op}}
}

func (b *ErrorBuilder) Component(name string) *ErrorBuilder {
	b.err.Component = name
	return b
}

func (b *ErrorBuilder) Context(ctx string) *ErrorBuilder {
	b.err.Context = ctx
	return b
}

func (b *ErrorBuilder) Cause(err error) *ErrorBuilder {
	b.err.Cause = err
	return b
}

func (b *ErrorBuilder) Code(c Code) *ErrorBuilder {
	b.err.Code = c
	return b
}

func (b *ErrorBuilder) Build() *Error {
	return &b.err
}

func (b *ErrorBuilder) Err() error {
	return &b.err
}

// CodeOf extracts the Code of err, or OK if err is nil, or Corruption if
// err is a foreign error this package didn't produce (a defensive default
// since an unrecognized error is least safe to treat as transient).
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Corruption
}

// finishedErr is the sentinel returned by every operation issued on a Dir
// after Finish has already completed once.
var finishedErr = NewError("operation").Component("dir").Code(AssertionFailed).Cause(errors.New("already finished")).Err()

// IsNotFound reports whether err is (or wraps) a NotFound error.
func IsNotFound(err error) bool {
	return CodeOf(err) == NotFound
}

// IsCorruption reports whether err is (or wraps) a Corruption error.
func IsCorruption(err error) bool {
	return CodeOf(err) == Corruption
}
