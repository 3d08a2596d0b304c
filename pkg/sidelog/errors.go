package sidelog

import (
	"errors"
	"fmt"
)

// Code classifies a side log error, mirroring the taxonomy the KV write
// path uses so callers can treat both the same way.
type Code int

const (
	OK Code = iota
	InvalidArgument
	IOError
	AssertionFailed
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case InvalidArgument:
		return "InvalidArgument"
	case IOError:
		return "IOError"
	case AssertionFailed:
		return "AssertionFailed"
	default:
		return "Unknown"
	}
}

// Error is a structured side log error.
type Error struct {
	Code    Code
	Op      string
	Context string
	Cause   error
}

func (e *Error) Error() string {
	if e.Context != "" {
		if e.Cause != nil {
			return fmt.Sprintf("sidelog %s (%s): %s: %v", e.Op, e.Context, e.Code, e.Cause)
		}
		return fmt.Sprintf("sidelog %s (%s): %s", e.Op, e.Context, e.Code)
	}
	if e.Cause != nil {
		return fmt.Sprintf("sidelog %s: %s: %v", e.Op, e.Code, e.Cause)
	}
	return fmt.Sprintf("sidelog %s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(op string, code Code, context string, cause error) *Error {
	return &Error{Op: op, Code: code, Context: context, Cause: cause}
}

// CodeOf extracts the Code of err, or OK if err is nil.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return IOError
}

var finishedErr = newError("operation", AssertionFailed, "", errors.New("already finished"))
