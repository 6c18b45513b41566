// Package cdserr defines the error kinds used across the content-directory
// core, per the error handling design: per-file errors are logged and
// skipped, Cancelled/ShuttingDown abort silently, InvalidArgument/Conflict
// propagate to callers of public ContentManager methods.
package cdserr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error raised inside the content-directory core.
type Kind int

const (
	// Unknown is the zero value for errors not raised through this package.
	Unknown Kind = iota
	InvalidArgument
	NotFound
	Conflict
	IOError
	DatabaseError
	Cancelled
	ShuttingDown
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case NotFound:
		return "NotFound"
	case Conflict:
		return "Conflict"
	case IOError:
		return "IOError"
	case DatabaseError:
		return "DatabaseError"
	case Cancelled:
		return "Cancelled"
	case ShuttingDown:
		return "ShuttingDown"
	default:
		return "Unknown"
	}
}

// kindError wraps an error with a Kind while preserving the pkg/errors stack
// trace of the cause.
type kindError struct {
	kind  Kind
	cause error
}

func (e *kindError) Error() string {
	return fmt.Sprintf("%s: %v", e.kind, e.cause)
}

func (e *kindError) Unwrap() error { return e.cause }

// New creates an error of the given kind from a message.
func New(k Kind, msg string) error {
	return &kindError{kind: k, cause: errors.New(msg)}
}

// Newf creates an error of the given kind from a formatted message.
func Newf(k Kind, format string, args ...interface{}) error {
	return &kindError{kind: k, cause: errors.Errorf(format, args...)}
}

// Wrap attaches a kind to an existing error, preserving it as the cause.
func Wrap(k Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: k, cause: errors.Wrap(err, msg)}
}

// Wrapf attaches a kind to an existing error with a formatted message.
func Wrapf(k Kind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: k, cause: errors.Wrapf(err, format, args...)}
}

// KindOf returns the Kind carried by err, or Unknown if err was not raised
// through this package.
func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, k Kind) bool {
	return KindOf(err) == k
}

// Silent reports whether err should abort the current task without
// surfacing to the user, per spec: Cancelled and ShuttingDown are silent.
func Silent(err error) bool {
	k := KindOf(err)
	return k == Cancelled || k == ShuttingDown
}
