// Package fserr classifies image operation failures.
//
// Every error returned by mkfs and ingest is an *Error carrying one of the
// categories below, wrapping the package-level sentinel or I/O error that
// caused it. Callers branch on the category with CategoryOf and on the
// specific cause with errors.Is.
package fserr

import (
	"errors"
	"fmt"
)

type Category string

const (
	// CategoryValidation: bad input detected before any mutation (name too
	// long, file too large, infeasible size/inode combination, duplicate
	// name).
	CategoryValidation Category = "validation"

	// CategoryExhausted: no free inode, no free data block, or a full root
	// directory.
	CategoryExhausted Category = "exhausted"

	// CategoryIO: a read, write, seek, sync or lock of the image or source
	// failed.
	CategoryIO Category = "io"

	// CategoryFormat: the image is not a MiniVSFS image or its geometry is
	// unusable.
	CategoryFormat Category = "format"
)

type Error struct {
	Category Category
	Err      error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

func Validation(format string, args ...any) *Error {
	return &Error{Category: CategoryValidation, Err: fmt.Errorf(format, args...)}
}

func Exhausted(format string, args ...any) *Error {
	return &Error{Category: CategoryExhausted, Err: fmt.Errorf(format, args...)}
}

func IO(format string, args ...any) *Error {
	return &Error{Category: CategoryIO, Err: fmt.Errorf(format, args...)}
}

func Format(format string, args ...any) *Error {
	return &Error{Category: CategoryFormat, Err: fmt.Errorf(format, args...)}
}

// CategoryOf returns the category of the first *Error in err's chain, or ""
// if there is none.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return ""
}

// ExitCode maps the category to a process exit status.
func (e *Error) ExitCode() int {
	switch e.Category {
	case CategoryValidation:
		return 2
	case CategoryExhausted:
		return 3
	case CategoryIO:
		return 4
	case CategoryFormat:
		return 5
	}
	return 1
}
