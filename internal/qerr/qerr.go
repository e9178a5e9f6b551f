// Package qerr classifies pipeline failures so callers can decide whether a
// request is fatal, repairable, or must be rejected outright.
package qerr

import (
	"errors"
	"fmt"
)

// Class is the failure taxonomy shared by every pipeline stage.
type Class string

const (
	ClassNone               Class = ""
	ClassSchemaDiscovery    Class = "schema_discovery"
	ClassGenerationParse    Class = "generation_parse"
	ClassValidationRejected Class = "validation_rejected"
	ClassExecution          Class = "execution"
	ClassTransportParse     Class = "transport_parse"
	ClassInternal           Class = "internal"
)

// Retryable reports whether a failure of this class may enter the repair loop.
func (c Class) Retryable() bool {
	switch c {
	case ClassGenerationParse, ClassExecution, ClassTransportParse:
		return true
	default:
		return false
	}
}

// Fatal reports whether the failure aborts the request without any repair.
func (c Class) Fatal() bool {
	return c == ClassSchemaDiscovery || c == ClassValidationRejected || c == ClassInternal
}

// Error is a classified failure. Op names the stage that produced it.
type Error struct {
	Class Class
	Op    string
	Err   error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Class, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a class and stage name.
func New(class Class, op string, err error) *Error {
	return &Error{Class: class, Op: op, Err: err}
}

// Newf builds a classified error from a format string.
func Newf(class Class, op, format string, args ...any) *Error {
	return &Error{Class: class, Op: op, Err: fmt.Errorf(format, args...)}
}

// ClassOf returns the class of the first *Error in err's chain, or
// ClassInternal for unclassified errors.
func ClassOf(err error) Class {
	if err == nil {
		return ClassNone
	}
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Class
	}
	return ClassInternal
}

// Is reports whether err carries the given class.
func Is(err error, class Class) bool {
	return ClassOf(err) == class
}
