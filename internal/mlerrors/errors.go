// Package mlerrors defines the small closed set of error kinds (§7) that
// cross component boundaries inside the catalogue engine. Every worker
// top-level loop catches these (and anything else) and translates them to
// a task status or a soft, logged failure; they are never allowed to
// unwind past a worker body.
package mlerrors

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Use errors.Is against these, or errors.As against the
// richer *SystemError / *NotFoundError / *ConstraintError types below.
var (
	ErrUnknownScheme  = errors.New("mlerrors: no filesystem factory registered for scheme")
	ErrUnhandledScheme = errors.New("mlerrors: scheme recognised but not handled in this context")
	ErrDeviceRemoved  = errors.New("mlerrors: device removed mid-operation")

	// ErrDbCorrupted is returned by orchestrator startup when a
	// migration fails three times in a row (§4.10).
	ErrDbCorrupted = errors.New("mlerrors: database corrupted, migration failed repeatedly")
	// ErrDbReset is returned by orchestrator startup after it wipes and
	// recreates the schema because the stored model version falls
	// outside the range this binary knows how to migrate (§4.10).
	ErrDbReset = errors.New("mlerrors: database reset, stored model version out of range")
)

// SystemError wraps an unexpected I/O error (errno or platform error code)
// encountered by the filesystem layer. It always bumps a task's retry
// counter when surfaced to the parser.
type SystemError struct {
	Code    int
	Message string
	Err     error
}

func (e *SystemError) Error() string {
	return fmt.Sprintf("mlerrors: system error %d: %s", e.Code, e.Message)
}

func (e *SystemError) Unwrap() error { return e.Err }

func NewSystemError(code int, message string, cause error) *SystemError {
	return &SystemError{Code: code, Message: message, Err: cause}
}

// NotFoundError is a recoverable lookup miss.
type NotFoundError struct {
	Target    string
	Container string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("mlerrors: %s not found in %s", e.Target, e.Container)
}

func NewNotFoundError(target, container string) *NotFoundError {
	return &NotFoundError{Target: target, Container: container}
}

// ConstraintKind distinguishes the store-level constraint violations the
// core must branch on. Each has a specific meaning documented at the call
// sites that interpret it (task creation dedup, concurrent-delete
// discard, migration corruption).
type ConstraintKind int

const (
	ConstraintUnique ConstraintKind = iota
	ConstraintForeignKey
	ConstraintOther
)

type ConstraintError struct {
	Kind  ConstraintKind
	Table string
	Err   error
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("mlerrors: constraint violation (%v) on %s", e.Kind, e.Table)
}

func (e *ConstraintError) Unwrap() error { return e.Err }

func NewConstraintError(kind ConstraintKind, table string, cause error) *ConstraintError {
	return &ConstraintError{Kind: kind, Table: table, Err: cause}
}

// IsConstraint reports whether err is a ConstraintError of the given kind.
func IsConstraint(err error, kind ConstraintKind) bool {
	var ce *ConstraintError
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// IsDeviceRemoved reports whether err (or something it wraps) is
// ErrDeviceRemoved.
func IsDeviceRemoved(err error) bool {
	return errors.Is(err, ErrDeviceRemoved)
}
