package param

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownAttribute is returned when an attribute name does not resolve
// against the instance's class hierarchy.
var ErrUnknownAttribute = errors.New("param: unknown attribute")

// ErrDispatcherClosed is returned when an operation is attempted on a
// dispatcher that has been closed.
var ErrDispatcherClosed = errors.New("param: dispatcher closed")

// ErrNotAction is returned when Trigger is called on a non-Action attribute.
var ErrNotAction = errors.New("param: attribute is not an action")

// ValidationError reports a candidate value that violates an attribute's
// declared constraints (kind, bounds, or allowed values).
type ValidationError struct {
	Attr   string
	Value  any
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("param: invalid value %v for attribute %q: %s", e.Value, e.Attr, e.Reason)
}

// ConstantViolation reports a write to a constant attribute after the
// construction window has closed.
type ConstantViolation struct {
	Attr string
}

// Error implements the error interface.
func (e *ConstantViolation) Error() string {
	return fmt.Sprintf("param: attribute %q is constant and cannot be set after construction", e.Attr)
}

// PathError reports a source path that does not resolve against the
// declaring instance's class hierarchy.
type PathError struct {
	Path   string
	Reason string
}

// Error implements the error interface.
func (e *PathError) Error() string {
	return fmt.Sprintf("param: invalid source path %q: %s", e.Path, e.Reason)
}

// WatcherError wraps an error raised by a watcher callback during dispatch.
// The batch continues delivering to independent watchers; all WatcherErrors
// are collected into a BatchError returned to the batch initiator.
type WatcherError struct {
	Paths []string
	Err   error
}

// Error implements the error interface.
func (e *WatcherError) Error() string {
	return fmt.Sprintf("param: watcher on [%s] failed: %v", strings.Join(e.Paths, " "), e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *WatcherError) Unwrap() error {
	return e.Err
}

// BatchError aggregates the failures of all watchers that raised during a
// single batch. A failing watcher never suppresses delivery to the others,
// so a batch can carry more than one failure.
type BatchError struct {
	Errors []error
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("param: %d watchers failed during batch (first: %v)", len(e.Errors), e.Errors[0])
}

// Unwrap returns the aggregated errors for errors.Is/As support.
func (e *BatchError) Unwrap() []error {
	return e.Errors
}

// Hazard describes a double-invocation hazard: the same callback identity
// registered both eagerly and passively over intersecting source paths.
// The dispatcher surfaces it as a warning-level condition and does not
// dedupe across the two delivery modes, since the two call sites may have
// intentionally distinct side effects.
type Hazard struct {
	Paths []string
}

// String returns a human-readable description of the hazard.
func (h Hazard) String() string {
	return fmt.Sprintf("callback registered both eager and passive over [%s]", strings.Join(h.Paths, " "))
}
