// Package errcode defines the structured error taxonomy shared across the
// pipeline-graph system, and the mapping from error kind to process exit
// code described in spec.md §6/§7.
package errcode

import "fmt"

// Kind is one of the abstract error categories from spec.md §7.
type Kind string

const (
	// KindValidation covers empty commands, malformed env pairs, unknown
	// data-source actions, missing required parameters.
	KindValidation Kind = "validation"

	// KindGraphInvariant covers cycle formation, duplicate names, references
	// to unknown vertices.
	KindGraphInvariant Kind = "graph_invariant"

	// KindState covers operations that require a clean (non-OUTDATED) graph.
	KindState Kind = "state"

	// KindIntegrity covers bundle digest mismatches and input digest
	// mismatches.
	KindIntegrity Kind = "integrity"

	// KindExternal covers tracer unavailability/abort, sandbox setup
	// failure, reproduction failure/timeout.
	KindExternal Kind = "external"

	// KindIO covers persistence read/write and serialization failures.
	KindIO Kind = "io"

	// KindInternal is the catch-all for bugs/panics recovered at a boundary.
	KindInternal Kind = "internal"
)

// ExitCode returns the spec.md §6 process exit code for a Kind.
//
//	0 success; 2 validation error; 3 graph-out-of-date;
//	4 reproduction failure; 5 integrity failure.
func (k Kind) ExitCode() int {
	switch k {
	case KindValidation, KindGraphInvariant:
		return 2
	case KindState:
		return 3
	case KindExternal:
		return 4
	case KindIntegrity:
		return 5
	case KindIO:
		return 1
	default:
		return 1
	}
}

// Error is a structured error carrying a Kind, a human Message, and an
// optional underlying Cause.
//
// It is designed to surface synchronously at input-validation/graph-invariant
// call sites (spec.md §7 "Propagation policy"), or to be attached to a
// JobResult for external/I/O failures from within a single job.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs a Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// ExitCodeFor is a small convenience for the common case of recovering the
// exit code for an arbitrary error returned up the stack.
func ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var ce *Error
	if ok := asError(err, &ce); ok {
		return ce.Kind.ExitCode()
	}
	return 1
}

func asError(err error, target **Error) bool {
	for err != nil {
		if ce, ok := err.(*Error); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
