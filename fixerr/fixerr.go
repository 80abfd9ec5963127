/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package fixerr defines the closed set of failure kinds produced by the
// issue fix pipeline and the error type that carries them between stages.
package fixerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	// Selection means no usable files could be identified for the issue.
	Selection Kind = iota + 1
	// Generation means the generation service failed or returned
	// output that is incomplete or malformed.
	Generation
	// ValidationTimeout means the compiler exceeded its time limit.
	ValidationTimeout
	// ValidationFailure means the compiler reported diagnostics that
	// survived noise filtering.
	ValidationFailure
	// WorkspaceIO means the sandbox could not create, write, move or
	// remove workspace files.
	WorkspaceIO
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case Selection:
		return "selection"
	case Generation:
		return "generation"
	case ValidationTimeout:
		return "validation_timeout"
	case ValidationFailure:
		return "validation_failure"
	case WorkspaceIO:
		return "workspace_io"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error implements error so that a Kind can be used as an errors.Is target:
//
//	if errors.Is(err, fixerr.Selection) { ... }
func (k Kind) Error() string {
	return k.String()
}

// Error is a classified pipeline failure.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "select" or "validate".
	Op string
	// Msg is a human readable description.
	Msg string
	// Details carries supplementary lines such as dropped paths or
	// compiler diagnostics.
	Details []string
	// Err is the underlying cause, if any.
	Err error
}

// Error implements error.
func (e *Error) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Kind.String())
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is this error's Kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// New constructs an Error without an underlying cause.
func New(kind Kind, op, msg string, details ...string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Details: details}
}

// Wrap constructs an Error around cause. It returns nil when cause is nil.
func Wrap(kind Kind, op string, cause error, msg string) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Msg: msg, Err: cause}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

// DetailsOf returns the Details of the first *Error in err's chain.
func DetailsOf(err error) []string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Details
	}
	return nil
}
