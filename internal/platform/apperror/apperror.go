// Package apperror classifies the failures the gateway reports to callers.
// Every error that crosses a package boundary carries one Kind, and the kind
// survives fmt.Errorf("%w") wrapping.
package apperror

import (
	"errors"
	"fmt"
)

// Kind is the classification of an error.
type Kind string

const (
	// KindBadRequest is an invalid filter key/value combination or other caller input.
	KindBadRequest Kind = "bad_request"

	// KindNotFound is a missing record, zero results where one is expected,
	// or a page beyond the end of the result set.
	KindNotFound Kind = "not_found"

	// KindRemoteUnavailable is a transport failure talking to the remote server.
	// It is never retried.
	KindRemoteUnavailable Kind = "remote_unavailable"

	// KindDuplicateConflict is a true collision on create or a cross-owner
	// collision on update.
	KindDuplicateConflict Kind = "duplicate_conflict"

	// KindDanglingReference is a reference whose target cannot be read.
	KindDanglingReference Kind = "dangling_reference"
)

// Error is a classified error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports a match against another *Error of the same kind, so that
// errors.Is(err, apperror.ErrNotFound) works for any not-found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrBadRequest        = &Error{Kind: KindBadRequest}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrRemoteUnavailable = &Error{Kind: KindRemoteUnavailable}
	ErrDuplicateConflict = &Error{Kind: KindDuplicateConflict}
	ErrDanglingReference = &Error{Kind: KindDanglingReference}
)

func BadRequest(format string, args ...interface{}) error {
	return &Error{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func DuplicateConflict(format string, args ...interface{}) error {
	return &Error{Kind: KindDuplicateConflict, Message: fmt.Sprintf(format, args...)}
}

// RemoteUnavailable wraps a transport failure.
func RemoteUnavailable(err error, format string, args ...interface{}) error {
	return &Error{Kind: KindRemoteUnavailable, Message: fmt.Sprintf(format, args...), Err: err}
}

// DanglingReference wraps the failed read of a reference target.
func DanglingReference(err error, format string, args ...interface{}) error {
	return &Error{Kind: KindDanglingReference, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the outermost classified error in the chain,
// or "" if err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
