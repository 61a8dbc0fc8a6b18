// Package services defines the business logic for creating and reading users.
// This file centralizes the domain error taxonomy so that service methods
// return predictable failures and callers can branch on their kind.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind tags a DomainError.
type Kind int

const (
	KindInternal Kind = iota
	KindNotAuthenticated
	KindNotAuthorized
	KindAlreadyExists
)

func (k Kind) String() string {
	switch k {
	case KindNotAuthenticated:
		return "not_authenticated"
	case KindNotAuthorized:
		return "not_authorized"
	case KindAlreadyExists:
		return "already_exists"
	default:
		return "internal"
	}
}

// DomainError is a failure the domain layer expects callers to handle.
// Field and Value are set for KindAlreadyExists, Value holds the denied
// action for KindNotAuthorized, and Cause is set for KindInternal.
type DomainError struct {
	Kind  Kind
	Field string
	Value string
	Cause error
}

func (e *DomainError) Error() string {
	switch e.Kind {
	case KindNotAuthenticated:
		return "not authenticated"
	case KindNotAuthorized:
		return "not authorized"
	case KindAlreadyExists:
		if e.Field == "" {
			return "already exists"
		}
		return fmt.Sprintf("%s %q already exists", e.Field, e.Value)
	default:
		if e.Cause == nil {
			return "internal error"
		}
		return "internal error: " + e.Cause.Error()
	}
}

func (e *DomainError) Unwrap() error { return e.Cause }

// Is matches any DomainError of the same kind, so the sentinels below work
// with errors.Is regardless of Field, Value or Cause.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrNotAuthenticated = &DomainError{Kind: KindNotAuthenticated}
	ErrNotAuthorized    = &DomainError{Kind: KindNotAuthorized}
	ErrAlreadyExists    = &DomainError{Kind: KindAlreadyExists}
	ErrInternal         = &DomainError{Kind: KindInternal}
)

var (
	// ErrUserNotFound indicates that the requested user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrUnvalidatedCommand is returned when a command was not built from a
	// validated payload.
	ErrUnvalidatedCommand = errors.New("command was not built from a validated payload")
)

// AlreadyExists reports that a record with field=value is already stored.
func AlreadyExists(field, value string) error {
	return &DomainError{Kind: KindAlreadyExists, Field: field, Value: value}
}

// NotAuthorized reports that the actor may not perform action.
func NotAuthorized(action string) error {
	return &DomainError{Kind: KindNotAuthorized, Value: action}
}

// Internal wraps an unexpected failure. The cause gets a stack trace unless it
// already carries one.
func Internal(cause error) error {
	if cause == nil {
		cause = pkgerrors.New("internal error")
	} else if !hasStack(cause) {
		cause = pkgerrors.WithStack(cause)
	}
	return &DomainError{Kind: KindInternal, Cause: cause}
}

// KindOf returns the kind of the first DomainError in err's chain.
func KindOf(err error) (Kind, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return KindInternal, false
}

// NonFatalError wraps a side-effect failure that happened after the primary
// operation committed. It is reported but never returned to the client.
type NonFatalError struct {
	Op  string
	Err error
}

func (e *NonFatalError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *NonFatalError) Unwrap() error { return e.Err }

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

func hasStack(err error) bool {
	var st stackTracer
	return errors.As(err, &st)
}
