// Package errors contains the error helpers used throughout tabletsync.
//
// Errors are wrapped with WithContext as they propagate up the stack so that
// the final message reads like a trace of what was being attempted, e.g.
// "sync: dial: cannot connect to 10.11.99.1: i/o timeout". FriendlyErrors
// carry a message that's meant to be shown to the user verbatim.
package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// New returns an error with the formatted message.
func New(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

type contextError struct {
	context string
	err     error
}

// WithContext annotates `err` with a description of what was being attempted
// when it occurred. It returns nil if `err` is nil.
func WithContext(err error, context string) error {
	if err == nil {
		return nil
	}
	return contextError{context: context, err: err}
}

func (err contextError) Error() string {
	return fmt.Sprintf("%s: %s", err.context, err.err)
}

// Cause implements the interface used by github.com/pkg/errors.Cause.
func (err contextError) Cause() error {
	return err.err
}

func (err contextError) Unwrap() error {
	return err.err
}

// FriendlyError is an error whose message is safe to print directly to the
// user, without any of the context that was added while propagating it.
type FriendlyError struct {
	msg string
}

// NewFriendlyError creates a FriendlyError with the formatted message.
func NewFriendlyError(format string, args ...interface{}) error {
	return FriendlyError{fmt.Sprintf(format, args...)}
}

func (err FriendlyError) Error() string {
	return err.msg
}

// FriendlyMessage returns the message that should be shown to the user.
func (err FriendlyError) FriendlyMessage() string {
	return err.msg
}

type friendlyMessager interface {
	FriendlyMessage() string
}

// GetPrintableMessage returns the friendly message of the first error in the
// chain that has one. Otherwise, it returns the full error string.
func GetPrintableMessage(err error) string {
	var friendly friendlyMessager
	if errors.As(err, &friendly) {
		return friendly.FriendlyMessage()
	}
	return err.Error()
}

// RootCause returns the innermost error in the chain.
func RootCause(err error) error {
	return errors.Cause(err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
