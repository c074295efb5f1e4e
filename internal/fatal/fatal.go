// Package fatal raises the unrecoverable conditions of the buffer core.
//
// Allocation failures, device runtime failures and device-affinity violations leave no
// consistent state to continue from, so they panic with an error value instead of returning.
// The panic value is always an error built with github.com/cockroachdb/errors, so the cause
// survives errors.Is and carries a stack trace.
package fatal

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
)

// Check panics if err is non-nil. The message names the failed operation.
func Check(logger *slog.Logger, err error, format string, args ...any) {
	if err == nil {
		return
	}
	raise(logger, errors.Wrapf(err, format, args...))
}

// Panicf panics with cause wrapped by the formatted message.
func Panicf(logger *slog.Logger, cause error, format string, args ...any) {
	raise(logger, errors.Wrapf(cause, format, args...))
}

// Assertf panics with a programming-error (assertion failure) wrapping cause.
func Assertf(logger *slog.Logger, cause error, format string, args ...any) {
	raise(logger, errors.WithAssertionFailure(errors.Wrapf(cause, format, args...)))
}

// Recover runs f and returns the error it panicked with, or nil if it returned normally.
// Panics with non-error values are re-raised.
func Recover(f func()) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		e, ok := r.(error)
		if !ok {
			panic(r)
		}
		err = e
	}()
	f()
	return nil
}

// IsAssertion reports whether err is a device-affinity or usage violation
// rather than a resource or runtime failure.
func IsAssertion(err error) bool {
	return errors.IsAssertionFailure(err)
}

func raise(logger *slog.Logger, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.LogAttrs(context.Background(), slog.LevelError, "fatal", slog.String("error", err.Error()))
	panic(err)
}
