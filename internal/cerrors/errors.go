// Package cerrors defines the typed command-error sum ContextFS's command
// surface and RPC surface both map to exit codes / JSON shapes. It replaces
// the "throw and catch at the handler boundary" idiom the JS original used
// (spec.md §9 design notes) with an explicit Result-shaped error.
package cerrors

import "fmt"

// Kind classifies a CommandError so callers can map it to an exit code or a
// JSON error shape without string-matching the message.
type Kind string

const (
	KindUsage           Kind = "usage"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindBudgetExhausted Kind = "budget_exhausted"
	KindProvider        Kind = "provider"
	KindInternal        Kind = "internal"
	KindLockTimeout     Kind = "lock_timeout"
)

// CommandError is the typed error every ContextFS operation returns instead
// of an ad-hoc fmt.Errorf, so the command surface can decide exit codes and
// the RPC surface can decide JSON error shapes from Kind alone.
type CommandError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *CommandError) Unwrap() error { return e.Err }

func newErr(kind Kind, format string, args ...interface{}) *CommandError {
	return &CommandError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Usage signals bad arguments (empty query, out-of-range k, unknown command).
func Usage(format string, args ...interface{}) *CommandError { return newErr(KindUsage, format, args...) }

// NotFound signals a missing id (get/timeline anchor not found in hot or archive).
func NotFound(format string, args ...interface{}) *CommandError {
	return newErr(KindNotFound, format, args...)
}

// Conflict signals an ambiguous id resolution (timeline/get id conflict across sessions).
func Conflict(format string, args ...interface{}) *CommandError {
	return newErr(KindConflict, format, args...)
}

// BudgetExhausted is not really an error condition per spec.md §7 ("not an
// error; the response becomes a terminal truncated object") but is kept as a
// Kind so internal plumbing can still short-circuit on it explicitly.
func BudgetExhausted(format string, args ...interface{}) *CommandError {
	return newErr(KindBudgetExhausted, format, args...)
}

// Provider wraps a failed external summarizer/embedding call.
func Provider(err error, format string, args ...interface{}) *CommandError {
	e := newErr(KindProvider, format, args...)
	e.Err = err
	return e
}

// Internal wraps an unexpected failure (I/O, parse) that isn't one of the
// above domain-specific kinds.
func Internal(err error, format string, args ...interface{}) *CommandError {
	e := newErr(KindInternal, format, args...)
	e.Err = err
	return e
}

// LockTimeout signals the file lock could not be acquired within budget.
func LockTimeout(path string) *CommandError {
	return newErr(KindLockTimeout, "contextfs lock timeout: %s", path)
}

// ExitCode maps a Kind to the command-surface exit code contract in
// spec.md §6 (0 success, 1 error — every non-nil CommandError is 1, but
// exposing this keeps the mapping in one place instead of scattered `1`s).
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

// As extracts a *CommandError from err, wrapping it as Internal if it isn't
// already one, so downstream code can always rely on a Kind being present.
func As(err error) *CommandError {
	if err == nil {
		return nil
	}
	if ce, ok := err.(*CommandError); ok {
		return ce
	}
	return Internal(err, "%s", err.Error())
}
