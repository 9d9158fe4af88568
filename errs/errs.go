// Package errs defines the runtime's typed error taxonomy (one Kind per
// failure category, not a Go type per category), shared across process,
// pool, subprocess, share, wire, and reconnect so callers can use a single
// errors.As(..., *errs.Error) to classify any failure the runtime produces.
package errs

import (
	"fmt"
	"runtime/debug"
)

// Kind names a failure category. Kind values are stable strings, suitable
// for logging and cross-process transport (they survive a wire round trip
// as plain data).
type Kind string

const (
	PreloopFailure       Kind = "preloop_failure"
	LoopFailure          Kind = "loop_failure"
	PostloopFailure      Kind = "postloop_failure"
	PreloopTimeout       Kind = "preloop_timeout"
	LoopTimeout          Kind = "loop_timeout"
	PostloopTimeout      Kind = "postloop_timeout"
	StartupTimeout       Kind = "startup_timeout"
	ShutdownTimeout      Kind = "shutdown_timeout"
	RestartExhausted     Kind = "restart_exhausted"
	ChildExited          Kind = "child_exited"
	PoolTaskFailed       Kind = "pool_task_failed"
	NestingLimitExceeded Kind = "nesting_limit_exceeded"
	ShareStopped         Kind = "share_stopped"
	ShareBlocked         Kind = "share_blocked"
	ShareDisallowed      Kind = "share_disallowed"
	EncodingFailed       Kind = "encoding_failed"
	DecodingFailed       Kind = "decoding_failed"
	ReconnectFailed      Kind = "reconnect_failed"
)

// Error is the structured failure record surfaced in a process's result slot
// (spec §6): kind, message, originating pid, loop index, and a captured
// stack trace in place of a foreign-process traceback.
type Error struct {
	Kind      Kind
	Message   string
	PID       int
	LoopIndex int
	Stack     string
	Cause     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind, capturing the current stack.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Stack: string(debug.Stack())}
}

// Wrap builds an Error of the given kind around cause, capturing the current
// stack. If cause is already an *Error of the same kind, it is returned
// unwrapped rather than double-wrapped.
func Wrap(kind Kind, cause error) *Error {
	if cause == nil {
		return New(kind, "")
	}
	if existing, ok := cause.(*Error); ok && existing.Kind == kind {
		return existing
	}
	return &Error{Kind: kind, Message: cause.Error(), Stack: string(debug.Stack()), Cause: cause}
}

// WithPID returns a copy of e with PID set.
func (e *Error) WithPID(pid int) *Error {
	cp := *e
	cp.PID = pid
	return &cp
}

// WithLoopIndex returns a copy of e with LoopIndex set.
func (e *Error) WithLoopIndex(idx int) *Error {
	cp := *e
	cp.LoopIndex = idx
	return &cp
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Kind == kind {
				return true
			}
			err = e.Cause
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
