// Package coro implements a structured-concurrency runtime for network
// services: cooperatively scheduled tasks, rendezvous channels with a
// non-deterministic choose operator, and a handle table that every
// composable socket adapter (see the adapter and transport subpackages)
// dispatches through.
package coro

import (
	"errors"
	"fmt"
)

// CoreError is the sum-typed replacement for the errno-style codes a C
// implementation of this runtime would return. Every blocking primitive
// returns one of the sentinel values below, optionally wrapping a Cause
// (e.g. the syscall.Errno or net.OpError that triggered it).
type CoreError struct {
	kind    string
	message string
	Cause   error
}

func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("coro: %s: %v", e.message, e.Cause)
	}
	return "coro: " + e.message
}

func (e *CoreError) Unwrap() error { return e.Cause }

// Is reports whether target is the same sentinel kind, ignoring Cause.
// This lets errors.Is(err, ErrTimeout) succeed even after Wrap attaches an
// OS-level cause to the sentinel.
func (e *CoreError) Is(target error) bool {
	var other *CoreError
	if errors.As(target, &other) {
		return other.kind == e.kind
	}
	return false
}

func newSentinel(kind, message string) *CoreError {
	return &CoreError{kind: kind, message: message}
}

// Wrap returns a copy of sentinel with cause attached as Unwrap's target,
// so errors.Is(result, sentinel) and errors.Is(result, cause) both hold.
func Wrap(sentinel *CoreError, cause error) error {
	if cause == nil {
		return sentinel
	}
	return &CoreError{kind: sentinel.kind, message: sentinel.message, Cause: cause}
}

// Error taxonomy, grouped per spec.md §7.
var (
	// Input
	ErrInvalid         = newSentinel("EINVAL", "invalid argument")
	ErrBadHandle       = newSentinel("EBADF", "bad or closed handle")
	ErrMessageTooLarge = newSentinel("EMSGSIZE", "message too large for buffer")
	ErrNameTooLong     = newSentinel("ENAMETOOLONG", "name too long")

	// Resource
	ErrNoMemory    = newSentinel("ENOMEM", "out of memory")
	ErrTooManyOpen = newSentinel("EMFILE", "too many open handles")

	// Liveness
	ErrTimeout   = newSentinel("ETIMEDOUT", "deadline exceeded")
	ErrCanceled  = newSentinel("ECANCELED", "operation canceled")
	ErrOverload  = newSentinel("EOVERLOAD", "scheduler ingress overloaded")

	// Protocol/peer
	ErrProtocol     = newSentinel("EPROTO", "protocol violation")
	ErrClosedOrderly = newSentinel("EPIPE", "peer closed orderly")
	ErrConnReset    = newSentinel("ECONNRESET", "connection reset after prior error")

	// Unsupported
	ErrNotSupported = newSentinel("ENOTSUP", "operation not supported")

	// Network
	ErrConnRefused   = newSentinel("ECONNREFUSED", "connection refused")
	ErrHostUnreach   = newSentinel("EHOSTUNREACH", "host unreachable")
	ErrNetUnreach    = newSentinel("ENETUNREACH", "network unreachable")
	ErrAccessDenied  = newSentinel("EACCES", "access denied")
	ErrAddrFamily    = newSentinel("EAFNOSUPPORT", "address family not supported")
	ErrOpNotSupported = newSentinel("EOPNOTSUPP", "operation not supported on socket")
	ErrIO            = newSentinel("EIO", "i/o error")
)
