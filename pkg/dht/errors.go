package dht

import (
	"errors"
	"fmt"
)

// Sentinel usage errors. They are returned wrapped in a *CallError.
var (
	ErrInvalidState       = errors.New("operation not allowed in current state")
	ErrNotInitialized     = errors.New("client not initialized")
	ErrAlreadyInitialized = errors.New("client already initialized")
	ErrNotStarted         = errors.New("engine was never started")
	ErrDataTooLarge       = errors.New("data too large for key space")
	ErrObserverSlotTaken  = errors.New("observer already attached for event")
	ErrClosed             = errors.New("client closed")
)

// CallError reports a programmer error: an operation called in a state that does not
// allow it, or with arguments the engine cannot accept. It is always returned
// synchronously and never reaches a handler.
type CallError struct {
	Op     string
	State  State
	Reason string
	Err    error
}

func (e *CallError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("dht: %s: %s (state '%s')", e.Op, e.Reason, e.State)
	}
	return fmt.Sprintf("dht: %s: %v (state '%s')", e.Op, e.Err, e.State)
}

func (e *CallError) Unwrap() error { return e.Err }

// IsCallError reports whether err is a usage error.
func IsCallError(err error) bool {
	var ce *CallError
	return errors.As(err, &ce)
}

// Failure codes carried by asynchronous failure notifications.
const (
	CodeUnknown = iota
	CodeAborted
	CodeTimeout
	CodeEngine
	CodeNoPeers
	CodeInternal
)

// Failure is an operational error delivered through handlers, never returned from a call.
type Failure struct {
	Code   int
	Reason string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("dht failure %d: %s", f.Code, f.Reason)
}

func failuref(code int, format string, a ...any) *Failure {
	return &Failure{Code: code, Reason: fmt.Sprintf(format, a...)}
}

// CodeText returns a short name for a failure code.
func CodeText(code int) string {
	switch code {
	case CodeAborted:
		return "aborted"
	case CodeTimeout:
		return "timeout"
	case CodeEngine:
		return "engine"
	case CodeNoPeers:
		return "no_peers"
	case CodeInternal:
		return "internal"
	default:
		return "unknown"
	}
}
