// Package acferr implements the error taxonomy from spec.md §7.
//
// Maps to: internal/models/errors.go ActivityError/ErrorType in the teacher
// repo, generalized from LLM/tool-activity categorization to the turn
// lifecycle's own failure classes.
package acferr

import "fmt"

// Class categorizes an error for the workflow's retry/compensate/abandon
// decision (spec.md §7).
type Class int

const (
	// Transient errors are retried with backoff: store connectivity, Brain
	// provider timeouts, mutex renewal failure before any IRREVERSIBLE effect.
	Transient Class = iota
	// PermanentRecoverable errors are handled by a specific control-flow
	// branch rather than surfaced as a failure (e.g. idempotency conflict).
	PermanentRecoverable
	// PermanentTerminal errors end the turn after compensation is attempted.
	PermanentTerminal
	// InvariantViolation marks a condition that must never occur (two active
	// turns, fencing regression, an undeclared tool policy). The turn is
	// abandoned without commit and an operational alert is expected upstream.
	InvariantViolation
)

// String returns a human-readable class name.
func (c Class) String() string {
	switch c {
	case Transient:
		return "Transient"
	case PermanentRecoverable:
		return "PermanentRecoverable"
	case PermanentTerminal:
		return "PermanentTerminal"
	case InvariantViolation:
		return "InvariantViolation"
	default:
		return "Unknown"
	}
}

// Error is a classified ACF error carrying enough context for the audit
// sink to record a terminal event without re-deriving it.
type Error struct {
	Class      Class
	Message    string
	SessionKey string
	TurnID     string
	Token      uint64
	Cause      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Class, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Class, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the workflow step should retry automatically.
func (e *Error) Retryable() bool { return e.Class == Transient }

// NewTransient wraps cause as a retryable transient error.
func NewTransient(sessionKey, message string, cause error) *Error {
	return &Error{Class: Transient, Message: message, SessionKey: sessionKey, Cause: cause}
}

// NewPermanentRecoverable wraps cause as a permanent-but-handled error.
func NewPermanentRecoverable(sessionKey, message string, cause error) *Error {
	return &Error{Class: PermanentRecoverable, Message: message, SessionKey: sessionKey, Cause: cause}
}

// NewPermanentTerminal wraps cause as a terminal, compensation-requiring error.
func NewPermanentTerminal(sessionKey, turnID, message string, cause error) *Error {
	return &Error{Class: PermanentTerminal, Message: message, SessionKey: sessionKey, TurnID: turnID, Cause: cause}
}

// NewInvariantViolation records a condition that should be structurally
// impossible: two active turns, a fencing regression, a tool declared
// without a policy. Fail closed — abandon the turn, do not commit.
func NewInvariantViolation(sessionKey, turnID, message string) *Error {
	return &Error{Class: InvariantViolation, Message: message, SessionKey: sessionKey, TurnID: turnID}
}

// IdempotencyConflict is returned when a caller reuses an idempotency key
// with a payload hash that doesn't match the original request (spec.md §4.4).
type IdempotencyConflict struct {
	Scope string
	Key   string
}

func (e *IdempotencyConflict) Error() string {
	return fmt.Sprintf("idempotency conflict: scope=%s key=%s payload hash mismatch", e.Scope, e.Key)
}
