// Package manerr defines the error-kind taxonomy shared across the scheduler,
// coordinator, and approval gate. Workflow code must not rely on panics or
// sentinel exceptions for control flow; every terminal condition the
// coordinator needs to branch on is an explicit *Error value with a Kind.
package manerr

import (
	"errors"
	"fmt"
)

// Kind enumerates the terminal and transient error classes the coordinator
// and scheduler can produce. See spec §7.
type Kind string

const (
	// KindPolicyBlocked marks a step whose lane is BLOCKED; non-retryable.
	KindPolicyBlocked Kind = "PolicyBlocked"
	// KindDenied marks an operator DENY decision; non-retryable.
	KindDenied Kind = "Denied"
	// KindCancelled marks a cancel signal or CANCEL_WORKFLOW decision; non-retryable.
	KindCancelled Kind = "Cancelled"
	// KindBacklogOverloaded marks a BLOCK_NEW degrade rejection; non-retryable.
	KindBacklogOverloaded Kind = "BacklogOverloaded"
	// KindDecisionExpired marks a TTL-expired approval task; treated like Denied.
	KindDecisionExpired Kind = "DecisionExpired"
	// KindDAGCycleOrMissingDependency marks a malformed plan; non-retryable, fatal.
	KindDAGCycleOrMissingDependency Kind = "DAGCycleOrMissingDependency"
	// KindToolTransientFailure marks a retryable tool activity failure.
	KindToolTransientFailure Kind = "ToolTransientFailure"
	// KindToolFatal marks a tool activity that exhausted retries or is non-retryable.
	KindToolFatal Kind = "ToolFatal"
	// KindCompensationFailed marks a failed compensation; never stops rollback.
	KindCompensationFailed Kind = "CompensationFailed"
	// KindStoreTransient marks a retryable store error; never surfaced to the operator.
	KindStoreTransient Kind = "StoreTransient"
)

// Error is the structured result-or-error variant used in place of exceptions
// for control flow. Details carries free-form diagnostic context (step id,
// tool name, etc.) that callers may log but must not parse.
type Error struct {
	Kind      Kind
	Retryable bool
	Message   string
	Details   map[string]any
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is reports whether target is a *Error with the same Kind, so callers can
// use errors.Is(err, manerr.New(KindDenied, "")) style comparisons.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// New constructs a non-retryable Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// WithDetails returns a copy of e with Details merged in.
func (e *Error) WithDetails(details map[string]any) *Error {
	clone := *e
	if len(details) == 0 {
		return &clone
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	clone.Details = merged
	return &clone
}

// Retryable marks the error as retryable per the engine's retry policy
// (used for ToolTransientFailure and StoreTransient).
func Retryable(kind Kind, message string) *Error {
	return &Error{Kind: kind, Retryable: true, Message: message}
}

// KindOf extracts the Kind from err, if err is (or wraps) a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
