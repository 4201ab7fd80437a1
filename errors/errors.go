// Package errors provides the error taxonomy shared by the ordering packages.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the type of error that occurred
type ErrorCode string

const (
	// ErrCodeOrdering marks a violated precondition of the key algebra.
	// These are programming errors and are never retried.
	ErrCodeOrdering ErrorCode = "ORDERING"

	// ErrCodeTransient marks network, timeout and connection class failures
	// of the mutation authority. They are retried per policy.
	ErrCodeTransient ErrorCode = "TRANSIENT_MUTATION"

	// ErrCodeTerminal marks validation, conflict and auth class failures of
	// the mutation authority. They surface immediately.
	ErrCodeTerminal ErrorCode = "TERMINAL_MUTATION"

	// ErrCodeRollbackNotFound marks a rollback for an item without a pending move.
	ErrCodeRollbackNotFound ErrorCode = "ROLLBACK_NOT_FOUND"

	// ErrCodeSuperseded marks a move whose pending record was replaced or
	// discarded before its response arrived.
	ErrCodeSuperseded ErrorCode = "SUPERSEDED"

	ErrCodeValidation ErrorCode = "VALIDATION_FAILURE"
	ErrCodeStorage    ErrorCode = "STORAGE_FAILURE"
)

// Operation represents the operation during which an error occurred
type Operation string

const (
	OpFirst           Operation = "first"
	OpBefore          Operation = "before"
	OpAfter           Operation = "after"
	OpBetween         Operation = "between"
	OpRebalance       Operation = "rebalance"
	OpResolveDrop     Operation = "resolve_drop"
	OpMove            Operation = "move"
	OpBatchMove       Operation = "batch_move"
	OpRollback        Operation = "rollback"
	OpConflictResolve Operation = "conflict_resolve"
	OpApplyRemote     Operation = "apply_remote"
	OpSnapshot        Operation = "snapshot"
	OpSubscribe       Operation = "subscribe"
	OpStore           Operation = "store"
	OpLoad            Operation = "load"
	OpConfig          Operation = "config"
	OpClose           Operation = "close"
)

// OrderError represents an error raised by the ordering core or one of its
// collaborators.
type OrderError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "orderkey", "coordinator")
	Component string

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// Error code for the error type
	Code ErrorCode

	// Kind is a coarse category used by transports and the CLI
	Kind Kind

	// Metadata for additional context
	Metadata map[string]interface{}
}

func (e *OrderError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}

	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// WithMetadata attaches a key/value pair and returns the same error.
func (e *OrderError) WithMetadata(key string, value interface{}) *OrderError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// NewOrderingError creates an error for a violated key algebra precondition.
func NewOrderingError(op Operation, cause error) *OrderError {
	return &OrderError{
		Code:      ErrCodeOrdering,
		Op:        op,
		Component: "orderkey",
		Err:       cause,
		Kind:      KindInvalid,
	}
}

// NewTransientError creates a retryable mutation error.
func NewTransientError(op Operation, cause error) *OrderError {
	return &OrderError{
		Code:      ErrCodeTransient,
		Op:        op,
		Component: "transport",
		Err:       cause,
		Retryable: true,
		Kind:      KindUnavailable,
	}
}

// NewTerminalError creates a mutation error that must not be retried.
func NewTerminalError(op Operation, cause error) *OrderError {
	return &OrderError{
		Code:      ErrCodeTerminal,
		Op:        op,
		Component: "transport",
		Err:       cause,
		Kind:      KindRejected,
	}
}

// NewRollbackNotFound creates the non-fatal error returned when a rollback
// finds no pending move.
func NewRollbackNotFound(itemID string) *OrderError {
	return &OrderError{
		Code:      ErrCodeRollbackNotFound,
		Op:        OpRollback,
		Component: "coordinator",
		Err:       fmt.Errorf("no pending move for item %q", itemID),
		Kind:      KindNotFound,
		Metadata:  map[string]interface{}{"item_id": itemID},
	}
}

// NewSupersededError reports that a move's pending record is gone.
func NewSupersededError(op Operation, moveID string) *OrderError {
	return &OrderError{
		Code:      ErrCodeSuperseded,
		Op:        op,
		Component: "coordinator",
		Err:       fmt.Errorf("move %s was superseded or rolled back", moveID),
		Kind:      KindConflict,
		Metadata:  map[string]interface{}{"move_id": moveID},
	}
}

// NewValidationError creates a new validation-related OrderError
func NewValidationError(op Operation, cause error) *OrderError {
	return &OrderError{
		Code: ErrCodeValidation,
		Op:   op,
		Err:  cause,
		Kind: KindInvalid,
	}
}

// NewStorageError creates a new storage-related OrderError
func NewStorageError(op Operation, cause error) *OrderError {
	return &OrderError{
		Code:      ErrCodeStorage,
		Op:        op,
		Component: "store",
		Err:       cause,
		Retryable: true,
		Kind:      KindInternal,
	}
}

// HasCode reports whether any OrderError in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var orderErr *OrderError
		if !errors.As(err, &orderErr) {
			return false
		}
		if orderErr.Code == code {
			return true
		}
		err = orderErr.Err
	}
	return false
}

// IsOrdering reports whether err is a key algebra precondition violation.
func IsOrdering(err error) bool { return HasCode(err, ErrCodeOrdering) }

// IsTransient reports whether err is a transient mutation failure.
func IsTransient(err error) bool { return HasCode(err, ErrCodeTransient) }

// IsTerminal reports whether err is a terminal mutation failure.
func IsTerminal(err error) bool { return HasCode(err, ErrCodeTerminal) }

// IsRollbackNotFound reports whether err came from a rollback without a pending move.
func IsRollbackNotFound(err error) bool { return HasCode(err, ErrCodeRollbackNotFound) }

// IsSuperseded reports whether err reports an abandoned move.
func IsSuperseded(err error) bool { return HasCode(err, ErrCodeSuperseded) }
