// Package persistence provides standardized error types for store operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard store error types that all implementations should use.
var (
	// ErrTransactionNotFound indicates no live record exists for the given
	// workflow and transaction ids. Soft-deleted records count as not found.
	ErrTransactionNotFound = errors.New("transaction record not found")

	// ErrInvalidRecord indicates a record that failed validation before
	// being written.
	ErrInvalidRecord = errors.New("invalid transaction record")
)

// TransactionError wraps store errors with the operation and record address.
type TransactionError struct {
	Op            string // Operation being performed (e.g., "Save", "Find", "Delete")
	WorkflowID    string
	TransactionID string
	Err           error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("%s operation failed for transaction %s/%s: %v", e.Op, e.WorkflowID, e.TransactionID, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for transaction store errors.
func (e *TransactionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewTransactionError creates a new store error with context.
func NewTransactionError(op, workflowID, transactionID string, err error) *TransactionError {
	return &TransactionError{
		Op:            op,
		WorkflowID:    workflowID,
		TransactionID: transactionID,
		Err:           err,
	}
}

// IsTransactionNotFound checks if an error indicates a missing record.
func IsTransactionNotFound(err error) bool {
	return errors.Is(err, ErrTransactionNotFound)
}
