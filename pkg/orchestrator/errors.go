package orchestrator

import (
	"errors"

	"github.com/dukex/sagabus/pkg/idempotency"
	"github.com/dukex/sagabus/pkg/protocol"
)

var (
	// ErrMissingWorkflowID indicates an operation invoked without a workflow id.
	ErrMissingWorkflowID = errors.New("workflow id is required")

	// ErrMissingTransactionID indicates a resume without a transaction id.
	ErrMissingTransactionID = errors.New("transaction id is required")

	// ErrMissingSubscriber indicates a subscribe without a callback.
	ErrMissingSubscriber = errors.New("subscriber callback is required")

	// ErrNotOpen indicates an operation on an orchestrator whose lifecycle was
	// not started with Open.
	ErrNotOpen = errors.New("orchestrator is not open")

	// ErrTransactionNotFound is surfaced by Resume when the engine has no
	// matching running transaction.
	ErrTransactionNotFound = protocol.ErrTransactionNotFound

	// ErrInvalidIdempotencyKey is surfaced by the step-report operations for
	// malformed keys.
	ErrInvalidIdempotencyKey = idempotency.ErrInvalidKey
)
