// Package protocol defines the contracts of the external collaborators the
// orchestrator delegates to: the step-execution engine and the transaction
// store. The broker contract is watermill's message.Publisher/Subscriber pair,
// which already guarantees per-channel ordered, at-least-once delivery.
package protocol

import (
	"context"
	"errors"

	"github.com/dukex/sagabus/pkg/events"
	"github.com/dukex/sagabus/pkg/idempotency"
)

var (
	// ErrTransactionNotFound indicates no running transaction matches the
	// given workflow and transaction ids.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrStepAlreadyResolved indicates a step-action whose outcome was already
	// registered. The engine owns this decision; the facade relies on it to
	// keep redundant step reports from re-emitting terminal notifications.
	ErrStepAlreadyResolved = errors.New("step already resolved")
)

// State is the engine's view of where a transaction stands.
type State string

const (
	StateNotStarted   State = "not_started"
	StateInvoking     State = "invoking"
	StateWaiting      State = "waiting_to_compensate"
	StateCompensating State = "compensating"
	StateDone         State = "done"
	StateFailed       State = "failed"
	StateReverted     State = "reverted"
)

// Terminal reports whether no further step transitions can occur.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateReverted
}

// Transaction is the handle the engine returns for one workflow execution.
// The orchestrator only reads it; the engine owns every mutation.
type Transaction interface {
	WorkflowID() string
	TransactionID() string
	State() State
	HasFinished() bool
	Context() map[string]any
	Result() any
	Errors() []events.StepError
}

// StartRequest carries everything the engine needs to begin a transaction.
type StartRequest struct {
	WorkflowID    string
	TransactionID string
	Input         any
	Context       map[string]any
	ResultFrom    []string
	ThrowOnError  bool
}

// Engine runs the per-step state machines. Each call receives a fixed handler
// table and fires the matching slot synchronously, in the caller's stack, as
// execution progresses. Atomicity of "has this step-action already been
// resolved" lives entirely here; the orchestrator takes no locks of its own.
//
// RegisterStepSuccess and RegisterStepFailure return ErrStepAlreadyResolved
// for a step-action whose outcome was already registered, together with the
// current transaction handle when one is available, so redundant reports can
// still be answered with the transaction's state.
type Engine interface {
	Start(ctx context.Context, req StartRequest, handlers *events.HandlerTable) (Transaction, error)
	Resume(ctx context.Context, workflowID, transactionID string, transactionContext map[string]any, handlers *events.HandlerTable) (Transaction, error)
	RegisterStepSuccess(ctx context.Context, key idempotency.Key, response any, handlers *events.HandlerTable) (Transaction, error)
	RegisterStepFailure(ctx context.Context, key idempotency.Key, response any, handlers *events.HandlerTable) (Transaction, error)
}
