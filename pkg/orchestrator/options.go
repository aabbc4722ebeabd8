package orchestrator

import (
	"github.com/dukex/sagabus/pkg/events"
	"github.com/dukex/sagabus/pkg/idempotency"
	"github.com/dukex/sagabus/pkg/protocol"
)

// StartOptions carries the optional parts of a Start call.
type StartOptions struct {
	// Input is handed to the workflow's first steps.
	Input any

	// Context seeds the transaction context.
	Context map[string]any

	// TransactionID pins the execution id. When empty, a globally unique,
	// time-sortable id is generated.
	TransactionID string

	// ResultFrom names the steps whose output forms the transaction result.
	ResultFrom []string

	// ThrowOnError makes the engine return step failures as errors instead of
	// aggregating them into the result.
	ThrowOnError bool

	// EventHandlers are caller-supplied handlers invoked synchronously in the
	// caller's stack before each event is fanned out. Their finish slot fires
	// on whichever operation completes the transaction; the cross-instance
	// finish broadcast is emitted separately, exactly once, by the facade.
	EventHandlers *events.HandlerTable
}

// StepReport identifies a step outcome being registered. The step-action may
// be addressed either by the encoded wire key or by its structured form; Key
// takes precedence when set.
type StepReport struct {
	IdempotencyKey string
	Key            *idempotency.Key
	Response       any
	EventHandlers  *events.HandlerTable
}

// SubscribeOptions registers a callback for the lifecycle events of one
// transaction or, when TransactionID is empty, of every transaction of the
// workflow.
type SubscribeOptions struct {
	WorkflowID    string
	TransactionID string
	Subscriber    events.Handler

	// SubscriberID enables later removal without retaining the callback.
	// Re-subscribing with the same id replaces the prior registration.
	SubscriberID string
}

// UnsubscribeOptions removes a registration, matched by id when SubscriberID
// is set, otherwise by callback identity.
type UnsubscribeOptions struct {
	WorkflowID    string
	TransactionID string
	SubscriberID  string
	Subscriber    events.Handler
}

// Acknowledgement names the execution an operation acted on.
type Acknowledgement struct {
	WorkflowID    string `json:"workflowId"`
	TransactionID string `json:"transactionId"`
}

// Result is the shared return shape of Start and the step-report operations.
type Result struct {
	Acknowledgement Acknowledgement
	Transaction     protocol.Transaction
	Result          any
	Errors          []events.StepError
}
