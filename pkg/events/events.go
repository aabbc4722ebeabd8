// Package events defines the transaction lifecycle events exchanged between
// orchestrator instances and delivered to subscribers.
package events

import (
	"github.com/dukex/sagabus/pkg/idempotency"
)

type EventType string

// The ten lifecycle transitions a transaction can report. The set is closed:
// dispatch happens through a fixed slot per kind, never through an open
// string-keyed map.
const (
	TransactionBegin      EventType = "begin"
	TransactionResume     EventType = "resume"
	TransactionTimeout    EventType = "timeout"
	CompensateBegin       EventType = "compensate-begin"
	StepBegin             EventType = "step-begin"
	StepSuccess           EventType = "step-success"
	StepFailure           EventType = "step-failure"
	CompensateStepSuccess EventType = "compensate-step-success"
	CompensateStepFailure EventType = "compensate-step-failure"
	TransactionFinish     EventType = "finish"
)

// ChannelPrefix namespaces broker channels so one channel serves all
// transactions of a workflow.
const ChannelPrefix = "orchestrator:"

// EventTypeMetadataKey carries the event kind in broker message metadata.
const EventTypeMetadataKey = "event_type"

// ChannelFor returns the broker channel name carrying all events of the given
// workflow.
func ChannelFor(workflowID string) string {
	return ChannelPrefix + workflowID
}

// StepRef identifies the step-action an event refers to.
type StepRef struct {
	StepID string             `json:"stepId"`
	Action idempotency.Action `json:"action"`
}

// StepError describes a step-level failure aggregated into a transaction
// result.
type StepError struct {
	StepID  string             `json:"stepId"`
	Action  idempotency.Action `json:"action"`
	Message string             `json:"error"`
}

// Event is one immutable lifecycle transition of a transaction. Step, Response,
// Result and Errors are populated only for the kinds that carry them.
type Event struct {
	Type          EventType   `json:"eventType"`
	WorkflowID    string      `json:"workflowId"`
	TransactionID string      `json:"transactionId"`
	Step          *StepRef    `json:"step,omitempty"`
	Response      any         `json:"response,omitempty"`
	Result        any         `json:"result,omitempty"`
	Errors        []StepError `json:"errors,omitempty"`
}

// Envelope is the wire record exchanged over the broker. It is built at publish
// time and discarded on receipt, never persisted. InstanceID lets the
// originating instance recognize and drop its own broadcasts.
type Envelope struct {
	InstanceID string `json:"instanceId"`
	Data       Event  `json:"data"`
}

// NewTransactionEvent builds an event for one of the transaction-level kinds.
func NewTransactionEvent(eventType EventType, workflowID, transactionID string) Event {
	return Event{
		Type:          eventType,
		WorkflowID:    workflowID,
		TransactionID: transactionID,
	}
}

// NewStepEvent builds an event for one of the step-level kinds.
func NewStepEvent(eventType EventType, workflowID, transactionID string, step StepRef, response any) Event {
	return Event{
		Type:          eventType,
		WorkflowID:    workflowID,
		TransactionID: transactionID,
		Step:          &step,
		Response:      response,
	}
}

// NewFinishEvent builds the terminal event carrying the aggregated result and
// errors of a finished transaction.
func NewFinishEvent(workflowID, transactionID string, result any, stepErrors []StepError) Event {
	return Event{
		Type:          TransactionFinish,
		WorkflowID:    workflowID,
		TransactionID: transactionID,
		Result:        result,
		Errors:        stepErrors,
	}
}
