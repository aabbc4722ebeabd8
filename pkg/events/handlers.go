package events

import "context"

// Handler consumes one lifecycle event. Returned errors are logged by the
// dispatching layer, never propagated to the operation that produced the event.
type Handler func(ctx context.Context, event Event) error

// HandlerTable holds one slot per event kind. Nil slots are skipped. The engine
// receives a table like this for every facade call; the same shape carries
// caller-supplied custom handlers.
type HandlerTable struct {
	OnBegin                 Handler
	OnResume                Handler
	OnTimeout               Handler
	OnCompensateBegin       Handler
	OnStepBegin             Handler
	OnStepSuccess           Handler
	OnStepFailure           Handler
	OnCompensateStepSuccess Handler
	OnCompensateStepFailure Handler
	OnFinish                Handler
}

// Dispatch routes the event to its slot.
func (t *HandlerTable) Dispatch(ctx context.Context, event Event) error {
	if t == nil {
		return nil
	}

	var handler Handler

	switch event.Type {
	case TransactionBegin:
		handler = t.OnBegin
	case TransactionResume:
		handler = t.OnResume
	case TransactionTimeout:
		handler = t.OnTimeout
	case CompensateBegin:
		handler = t.OnCompensateBegin
	case StepBegin:
		handler = t.OnStepBegin
	case StepSuccess:
		handler = t.OnStepSuccess
	case StepFailure:
		handler = t.OnStepFailure
	case CompensateStepSuccess:
		handler = t.OnCompensateStepSuccess
	case CompensateStepFailure:
		handler = t.OnCompensateStepFailure
	case TransactionFinish:
		handler = t.OnFinish
	}

	if handler == nil {
		return nil
	}

	return handler(ctx, event)
}
