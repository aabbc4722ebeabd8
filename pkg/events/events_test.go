package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/sagabus/pkg/idempotency"
)

func TestChannelFor(t *testing.T) {
	assert.Equal(t, "orchestrator:order-fulfillment", ChannelFor("order-fulfillment"))
}

func TestEnvelope_JSONSerialization(t *testing.T) {
	envelope := Envelope{
		InstanceID: "instance-a",
		Data: NewStepEvent(StepSuccess, "wf1", "tx1",
			StepRef{StepID: "reserve-stock", Action: idempotency.ActionInvoke},
			map[string]any{"reservation": "r-42"},
		),
	}

	jsonData, err := json.Marshal(envelope)
	require.NoError(t, err)
	assert.Contains(t, string(jsonData), `"instanceId":"instance-a"`)
	assert.Contains(t, string(jsonData), `"eventType":"step-success"`)
	assert.Contains(t, string(jsonData), `"stepId":"reserve-stock"`)

	var decoded Envelope

	err = json.Unmarshal(jsonData, &decoded)
	require.NoError(t, err)
	assert.Equal(t, envelope.InstanceID, decoded.InstanceID)
	assert.Equal(t, envelope.Data.Type, decoded.Data.Type)
	assert.Equal(t, envelope.Data.WorkflowID, decoded.Data.WorkflowID)
	assert.Equal(t, envelope.Data.Step.StepID, decoded.Data.Step.StepID)
}

func TestFinishEvent_CarriesResultAndErrors(t *testing.T) {
	event := NewFinishEvent("wf1", "tx1", "done", []StepError{
		{StepID: "charge-card", Action: idempotency.ActionInvoke, Message: "card declined"},
	})

	jsonData, err := json.Marshal(event)
	require.NoError(t, err)
	assert.Contains(t, string(jsonData), `"eventType":"finish"`)
	assert.Contains(t, string(jsonData), `"error":"card declined"`)

	var decoded Event

	require.NoError(t, json.Unmarshal(jsonData, &decoded))
	assert.Equal(t, TransactionFinish, decoded.Type)
	assert.Len(t, decoded.Errors, 1)
	assert.Nil(t, decoded.Step)
}

func TestHandlerTable_Dispatch(t *testing.T) {
	var seen []EventType

	record := func(ctx context.Context, event Event) error {
		seen = append(seen, event.Type)

		return nil
	}

	table := &HandlerTable{
		OnBegin:       record,
		OnStepSuccess: record,
		OnFinish:      record,
	}

	ctx := context.Background()
	for _, eventType := range []EventType{
		TransactionBegin, StepBegin, StepSuccess, TransactionFinish,
	} {
		err := table.Dispatch(ctx, NewTransactionEvent(eventType, "wf1", "tx1"))
		require.NoError(t, err)
	}

	// StepBegin has no slot and is skipped.
	assert.Equal(t, []EventType{TransactionBegin, StepSuccess, TransactionFinish}, seen)
}

func TestHandlerTable_DispatchNilTable(t *testing.T) {
	var table *HandlerTable

	err := table.Dispatch(context.Background(), NewTransactionEvent(TransactionBegin, "wf1", "tx1"))
	assert.NoError(t, err)
}
