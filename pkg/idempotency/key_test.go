package idempotency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_String(t *testing.T) {
	key := Key{
		WorkflowID:    "order-fulfillment",
		TransactionID: "tx-001",
		StepID:        "reserve-stock",
		Action:        ActionInvoke,
	}

	assert.Equal(t, "order-fulfillment:tx-001:reserve-stock:invoke", key.String())
}

func TestParse_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		key  Key
	}{
		{
			name: "invoke_action",
			key:  Key{WorkflowID: "wf1", TransactionID: "tx1", StepID: "step1", Action: ActionInvoke},
		},
		{
			name: "compensate_action",
			key:  Key{WorkflowID: "wf1", TransactionID: "tx1", StepID: "step1", Action: ActionCompensate},
		},
		{
			name: "ulid_transaction_id",
			key:  Key{WorkflowID: "payments", TransactionID: "01J2X5G8LKM0P9Q3R7S1T4V6W8", StepID: "capture", Action: ActionInvoke},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := Parse(tt.key.String())
			require.NoError(t, err)
			assert.Equal(t, tt.key, parsed)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "too_few_fields", raw: "wf1:tx1:step1"},
		{name: "too_many_fields", raw: "wf1:tx1:step1:invoke:extra"},
		{name: "empty_field", raw: "wf1::step1:invoke"},
		{name: "unknown_action", raw: "wf1:tx1:step1:rollback"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidKey)
		})
	}
}
