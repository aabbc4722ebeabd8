// Package idempotency encodes and decodes the identifying tuple of a step
// completion report into a single opaque key.
package idempotency

import (
	"errors"
	"fmt"
	"strings"
)

// Delimiter separates the four key fields on the wire. Identifier values must
// not contain it; the codec does not escape.
const Delimiter = ":"

// Action names one of the two directions a step can run in.
type Action string

const (
	ActionInvoke     Action = "invoke"
	ActionCompensate Action = "compensate"
)

// ErrInvalidKey indicates a key string that does not split into exactly four
// non-empty fields.
var ErrInvalidKey = errors.New("invalid idempotency key")

// Key identifies a single step-action of a transaction.
type Key struct {
	WorkflowID    string
	TransactionID string
	StepID        string
	Action        Action
}

// String encodes the key as "<workflowId>:<transactionId>:<stepId>:<action>".
func (k Key) String() string {
	return strings.Join([]string{k.WorkflowID, k.TransactionID, k.StepID, string(k.Action)}, Delimiter)
}

// Parse splits an encoded key back into its four fields. Keys with a missing,
// empty or extra field are rejected rather than silently producing empty
// identifiers.
func Parse(raw string) (Key, error) {
	parts := strings.Split(raw, Delimiter)
	if len(parts) != 4 {
		return Key{}, fmt.Errorf("%w: %q has %d fields, want 4", ErrInvalidKey, raw, len(parts))
	}

	for _, part := range parts {
		if part == "" {
			return Key{}, fmt.Errorf("%w: %q has an empty field", ErrInvalidKey, raw)
		}
	}

	action := Action(parts[3])
	if action != ActionInvoke && action != ActionCompensate {
		return Key{}, fmt.Errorf("%w: unknown action %q", ErrInvalidKey, parts[3])
	}

	return Key{
		WorkflowID:    parts[0],
		TransactionID: parts[1],
		StepID:        parts[2],
		Action:        action,
	}, nil
}
