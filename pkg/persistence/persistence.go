// Package persistence provides the storage abstraction for transaction
// records. The step-execution engine is the primary consumer; the orchestrator
// itself never touches the store directly.
package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dukex/sagabus/pkg/protocol"
)

// TransactionRecord is the persisted shape of one workflow execution,
// addressed by the (workflow id, transaction id) pair. Definition and Context
// stay serialized; this layer never interprets them.
type TransactionRecord struct {
	WorkflowID    string          `json:"workflow_id"    validate:"required"`
	TransactionID string          `json:"transaction_id" validate:"required"`
	Definition    json.RawMessage `json:"definition,omitempty"`
	Context       json.RawMessage `json:"context,omitempty"`
	State         protocol.State  `json:"state"          validate:"required"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	DeletedAt     *time.Time      `json:"deleted_at,omitempty"`
}

// Deleted reports whether the record was soft-deleted.
func (r *TransactionRecord) Deleted() bool {
	return r.DeletedAt != nil
}

var validate = validator.New()

// Validate checks the record before it is handed to a store implementation.
func (r *TransactionRecord) Validate() error {
	return validate.Struct(r)
}

// TransactionStore persists transaction records. Delete is a soft delete:
// the record keeps existing with DeletedAt set, and no longer shows up in
// Find or ListByWorkflow.
type TransactionStore interface {
	Save(ctx context.Context, record *TransactionRecord) error
	Find(ctx context.Context, workflowID, transactionID string) (*TransactionRecord, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*TransactionRecord, error)
	Delete(ctx context.Context, workflowID, transactionID string) error
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}
