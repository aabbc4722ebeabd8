// Package redis provides Redis-backed persistence for transaction records.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dukex/sagabus/pkg/persistence"
)

const keyPrefix = "sagabus:transactions"

// Store implements persistence.TransactionStore on Redis. Each record lives
// under one key; a per-workflow set indexes the transaction ids so
// ListByWorkflow avoids SCAN.
type Store struct {
	client goredis.UniversalClient
}

// NewStore creates a Redis store from a connection URL
// (redis://[user:pass@]host:port/db).
func NewStore(url string) (*Store, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	return &Store{client: goredis.NewClient(opts)}, nil
}

// NewStoreWithClient wraps an existing client, for tests and embedding
// applications that manage their own connection.
func NewStoreWithClient(client goredis.UniversalClient) *Store {
	return &Store{client: client}
}

// RecordKey returns the Redis key addressing one transaction record.
func RecordKey(workflowID, transactionID string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, workflowID, transactionID)
}

// IndexKey returns the Redis set indexing all transaction ids of a workflow.
func IndexKey(workflowID string) string {
	return fmt.Sprintf("%s:%s", keyPrefix, workflowID)
}

func (s *Store) Save(ctx context.Context, record *persistence.TransactionRecord) error {
	if err := record.Validate(); err != nil {
		return persistence.NewTransactionError("Save", record.WorkflowID, record.TransactionID,
			fmt.Errorf("%w: %w", persistence.ErrInvalidRecord, err))
	}

	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}

	record.UpdatedAt = now

	data, err := json.Marshal(record)
	if err != nil {
		return persistence.NewTransactionError("Save", record.WorkflowID, record.TransactionID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, RecordKey(record.WorkflowID, record.TransactionID), data, 0)
	pipe.SAdd(ctx, IndexKey(record.WorkflowID), record.TransactionID)

	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.NewTransactionError("Save", record.WorkflowID, record.TransactionID, err)
	}

	return nil
}

func (s *Store) Find(ctx context.Context, workflowID, transactionID string) (*persistence.TransactionRecord, error) {
	record, err := s.read(ctx, workflowID, transactionID)
	if err != nil {
		return nil, err
	}

	if record.Deleted() {
		return nil, persistence.NewTransactionError("Find", workflowID, transactionID, persistence.ErrTransactionNotFound)
	}

	return record, nil
}

func (s *Store) ListByWorkflow(ctx context.Context, workflowID string) ([]*persistence.TransactionRecord, error) {
	transactionIDs, err := s.client.SMembers(ctx, IndexKey(workflowID)).Result()
	if err != nil {
		return nil, persistence.NewTransactionError("ListByWorkflow", workflowID, "", err)
	}

	records := make([]*persistence.TransactionRecord, 0, len(transactionIDs))

	for _, transactionID := range transactionIDs {
		record, err := s.read(ctx, workflowID, transactionID)
		if err != nil {
			if persistence.IsTransactionNotFound(err) {
				continue
			}

			return nil, err
		}

		if record.Deleted() {
			continue
		}

		records = append(records, record)
	}

	return records, nil
}

// Delete soft-deletes the record. The key and its index entry remain so the
// tombstone stays addressable.
func (s *Store) Delete(ctx context.Context, workflowID, transactionID string) error {
	record, err := s.read(ctx, workflowID, transactionID)
	if err != nil {
		return err
	}

	if record.Deleted() {
		return persistence.NewTransactionError("Delete", workflowID, transactionID, persistence.ErrTransactionNotFound)
	}

	now := time.Now().UTC()
	record.DeletedAt = &now
	record.UpdatedAt = now

	data, err := json.Marshal(record)
	if err != nil {
		return persistence.NewTransactionError("Delete", workflowID, transactionID, err)
	}

	if err := s.client.Set(ctx, RecordKey(workflowID, transactionID), data, 0).Err(); err != nil {
		return persistence.NewTransactionError("Delete", workflowID, transactionID, err)
	}

	return nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Close()
}

func (s *Store) read(ctx context.Context, workflowID, transactionID string) (*persistence.TransactionRecord, error) {
	data, err := s.client.Get(ctx, RecordKey(workflowID, transactionID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, persistence.NewTransactionError("Find", workflowID, transactionID, persistence.ErrTransactionNotFound)
		}

		return nil, persistence.NewTransactionError("Find", workflowID, transactionID, err)
	}

	var record persistence.TransactionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, persistence.NewTransactionError("Find", workflowID, transactionID, err)
	}

	return &record, nil
}
