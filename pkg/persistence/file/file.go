// Package file provides file-based persistence for transaction records, suited
// to local development and tests.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dukex/sagabus/pkg/persistence"
)

// Store implements persistence.TransactionStore on the file system. One JSON
// file per record, grouped by workflow:
// <root>/transactions/<workflowID>/<transactionID>.json
type Store struct {
	root string
}

// NewStore creates a file store rooted at the given directory. A "file://"
// prefix is accepted and stripped.
func NewStore(root string) *Store {
	return &Store{root: strings.Replace(root, "file://", "", 1)}
}

func (s *Store) workflowDir(workflowID string) string {
	return filepath.Join(s.root, "transactions", workflowID)
}

func (s *Store) recordPath(workflowID, transactionID string) string {
	return filepath.Join(s.workflowDir(workflowID), transactionID+".json")
}

// Save writes the record, creating it or replacing the previous version.
// Timestamps are managed here: CreatedAt is set once, UpdatedAt on every write.
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

	if err := os.MkdirAll(s.workflowDir(record.WorkflowID), 0o755); err != nil {
		return persistence.NewTransactionError("Save", record.WorkflowID, record.TransactionID, err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return persistence.NewTransactionError("Save", record.WorkflowID, record.TransactionID, err)
	}

	if err := os.WriteFile(s.recordPath(record.WorkflowID, record.TransactionID), data, 0o644); err != nil {
		return persistence.NewTransactionError("Save", record.WorkflowID, record.TransactionID, err)
	}

	return nil
}

// Find returns the live record, or ErrTransactionNotFound when it does not
// exist or was soft-deleted.
func (s *Store) Find(ctx context.Context, workflowID, transactionID string) (*persistence.TransactionRecord, error) {
	record, err := s.read(workflowID, transactionID)
	if err != nil {
		return nil, err
	}

	if record.Deleted() {
		return nil, persistence.NewTransactionError("Find", workflowID, transactionID, persistence.ErrTransactionNotFound)
	}

	return record, nil
}

// ListByWorkflow returns all live records of a workflow, oldest first.
func (s *Store) ListByWorkflow(ctx context.Context, workflowID string) ([]*persistence.TransactionRecord, error) {
	dir := os.DirFS(s.workflowDir(workflowID))

	jsonFiles, err := fs.Glob(dir, "*.json")
	if err != nil {
		return nil, persistence.NewTransactionError("ListByWorkflow", workflowID, "", err)
	}

	records := make([]*persistence.TransactionRecord, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		transactionID := file[:len(file)-len(".json")]

		record, err := s.read(workflowID, transactionID)
		if err != nil {
			return nil, err
		}

		if record.Deleted() {
			continue
		}

		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	return records, nil
}

// Delete soft-deletes the record by stamping DeletedAt.
func (s *Store) Delete(ctx context.Context, workflowID, transactionID string) error {
	record, err := s.read(workflowID, transactionID)
	if err != nil {
		return err
	}

	if record.Deleted() {
		return persistence.NewTransactionError("Delete", workflowID, transactionID, persistence.ErrTransactionNotFound)
	}

	now := time.Now().UTC()
	record.DeletedAt = &now
	record.UpdatedAt = now

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return persistence.NewTransactionError("Delete", workflowID, transactionID, err)
	}

	if err := os.WriteFile(s.recordPath(workflowID, transactionID), data, 0o644); err != nil {
		return persistence.NewTransactionError("Delete", workflowID, transactionID, err)
	}

	return nil
}

// HealthCheck verifies the root directory exists.
func (s *Store) HealthCheck(ctx context.Context) error {
	if _, err := os.Stat(s.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close performs any necessary cleanup. For the file store there is nothing to
// clean up.
func (s *Store) Close(ctx context.Context) error {
	return nil
}

func (s *Store) read(workflowID, transactionID string) (*persistence.TransactionRecord, error) {
	data, err := os.ReadFile(s.recordPath(workflowID, transactionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
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
