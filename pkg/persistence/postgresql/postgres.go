// Package postgresql provides PostgreSQL-backed persistence for transaction
// records.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	// PostgreSQL driver, registered under "postgres".
	_ "github.com/lib/pq"

	"github.com/dukex/sagabus/pkg/persistence"
	"github.com/dukex/sagabus/pkg/persistence/sqlbase"
	"github.com/dukex/sagabus/pkg/protocol"
)

// Store implements persistence.TransactionStore on PostgreSQL. Delete is a
// soft delete: the row keeps existing with deleted_at set and the read paths
// filter tombstones out.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore connects to PostgreSQL and brings the schema up to date before
// returning.
func NewStore(ctx context.Context, logger *slog.Logger, databaseURL string) (*Store, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: database, logger: logger}, nil
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

	query := `
		INSERT INTO transactions (workflow_id, transaction_id, definition, context, state, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (workflow_id, transaction_id) DO UPDATE SET
			definition = EXCLUDED.definition,
			context = EXCLUDED.context,
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
	`

	_, err := s.db.ExecContext(ctx, query,
		record.WorkflowID,
		record.TransactionID,
		rawJSON(record.Definition),
		rawJSON(record.Context),
		string(record.State),
		record.CreatedAt,
		record.UpdatedAt,
		record.DeletedAt,
	)
	if err != nil {
		return persistence.NewTransactionError("Save", record.WorkflowID, record.TransactionID, err)
	}

	return nil
}

func (s *Store) Find(ctx context.Context, workflowID, transactionID string) (*persistence.TransactionRecord, error) {
	query := `
		SELECT
			workflow_id
		  , transaction_id
		  , definition
		  , context
		  , state
		  , created_at
		  , updated_at
		  , deleted_at
		FROM transactions
		WHERE workflow_id = $1 AND transaction_id = $2 AND deleted_at IS NULL
	`

	row := s.db.QueryRowContext(ctx, query, workflowID, transactionID)

	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewTransactionError("Find", workflowID, transactionID, persistence.ErrTransactionNotFound)
		}

		return nil, persistence.NewTransactionError("Find", workflowID, transactionID, err)
	}

	return record, nil
}

func (s *Store) ListByWorkflow(ctx context.Context, workflowID string) ([]*persistence.TransactionRecord, error) {
	query := `
		SELECT
			workflow_id
		  , transaction_id
		  , definition
		  , context
		  , state
		  , created_at
		  , updated_at
		  , deleted_at
		FROM transactions
		WHERE workflow_id = $1 AND deleted_at IS NULL
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, persistence.NewTransactionError("ListByWorkflow", workflowID, "", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	records := make([]*persistence.TransactionRecord, 0)

	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, persistence.NewTransactionError("ListByWorkflow", workflowID, "", err)
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewTransactionError("ListByWorkflow", workflowID, "", err)
	}

	return records, nil
}

// Delete soft-deletes the record. The row remains so the tombstone stays
// addressable.
func (s *Store) Delete(ctx context.Context, workflowID, transactionID string) error {
	query := `
		UPDATE transactions
		SET deleted_at = $3, updated_at = $3
		WHERE workflow_id = $1 AND transaction_id = $2 AND deleted_at IS NULL
	`

	result, err := s.db.ExecContext(ctx, query, workflowID, transactionID, time.Now().UTC())
	if err != nil {
		return persistence.NewTransactionError("Delete", workflowID, transactionID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewTransactionError("Delete", workflowID, transactionID, err)
	}

	if rowsAffected == 0 {
		return persistence.NewTransactionError("Delete", workflowID, transactionID, persistence.ErrTransactionNotFound)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *Store) HealthCheck(ctx context.Context) error {
	err := s.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close(ctx context.Context) error {
	if s.db != nil {
		err := s.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*persistence.TransactionRecord, error) {
	var (
		record     persistence.TransactionRecord
		definition []byte
		execCtx    []byte
		state      string
		deletedAt  sql.NullTime
	)

	err := row.Scan(
		&record.WorkflowID,
		&record.TransactionID,
		&definition,
		&execCtx,
		&state,
		&record.CreatedAt,
		&record.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Definition = json.RawMessage(definition)
	record.Context = json.RawMessage(execCtx)
	record.State = protocol.State(state)

	if deletedAt.Valid {
		record.DeletedAt = &deletedAt.Time
	}

	return &record, nil
}

// rawJSON maps an absent payload to NULL instead of the empty string, which
// JSONB rejects.
func rawJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}

	return []byte(raw)
}
