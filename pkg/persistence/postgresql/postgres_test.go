package postgresql_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/dukex/sagabus/pkg/persistence"
	"github.com/dukex/sagabus/pkg/persistence/postgresql"
	"github.com/dukex/sagabus/pkg/protocol"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"transactions", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Store, context.Context, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("sagabus_test"),
			postgres.WithUsername("sagabus"),
			postgres.WithPassword("sagabus"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := postgresql.NewStore(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = store.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return store, ctx, databaseURL
}

func testRecord(workflowID, transactionID string) *persistence.TransactionRecord {
	return &persistence.TransactionRecord{
		WorkflowID:    workflowID,
		TransactionID: transactionID,
		Definition:    json.RawMessage(`{"steps":["reserve","charge"]}`),
		Context:       json.RawMessage(`{"orderId":"o-1"}`),
		State:         protocol.StateInvoking,
	}
}

func TestStore_SaveAndFind(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	record := testRecord("wf1", "tx1")
	require.NoError(t, store.Save(ctx, record))

	assert.False(t, record.CreatedAt.IsZero())
	assert.False(t, record.UpdatedAt.IsZero())

	found, err := store.Find(ctx, "wf1", "tx1")
	require.NoError(t, err)
	assert.Equal(t, "wf1", found.WorkflowID)
	assert.Equal(t, "tx1", found.TransactionID)
	assert.Equal(t, protocol.StateInvoking, found.State)
	assert.JSONEq(t, `{"steps":["reserve","charge"]}`, string(found.Definition))
	assert.JSONEq(t, `{"orderId":"o-1"}`, string(found.Context))
	assert.Nil(t, found.DeletedAt)
}

func TestStore_SaveUpsertsExistingRecord(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	record := testRecord("wf1", "tx1")
	require.NoError(t, store.Save(ctx, record))

	createdAt := record.CreatedAt

	record.State = protocol.StateDone
	record.Context = json.RawMessage(`{"orderId":"o-1","charged":true}`)
	require.NoError(t, store.Save(ctx, record))

	found, err := store.Find(ctx, "wf1", "tx1")
	require.NoError(t, err)
	assert.Equal(t, protocol.StateDone, found.State)
	assert.JSONEq(t, `{"orderId":"o-1","charged":true}`, string(found.Context))
	assert.WithinDuration(t, createdAt, found.CreatedAt, time.Second, "upsert keeps the original created_at")
}

func TestStore_SaveRejectsInvalidRecord(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	err := store.Save(ctx, &persistence.TransactionRecord{TransactionID: "tx1", State: protocol.StateInvoking})
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrInvalidRecord)
}

func TestStore_FindMissingRecord(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	_, err := store.Find(ctx, "wf1", "missing")
	require.Error(t, err)
	assert.True(t, persistence.IsTransactionNotFound(err))
}

func TestStore_ListByWorkflow(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	first := testRecord("wf1", "tx1")
	first.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.Save(ctx, first))

	require.NoError(t, store.Save(ctx, testRecord("wf1", "tx2")))
	require.NoError(t, store.Save(ctx, testRecord("wf2", "tx3")))

	records, err := store.ListByWorkflow(ctx, "wf1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "tx1", records[0].TransactionID, "oldest first")
	assert.Equal(t, "tx2", records[1].TransactionID)

	empty, err := store.ListByWorkflow(ctx, "wf3")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_DeleteIsSoft(t *testing.T) {
	store, ctx, databaseURL := setupTestDB(t)

	require.NoError(t, store.Save(ctx, testRecord("wf1", "tx1")))
	require.NoError(t, store.Delete(ctx, "wf1", "tx1"))

	_, err := store.Find(ctx, "wf1", "tx1")
	assert.True(t, persistence.IsTransactionNotFound(err))

	records, err := store.ListByWorkflow(ctx, "wf1")
	require.NoError(t, err)
	assert.Empty(t, records)

	// The tombstone row is still there.
	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() { require.NoError(t, db.Close()) }()

	var deletedAt sql.NullTime

	err = db.QueryRowContext(ctx,
		"SELECT deleted_at FROM transactions WHERE workflow_id = $1 AND transaction_id = $2",
		"wf1", "tx1").Scan(&deletedAt)
	require.NoError(t, err)
	assert.True(t, deletedAt.Valid)

	// A second delete reports the record as gone.
	err = store.Delete(ctx, "wf1", "tx1")
	assert.True(t, persistence.IsTransactionNotFound(err))
}

func TestStore_DeleteMissingRecord(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	err := store.Delete(ctx, "wf1", "missing")
	assert.True(t, persistence.IsTransactionNotFound(err))
}

func TestStore_HealthCheck(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	require.NoError(t, store.HealthCheck(ctx))
}
