package file

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/sagabus/pkg/persistence"
	"github.com/dukex/sagabus/pkg/protocol"
)

func testRecord(workflowID, transactionID string) *persistence.TransactionRecord {
	return &persistence.TransactionRecord{
		WorkflowID:    workflowID,
		TransactionID: transactionID,
		Definition:    json.RawMessage(`{"steps":["reserve","charge"]}`),
		Context:       json.RawMessage(`{"order":42}`),
		State:         protocol.StateInvoking,
	}
}

func TestStore_SaveAndFind(t *testing.T) {
	store := NewStore(t.TempDir())
	ctx := context.Background()

	record := testRecord("wf1", "tx1")
	require.NoError(t, store.Save(ctx, record))
	assert.False(t, record.CreatedAt.IsZero())

	found, err := store.Find(ctx, "wf1", "tx1")
	require.NoError(t, err)
	assert.Equal(t, record.WorkflowID, found.WorkflowID)
	assert.Equal(t, record.TransactionID, found.TransactionID)
	assert.Equal(t, protocol.StateInvoking, found.State)
	assert.JSONEq(t, `{"order":42}`, string(found.Context))
}

func TestStore_SaveRejectsInvalidRecord(t *testing.T) {
	store := NewStore(t.TempDir())

	err := store.Save(context.Background(), &persistence.TransactionRecord{TransactionID: "tx1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrInvalidRecord)
}

func TestStore_FindMissing(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.Find(context.Background(), "wf1", "missing")
	require.Error(t, err)
	assert.True(t, persistence.IsTransactionNotFound(err))
}

func TestStore_SaveUpdatesExisting(t *testing.T) {
	store := NewStore(t.TempDir())
	ctx := context.Background()

	record := testRecord("wf1", "tx1")
	require.NoError(t, store.Save(ctx, record))

	created := record.CreatedAt

	record.State = protocol.StateDone
	require.NoError(t, store.Save(ctx, record))

	found, err := store.Find(ctx, "wf1", "tx1")
	require.NoError(t, err)
	assert.Equal(t, protocol.StateDone, found.State)
	assert.Equal(t, created.Unix(), found.CreatedAt.Unix(), "CreatedAt survives updates")
}

func TestStore_ListByWorkflow(t *testing.T) {
	store := NewStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testRecord("wf1", "tx1")))
	require.NoError(t, store.Save(ctx, testRecord("wf1", "tx2")))
	require.NoError(t, store.Save(ctx, testRecord("wf2", "tx3")))

	records, err := store.ListByWorkflow(ctx, "wf1")
	require.NoError(t, err)
	assert.Len(t, records, 2)

	empty, err := store.ListByWorkflow(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_SoftDelete(t *testing.T) {
	store := NewStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testRecord("wf1", "tx1")))
	require.NoError(t, store.Delete(ctx, "wf1", "tx1"))

	_, err := store.Find(ctx, "wf1", "tx1")
	assert.True(t, persistence.IsTransactionNotFound(err))

	records, err := store.ListByWorkflow(ctx, "wf1")
	require.NoError(t, err)
	assert.Empty(t, records, "soft-deleted records are filtered from listings")

	// The tombstone still exists on disk with DeletedAt set.
	tombstone, err := store.read("wf1", "tx1")
	require.NoError(t, err)
	assert.True(t, tombstone.Deleted())

	// Deleting twice reports not found.
	err = store.Delete(ctx, "wf1", "tx1")
	assert.True(t, persistence.IsTransactionNotFound(err))
}

func TestStore_HealthCheck(t *testing.T) {
	dir := t.TempDir()

	assert.NoError(t, NewStore(dir).HealthCheck(context.Background()))
	assert.Error(t, NewStore(dir+"/missing").HealthCheck(context.Background()))
}
