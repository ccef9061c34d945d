package services

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cashcompass/internal/core"
	"cashcompass/internal/mirror"
	"cashcompass/internal/storage"
)

func setupRepo(t *testing.T) *storage.SQLiteRepository {
	t.Helper()

	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	return repo
}

type recordingNudger struct {
	queueIDs   []int64
	operations []string
	err        error
}

func (n *recordingNudger) PublishMirrorOp(_ context.Context, queueID int64, operation string) error {
	n.queueIDs = append(n.queueIDs, queueID)
	n.operations = append(n.operations, operation)
	return n.err
}

func validExpense(userID string) core.Expense {
	return core.Expense{
		UserID:      userID,
		Amount:      core.Money{Cents: 4550},
		Date:        "15/03/2026",
		Category:    core.CategoryGroceries,
		Description: "weekly shop",
	}
}

func TestCreateExpense_LocalWriteAndOutbox(t *testing.T) {
	repo := setupRepo(t)
	nudger := &recordingNudger{}
	svc := NewExpenseService(repo, nudger)
	ctx := context.Background()

	id, err := svc.CreateExpense(ctx, validExpense("alice"))
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	// Local row carries the generated mirror key.
	stored, err := repo.GetExpense(ctx, id)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.MirrorKey)
	assert.Equal(t, "alice", stored.UserID)

	// One outbox row referencing the same key and expense.
	ops, err := repo.DequeueMirrorBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, storage.MirrorOpPut, ops[0].Operation)
	assert.Equal(t, stored.MirrorKey, ops[0].MirrorKey)
	assert.Equal(t, id, ops[0].ExpenseID)

	var record mirror.Record
	require.NoError(t, json.Unmarshal([]byte(ops[0].Payload), &record))
	assert.Equal(t, "alice", record.UserID)
	assert.InDelta(t, 45.50, record.Amount, 0.0001)
	assert.Equal(t, "15/03/2026", record.Date)

	// The nudge carries the outbox row id.
	require.Len(t, nudger.queueIDs, 1)
	assert.Equal(t, ops[0].ID, nudger.queueIDs[0])
	assert.Equal(t, []string{storage.MirrorOpPut}, nudger.operations)
}

func TestCreateExpense_DistinctMirrorKeys(t *testing.T) {
	repo := setupRepo(t)
	svc := NewExpenseService(repo, nil)
	ctx := context.Background()

	// Two value-identical expenses must still get distinct keys.
	id1, err := svc.CreateExpense(ctx, validExpense("alice"))
	require.NoError(t, err)
	id2, err := svc.CreateExpense(ctx, validExpense("alice"))
	require.NoError(t, err)

	e1, err := repo.GetExpense(ctx, id1)
	require.NoError(t, err)
	e2, err := repo.GetExpense(ctx, id2)
	require.NoError(t, err)
	assert.NotEqual(t, e1.MirrorKey, e2.MirrorKey)
}

func TestCreateExpense_ValidationRejected(t *testing.T) {
	repo := setupRepo(t)
	svc := NewExpenseService(repo, nil)
	ctx := context.Background()

	bad := validExpense("alice")
	bad.Amount = core.Money{Cents: 0}

	_, err := svc.CreateExpense(ctx, bad)
	assert.ErrorIs(t, err, core.ErrInvalidAmount)

	// Nothing reaches the store or the outbox.
	expenses, err := repo.ListExpensesForUser(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, expenses)

	ops, err := repo.DequeueMirrorBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestCreateExpense_NudgeFailureDoesNotSurface(t *testing.T) {
	repo := setupRepo(t)
	nudger := &recordingNudger{err: assert.AnError}
	svc := NewExpenseService(repo, nudger)
	ctx := context.Background()

	id, err := svc.CreateExpense(ctx, validExpense("alice"))
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	// The outbox row is still there for the sweep to pick up.
	ops, err := repo.DequeueMirrorBatch(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}

func TestDeleteExpense_KeyedRemoval(t *testing.T) {
	repo := setupRepo(t)
	nudger := &recordingNudger{}
	svc := NewExpenseService(repo, nudger)
	ctx := context.Background()

	id, err := svc.CreateExpense(ctx, validExpense("alice"))
	require.NoError(t, err)

	stored, err := repo.GetExpense(ctx, id)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteExpense(ctx, id))

	// Local row is gone regardless of mirror state.
	_, err = repo.GetExpense(ctx, id)
	assert.ErrorIs(t, err, core.ErrNotFound)

	ops, err := repo.DequeueMirrorBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ops, 2)

	remove := ops[1]
	assert.Equal(t, storage.MirrorOpRemove, remove.Operation)
	assert.Equal(t, stored.MirrorKey, remove.MirrorKey)
	assert.Empty(t, remove.Payload)
}

func TestDeleteExpense_LegacyRowGetsMatchPayload(t *testing.T) {
	repo := setupRepo(t)
	svc := NewExpenseService(repo, nil)
	ctx := context.Background()

	// A row inserted without a mirror key, as written before keys existed.
	legacy := validExpense("alice")
	id, err := repo.InsertExpense(ctx, &legacy)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteExpense(ctx, id))

	ops, err := repo.DequeueMirrorBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, storage.MirrorOpRemove, ops[0].Operation)
	assert.Empty(t, ops[0].MirrorKey)

	var record mirror.Record
	require.NoError(t, json.Unmarshal([]byte(ops[0].Payload), &record))
	assert.Equal(t, "weekly shop", record.Description)
	assert.Equal(t, "alice", record.UserID)
}

func TestCreateExpense_EnqueueFailureRollsBackInsert(t *testing.T) {
	repo := setupRepo(t)
	svc := NewExpenseService(repo, nil)
	ctx := context.Background()

	// With the outbox table gone the enqueue fails mid-transaction.
	_, err := repo.DB().ExecContext(ctx, `DROP TABLE mirror_queue`)
	require.NoError(t, err)

	_, err = svc.CreateExpense(ctx, validExpense("alice"))
	require.Error(t, err)

	// The insert was rolled back with it; no local row without an outbox row.
	expenses, err := repo.ListExpensesForUser(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, expenses)
}

func TestDeleteExpense_EnqueueFailureKeepsRow(t *testing.T) {
	repo := setupRepo(t)
	svc := NewExpenseService(repo, nil)
	ctx := context.Background()

	id, err := svc.CreateExpense(ctx, validExpense("alice"))
	require.NoError(t, err)

	_, err = repo.DB().ExecContext(ctx, `DROP TABLE mirror_queue`)
	require.NoError(t, err)

	require.Error(t, svc.DeleteExpense(ctx, id))

	// The delete was rolled back; the row is still readable.
	stored, err := repo.GetExpense(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", stored.UserID)
}

func TestDeleteExpense_MissingRow(t *testing.T) {
	repo := setupRepo(t)
	svc := NewExpenseService(repo, nil)

	err := svc.DeleteExpense(context.Background(), 999)
	assert.ErrorIs(t, err, core.ErrNotFound)

	ops, err := repo.DequeueMirrorBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, ops)
}
