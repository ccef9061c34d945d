package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cashcompass/internal/core"
)

// Mirror queue statuses. Every mirror write has exactly one of these
// typed outcomes; nothing is dropped silently.
const (
	MirrorStatusPending    = "pending"
	MirrorStatusProcessing = "processing"
	MirrorStatusCompleted  = "completed"
	MirrorStatusFailed     = "failed"
)

// Mirror queue operations.
const (
	MirrorOpPut    = "put"
	MirrorOpRemove = "remove"
)

// MirrorOp is one queued remote-mirror operation. Payload carries the JSON
// remote record for puts; removes join by MirrorKey alone.
type MirrorOp struct {
	ID        int64
	Operation string
	MirrorKey string
	ExpenseID int64
	Payload   string
	Status    string
	Attempts  int64
	LastError string
}

// EnqueueMirrorOp appends an operation to the outbox.
func (r *SQLiteRepository) EnqueueMirrorOp(ctx context.Context, op MirrorOp) (int64, error) {
	return enqueueMirrorOp(ctx, r.db, op)
}

func enqueueMirrorOp(ctx context.Context, q dbtx, op MirrorOp) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO mirror_queue (operation, mirror_key, expense_id, payload)
		 VALUES (?, ?, ?, ?)`,
		op.Operation, op.MirrorKey, op.ExpenseID, op.Payload)
	if err != nil {
		return 0, fmt.Errorf("enqueue mirror op: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// DequeueMirrorBatch returns up to limit pending operations, oldest first.
func (r *SQLiteRepository) DequeueMirrorBatch(ctx context.Context, limit int) ([]MirrorOp, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, operation, mirror_key, expense_id, payload, status, attempts, last_error
		 FROM mirror_queue WHERE status = ? ORDER BY id LIMIT ?`,
		MirrorStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("dequeue mirror batch: %w", err)
	}
	defer rows.Close()

	var out []MirrorOp
	for rows.Next() {
		var op MirrorOp
		if err := rows.Scan(&op.ID, &op.Operation, &op.MirrorKey, &op.ExpenseID,
			&op.Payload, &op.Status, &op.Attempts, &op.LastError); err != nil {
			return nil, fmt.Errorf("scan mirror op: %w", err)
		}
		out = append(out, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mirror ops: %w", err)
	}
	return out, nil
}

// GetMirrorOp returns one queue row by id, core.ErrNotFound when absent.
func (r *SQLiteRepository) GetMirrorOp(ctx context.Context, id int64) (*MirrorOp, error) {
	var op MirrorOp
	err := r.db.QueryRowContext(ctx,
		`SELECT id, operation, mirror_key, expense_id, payload, status, attempts, last_error
		 FROM mirror_queue WHERE id = ?`, id).
		Scan(&op.ID, &op.Operation, &op.MirrorKey, &op.ExpenseID,
			&op.Payload, &op.Status, &op.Attempts, &op.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mirror op %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select mirror op: %w", err)
	}
	return &op, nil
}

func (r *SQLiteRepository) MarkMirrorProcessing(ctx context.Context, id int64) error {
	return r.setMirrorStatus(ctx, id, MirrorStatusProcessing, "")
}

func (r *SQLiteRepository) MarkMirrorCompleted(ctx context.Context, id int64) error {
	return r.setMirrorStatus(ctx, id, MirrorStatusCompleted, "")
}

// MarkMirrorFailed is terminal: the divergence between local and remote is
// recorded, observable, and deliberately not rolled back.
func (r *SQLiteRepository) MarkMirrorFailed(ctx context.Context, id int64, reason string) error {
	if err := r.setMirrorStatus(ctx, id, MirrorStatusFailed, reason); err != nil {
		return err
	}
	slog.WarnContext(ctx, "Mirror op failed permanently", "id", id, "reason", reason)
	return nil
}

// IncrementMirrorAttempt records a failed attempt and requeues the op.
func (r *SQLiteRepository) IncrementMirrorAttempt(ctx context.Context, id int64, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE mirror_queue
		 SET status = ?, attempts = attempts + 1, last_error = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		MirrorStatusPending, reason, id)
	if err != nil {
		return fmt.Errorf("increment mirror attempt: %w", err)
	}
	return nil
}

// ResetStaleProcessing requeues ops left in processing by a crashed worker.
func (r *SQLiteRepository) ResetStaleProcessing(ctx context.Context) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE mirror_queue SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE status = ?`,
		MirrorStatusPending, MirrorStatusProcessing)
	if err != nil {
		return fmt.Errorf("reset stale processing: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		slog.InfoContext(ctx, "Requeued stale mirror ops", "count", n)
	}
	return nil
}

// CleanupCompletedMirrorOps removes completed rows older than cutoff.
func (r *SQLiteRepository) CleanupCompletedMirrorOps(ctx context.Context, cutoff time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM mirror_queue WHERE status = ? AND updated_at < ?`,
		MirrorStatusCompleted, cutoff.UTC())
	if err != nil {
		return fmt.Errorf("cleanup completed mirror ops: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) setMirrorStatus(ctx context.Context, id int64, status, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE mirror_queue SET status = ?, last_error = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, reason, id)
	if err != nil {
		return fmt.Errorf("mark mirror op %s: %w", status, err)
	}
	return nil
}
