// Package services orchestrates the dual write: the local store is
// authoritative and synchronous, the remote mirror is fed through an
// outbox and never blocks a user-visible operation.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"cashcompass/internal/core"
	"cashcompass/internal/mirror"
	"cashcompass/internal/storage"
)

// MirrorNudger tells the worker that a new outbox row exists. Nudges are
// best-effort; the worker's periodic sweep picks up anything lost.
type MirrorNudger interface {
	PublishMirrorOp(ctx context.Context, queueID int64, operation string) error
}

// ExpenseService is the sync coordinator for expense create and delete.
type ExpenseService struct {
	storage *storage.SQLiteRepository
	nudger  MirrorNudger // optional
}

func NewExpenseService(storage *storage.SQLiteRepository, nudger MirrorNudger) *ExpenseService {
	return &ExpenseService{storage: storage, nudger: nudger}
}

// CreateExpense validates, assigns the mirror key, then writes the local
// row and the mirror put in one transaction. Once the insert succeeds an
// outbox row is guaranteed to exist; only the nudge after commit is
// best-effort.
func (s *ExpenseService) CreateExpense(ctx context.Context, e core.Expense) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}

	// The key is generated before either write so both stores share it.
	e.MirrorKey = uuid.NewString()

	id, queueID, err := s.storage.InsertExpenseWithMirrorOp(ctx, &e,
		func(saved core.Expense) (storage.MirrorOp, error) {
			payload, err := json.Marshal(mirror.RecordFromExpense(saved))
			if err != nil {
				return storage.MirrorOp{}, fmt.Errorf("marshal mirror record: %w", err)
			}
			return storage.MirrorOp{
				Operation: storage.MirrorOpPut,
				MirrorKey: saved.MirrorKey,
				ExpenseID: saved.ID,
				Payload:   string(payload),
			}, nil
		})
	if err != nil {
		return 0, fmt.Errorf("save expense: %w", err)
	}

	s.nudge(ctx, queueID, storage.MirrorOpPut)
	return id, nil
}

// DeleteExpense removes the expense and enqueues the mirror removal in one
// transaction, joined by the stored mirror key. Rows that predate mirror
// keys fall back to a value-match payload.
func (s *ExpenseService) DeleteExpense(ctx context.Context, id int64) error {
	_, queueID, err := s.storage.DeleteExpenseWithMirrorOp(ctx, id,
		func(deleted core.Expense) (storage.MirrorOp, error) {
			op := storage.MirrorOp{
				Operation: storage.MirrorOpRemove,
				MirrorKey: deleted.MirrorKey,
				ExpenseID: id,
			}
			if deleted.MirrorKey == "" {
				payload, err := json.Marshal(mirror.RecordFromExpense(deleted))
				if err != nil {
					return storage.MirrorOp{}, fmt.Errorf("marshal match record: %w", err)
				}
				op.Payload = string(payload)
			}
			return op, nil
		})
	if err != nil {
		return err
	}

	s.nudge(ctx, queueID, storage.MirrorOpRemove)
	return nil
}

// ListExpenses returns the user's expenses in storage order; callers
// impose their own ordering and filtering.
func (s *ExpenseService) ListExpenses(ctx context.Context, userID string) ([]core.Expense, error) {
	return s.storage.ListExpensesForUser(ctx, userID)
}

func (s *ExpenseService) nudge(ctx context.Context, queueID int64, operation string) {
	if s.nudger == nil {
		return
	}
	if err := s.nudger.PublishMirrorOp(ctx, queueID, operation); err != nil {
		slog.WarnContext(ctx, "Failed to publish mirror nudge",
			"queue_id", queueID, "operation", operation, "error", err)
	}
}
