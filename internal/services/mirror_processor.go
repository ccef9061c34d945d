package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cashcompass/internal/mirror"
	"cashcompass/internal/storage"
)

// MirrorProcessorConfig holds configuration for the mirror processor.
type MirrorProcessorConfig struct {
	// PollInterval is how often to check for pending ops (default: 10s)
	PollInterval time.Duration

	// BatchSize is the max number of ops to process per poll cycle (default: 10)
	BatchSize int

	// MaxRetries is the maximum attempts before marking an op failed (default: 3)
	MaxRetries int

	// OpTimeout bounds each remote call (default: 15s)
	OpTimeout time.Duration

	// CleanupInterval is how often to clean up completed ops (default: 1h)
	CleanupInterval time.Duration

	// CleanupAge is how old completed ops must be before cleanup (default: 24h)
	CleanupAge time.Duration
}

// DefaultMirrorProcessorConfig returns sensible defaults.
func DefaultMirrorProcessorConfig() MirrorProcessorConfig {
	return MirrorProcessorConfig{
		PollInterval:    10 * time.Second,
		BatchSize:       10,
		MaxRetries:      3,
		OpTimeout:       15 * time.Second,
		CleanupInterval: 1 * time.Hour,
		CleanupAge:      24 * time.Hour,
	}
}

// MirrorProcessor drains the outbox into the remote mirror. It runs in the
// worker process, retries transient failures and records permanent ones.
type MirrorProcessor struct {
	storage *storage.SQLiteRepository
	remote  mirror.Mirror
	config  MirrorProcessorConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewMirrorProcessor(
	storage *storage.SQLiteRepository,
	remote mirror.Mirror,
	config MirrorProcessorConfig,
) *MirrorProcessor {
	return &MirrorProcessor{
		storage: storage,
		remote:  remote,
		config:  config,
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *MirrorProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("mirror processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	// Ops left in processing by a previous crash go back to pending.
	if err := p.storage.ResetStaleProcessing(ctx); err != nil {
		slog.WarnContext(ctx, "Failed to reset stale processing ops", "error", err)
	}

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Mirror processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)

	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *MirrorProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.doneCh:
		slog.InfoContext(ctx, "Mirror processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Mirror processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	return nil
}

// IsRunning reports whether the processor loop is active.
func (p *MirrorProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *MirrorProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	pollTicker := time.NewTicker(p.config.PollInterval)
	defer pollTicker.Stop()

	cleanupTicker := time.NewTicker(p.config.CleanupInterval)
	defer cleanupTicker.Stop()

	// Process immediately on startup
	p.ProcessBatch(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			p.ProcessBatch(ctx)
		case <-cleanupTicker.C:
			p.cleanupCompleted(ctx)
		}
	}
}

// ProcessBatch drains one batch of pending ops. It is exported so the AMQP
// nudge handler can trigger a pass outside the poll cadence.
func (p *MirrorProcessor) ProcessBatch(ctx context.Context) {
	ops, err := p.storage.DequeueMirrorBatch(ctx, p.config.BatchSize)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to dequeue mirror batch", "error", err)
		return
	}

	if len(ops) == 0 {
		return
	}

	slog.DebugContext(ctx, "Processing mirror batch", "count", len(ops))

	for _, op := range ops {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := p.storage.MarkMirrorProcessing(ctx, op.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to mark op as processing",
				"id", op.ID, "error", err)
			continue
		}

		if err := p.processOp(ctx, op); err != nil {
			p.handleFailure(ctx, op, err)
		} else {
			p.handleSuccess(ctx, op)
		}
	}
}

// ProcessOne handles a single outbox row by id, used by the nudge path.
// Already-finished ops are a no-op so duplicate nudges are harmless.
func (p *MirrorProcessor) ProcessOne(ctx context.Context, id int64) error {
	op, err := p.storage.GetMirrorOp(ctx, id)
	if err != nil {
		return fmt.Errorf("load mirror op: %w", err)
	}

	if op.Status != storage.MirrorStatusPending {
		slog.DebugContext(ctx, "Skipping mirror op not pending",
			"id", op.ID, "status", op.Status)
		return nil
	}

	if err := p.storage.MarkMirrorProcessing(ctx, op.ID); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	if err := p.processOp(ctx, *op); err != nil {
		p.handleFailure(ctx, *op, err)
		return nil
	}
	p.handleSuccess(ctx, *op)
	return nil
}

func (p *MirrorProcessor) processOp(ctx context.Context, op storage.MirrorOp) error {
	ctx, cancel := context.WithTimeout(ctx, p.config.OpTimeout)
	defer cancel()

	switch op.Operation {
	case storage.MirrorOpPut:
		return p.processPut(ctx, op)
	case storage.MirrorOpRemove:
		return p.processRemove(ctx, op)
	default:
		return fmt.Errorf("unknown operation: %s", op.Operation)
	}
}

func (p *MirrorProcessor) processPut(ctx context.Context, op storage.MirrorOp) error {
	var record mirror.Record
	if err := json.Unmarshal([]byte(op.Payload), &record); err != nil {
		return fmt.Errorf("decode mirror record: %w", err)
	}

	if err := p.remote.Put(ctx, op.MirrorKey, record); err != nil {
		return fmt.Errorf("put to mirror: %w", err)
	}

	slog.InfoContext(ctx, "Mirrored expense",
		"expense_id", op.ExpenseID,
		"mirror_key", op.MirrorKey)

	return nil
}

func (p *MirrorProcessor) processRemove(ctx context.Context, op storage.MirrorOp) error {
	if op.MirrorKey != "" {
		if err := p.remote.Remove(ctx, op.MirrorKey); err != nil {
			return fmt.Errorf("remove from mirror: %w", err)
		}

		slog.InfoContext(ctx, "Removed expense from mirror",
			"expense_id", op.ExpenseID,
			"mirror_key", op.MirrorKey)

		return nil
	}

	// Rows written before mirror keys existed carry a value-match payload.
	return p.processLegacyRemove(ctx, op)
}

func (p *MirrorProcessor) processLegacyRemove(ctx context.Context, op storage.MirrorOp) error {
	var record mirror.Record
	if err := json.Unmarshal([]byte(op.Payload), &record); err != nil {
		return fmt.Errorf("decode legacy match record: %w", err)
	}

	match := mirror.Match{
		Description: record.Description,
		UserID:      record.UserID,
		Amount:      record.Amount,
		Date:        record.Date,
		Category:    record.Category,
	}
	if match.Description == "" {
		// The indexed lookup needs a non-empty driver field.
		match = mirror.Match{
			Category: record.Category,
			UserID:   record.UserID,
			Amount:   record.Amount,
			Date:     record.Date,
		}
	}

	candidates, err := p.remote.FindMatching(ctx, match)
	if err != nil {
		return fmt.Errorf("find matching records: %w", err)
	}

	if len(candidates) == 0 {
		// Already absent remotely; the end state is what we wanted.
		slog.InfoContext(ctx, "No matching mirror record to remove",
			"expense_id", op.ExpenseID)
		return nil
	}

	// Value equality cannot distinguish duplicates, so remove one match
	// only, mirroring a single local delete.
	if err := p.remote.Remove(ctx, candidates[0].Key); err != nil {
		return fmt.Errorf("remove matched record: %w", err)
	}

	slog.InfoContext(ctx, "Removed legacy expense from mirror",
		"expense_id", op.ExpenseID,
		"mirror_key", candidates[0].Key,
		"matches", len(candidates))

	return nil
}

func (p *MirrorProcessor) handleSuccess(ctx context.Context, op storage.MirrorOp) {
	if err := p.storage.MarkMirrorCompleted(ctx, op.ID); err != nil {
		slog.ErrorContext(ctx, "Failed to mark mirror op completed",
			"id", op.ID, "error", err)
	}
}

func (p *MirrorProcessor) handleFailure(ctx context.Context, op storage.MirrorOp, processErr error) {
	slog.WarnContext(ctx, "Mirror processing failed",
		"id", op.ID,
		"operation", op.Operation,
		"attempt", op.Attempts+1,
		"error", processErr)

	if op.Attempts+1 >= int64(p.config.MaxRetries) {
		if err := p.storage.MarkMirrorFailed(ctx, op.ID, processErr.Error()); err != nil {
			slog.ErrorContext(ctx, "Failed to mark mirror op failed",
				"id", op.ID, "error", err)
		}
		return
	}

	if err := p.storage.IncrementMirrorAttempt(ctx, op.ID, processErr.Error()); err != nil {
		slog.ErrorContext(ctx, "Failed to increment mirror attempt",
			"id", op.ID, "error", err)
	}
}

func (p *MirrorProcessor) cleanupCompleted(ctx context.Context) {
	cutoff := time.Now().Add(-p.config.CleanupAge)
	if err := p.storage.CleanupCompletedMirrorOps(ctx, cutoff); err != nil {
		slog.ErrorContext(ctx, "Failed to cleanup completed mirror ops", "error", err)
	}
}
