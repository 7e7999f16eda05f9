package workers

import (
	"context"
	"sync"
	"time"

	"memoir-ledger/internal/models"
	"memoir-ledger/internal/services"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultSweepBatchSize is how many users are listed per page of a sweep
const DefaultSweepBatchSize = 500

// SweepConfig controls the periodic audit sweep
type SweepConfig struct {
	Interval  time.Duration
	BatchSize int
	// Repair back-fills records instead of only reporting gaps.
	Repair bool
}

// SweepStats describes the most recent sweep
type SweepStats struct {
	UsersChecked        int       `json:"usersChecked"`
	UsersWithGaps       int       `json:"usersWithGaps"`
	UnitGaps            int       `json:"unitGaps"`
	ContradictionGaps   int       `json:"contradictionGaps"`
	RecordsBackfilled   int       `json:"recordsBackfilled"`
	Errors              int       `json:"errors"`
	LastRun             time.Time `json:"lastRun"`
	LastRunDurationSecs float64   `json:"lastRunDurationSecs"`
}

// AuditSweepWorker periodically looks for changes that reached the store
// without a correction record, e.g. units deprecated by the extraction
// pipeline
type AuditSweepWorker struct {
	reconciler *services.AuditReconciler
	config     SweepConfig
	logger     *zap.Logger

	mu       sync.Mutex
	stats    SweepStats
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewAuditSweepWorker creates a sweep worker
func NewAuditSweepWorker(reconciler *services.AuditReconciler, config SweepConfig, logger *zap.Logger) *AuditSweepWorker {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultSweepBatchSize
	}
	return &AuditSweepWorker{
		reconciler: reconciler,
		config:     config,
		logger:     logger.Named("audit_sweep"),
	}
}

// Start runs one sweep immediately and then one per interval until ctx is
// cancelled or Stop is called
func (w *AuditSweepWorker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running || w.config.Interval <= 0 {
		return
	}
	w.running = true
	w.stopChan = make(chan struct{})

	w.logger.Info("Starting audit sweep worker",
		zap.Duration("interval", w.config.Interval),
		zap.Int("batch_size", w.config.BatchSize),
		zap.Bool("repair", w.config.Repair))

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.config.Interval)
		defer ticker.Stop()

		w.RunOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				w.logger.Info("Audit sweep worker stopping due to context cancellation")
				return
			case <-w.stopChan:
				w.logger.Info("Audit sweep worker stopping")
				return
			case <-ticker.C:
				w.RunOnce(ctx)
			}
		}
	}()
}

// Stop stops the worker and waits for a running sweep to finish
func (w *AuditSweepWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopChan)
	w.running = false
	w.mu.Unlock()

	w.wg.Wait()
}

// RunOnce performs a single sweep. Per-user failures are logged and counted;
// the sweep carries on with the next user.
func (w *AuditSweepWorker) RunOnce(ctx context.Context) SweepStats {
	start := time.Now()
	stats := SweepStats{LastRun: start}

	var cursor uuid.UUID
	for ctx.Err() == nil {
		users, err := w.reconciler.UsersToCheck(ctx, cursor, w.config.BatchSize)
		if err != nil {
			w.logger.Error("Failed to list users for audit sweep", zap.Error(err))
			stats.Errors++
			break
		}
		for _, userID := range users {
			if ctx.Err() != nil {
				break
			}
			w.checkUser(ctx, userID, &stats)
		}
		if len(users) < w.config.BatchSize {
			break
		}
		cursor = users[len(users)-1]
	}

	stats.LastRunDurationSecs = time.Since(start).Seconds()
	w.mu.Lock()
	w.stats = stats
	w.mu.Unlock()

	w.logger.Info("Audit sweep finished",
		zap.Int("users_checked", stats.UsersChecked),
		zap.Int("users_with_gaps", stats.UsersWithGaps),
		zap.Int("records_backfilled", stats.RecordsBackfilled),
		zap.Int("errors", stats.Errors))
	return stats
}

// checkUser reports or repairs one user's gaps and folds the result into stats
func (w *AuditSweepWorker) checkUser(ctx context.Context, userID uuid.UUID, stats *SweepStats) {
	stats.UsersChecked++

	var (
		report *services.AuditGapReport
		err    error
	)
	if w.config.Repair {
		var records []models.CorrectionRecord
		report, records, err = w.reconciler.Repair(ctx, userID)
		stats.RecordsBackfilled += len(records)
		if err != nil {
			w.logger.Error("Audit repair failed", zap.String("user_id", userID.String()), zap.Error(err))
			stats.Errors++
		}
	} else {
		report, err = w.reconciler.FindGaps(ctx, userID)
		if err != nil {
			w.logger.Error("Audit check failed", zap.String("user_id", userID.String()), zap.Error(err))
			stats.Errors++
		}
	}
	if report == nil || report.Empty() {
		return
	}

	stats.UsersWithGaps++
	stats.UnitGaps += len(report.UnitIDs)
	stats.ContradictionGaps += len(report.ContradictionIDs)
	if !w.config.Repair {
		w.logger.Warn("Found changes without audit records",
			zap.String("user_id", userID.String()),
			zap.Int("units", len(report.UnitIDs)),
			zap.Int("contradictions", len(report.ContradictionIDs)))
	}
}

// GetStats returns the result of the last sweep
func (w *AuditSweepWorker) GetStats() SweepStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}
