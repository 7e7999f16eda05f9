package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"memoir-ledger/internal/apperrors"
	"memoir-ledger/internal/metrics"
	"memoir-ledger/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	// DefaultUserCorrectionsLimit bounds ListForUser when no limit is given
	DefaultUserCorrectionsLimit = 100
	// DefaultTargetCorrectionsLimit bounds ListForTarget when no limit is given
	DefaultTargetCorrectionsLimit = 10
)

// RecordInput describes one change to append to the ledger.
// InitiatedBy defaults to SYSTEM; records are reversible unless Irreversible is set.
type RecordInput struct {
	UserID         uuid.UUID
	TargetType     models.TargetType
	TargetID       uuid.UUID
	CorrectionType models.CorrectionType
	Before         datatypes.JSONMap
	After          datatypes.JSONMap
	Reason         *string
	InitiatedBy    models.Initiator
	Irreversible   bool
	Metadata       datatypes.JSONMap
}

// CorrectionLedger is the append-only store of correction records.
// It is the only writer of the correction_records table.
type CorrectionLedger struct {
	db      *gorm.DB
	inTx    bool
	logger  *zap.Logger
	metrics *metrics.LedgerMetrics
	now     func() time.Time
}

// NewCorrectionLedger creates a ledger on db
func NewCorrectionLedger(db *gorm.DB, logger *zap.Logger, m *metrics.LedgerMetrics) *CorrectionLedger {
	return &CorrectionLedger{
		db:      db,
		logger:  logger.Named("corrections"),
		metrics: m,
		now:     time.Now,
	}
}

// WithTx returns a ledger writing through tx, so the correction commits or
// rolls back together with the change it describes
func (l *CorrectionLedger) WithTx(tx *gorm.DB) *CorrectionLedger {
	clone := *l
	clone.db = tx
	clone.inTx = true
	return &clone
}

// Record appends a correction and returns it with its id and timestamp set.
// Storage failures are returned to the caller.
func (l *CorrectionLedger) Record(ctx context.Context, in RecordInput) (*models.CorrectionRecord, error) {
	if in.InitiatedBy == "" {
		in.InitiatedBy = models.InitiatedBySystem
	}
	if err := validateRecordInput(in); err != nil {
		return nil, err
	}

	record := &models.CorrectionRecord{
		UserID:         in.UserID,
		TargetType:     in.TargetType,
		TargetID:       in.TargetID,
		CorrectionType: in.CorrectionType,
		BeforeSnapshot: in.Before,
		AfterSnapshot:  in.After,
		Reason:         in.Reason,
		InitiatedBy:    in.InitiatedBy,
		Reversible:     !in.Irreversible,
		Metadata:       in.Metadata,
		CreatedAt:      l.now(),
	}

	if err := l.db.WithContext(ctx).Create(record).Error; err != nil {
		l.logger.Error("Failed to append correction record",
			zap.String("user_id", in.UserID.String()),
			zap.String("target_type", string(in.TargetType)),
			zap.String("target_id", in.TargetID.String()),
			zap.Error(err))
		return nil, storageErr("append correction record", err)
	}

	// Inside a transaction the caller counts the record after commit.
	if !l.inTx {
		l.observe(record)
	}
	return record, nil
}

// ListForUser returns the user's most recent corrections, newest first.
// Read failures are logged and produce an empty list.
func (l *CorrectionLedger) ListForUser(ctx context.Context, userID uuid.UUID, limit int) []models.CorrectionRecord {
	records, err := l.listForUser(ctx, userID, limit)
	if err != nil {
		l.logger.Warn("Failed to list corrections for user",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return []models.CorrectionRecord{}
	}
	return records
}

// ListForTarget returns the most recent corrections of one target, newest first.
// Read failures are logged and produce an empty list.
func (l *CorrectionLedger) ListForTarget(ctx context.Context, userID uuid.UUID, targetType models.TargetType, targetID uuid.UUID, limit int) []models.CorrectionRecord {
	if limit <= 0 {
		limit = DefaultTargetCorrectionsLimit
	}

	var records []models.CorrectionRecord
	err := l.db.WithContext(ctx).
		Where("user_id = ? AND target_type = ? AND target_id = ?", userID, targetType, targetID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		l.logger.Warn("Failed to list corrections for target",
			zap.String("user_id", userID.String()),
			zap.String("target_type", string(targetType)),
			zap.String("target_id", targetID.String()),
			zap.Error(err))
		return []models.CorrectionRecord{}
	}
	if records == nil {
		records = []models.CorrectionRecord{}
	}
	return records
}

func (l *CorrectionLedger) listForUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.CorrectionRecord, error) {
	if limit <= 0 {
		limit = DefaultUserCorrectionsLimit
	}

	records := []models.CorrectionRecord{}
	err := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, storageErr("list corrections", err)
	}
	return records, nil
}

func (l *CorrectionLedger) observe(record *models.CorrectionRecord) {
	if record == nil {
		return
	}
	l.metrics.RecordCorrection(string(record.CorrectionType), string(record.TargetType))
}

func validateRecordInput(in RecordInput) error {
	switch {
	case in.UserID == uuid.Nil:
		return fmt.Errorf("%w: user id is required", apperrors.ErrValidation)
	case in.TargetID == uuid.Nil:
		return fmt.Errorf("%w: target id is required", apperrors.ErrValidation)
	case !in.TargetType.Valid():
		return fmt.Errorf("%w: unknown target type %q", apperrors.ErrValidation, in.TargetType)
	case !in.CorrectionType.Valid():
		return fmt.Errorf("%w: unknown correction type %q", apperrors.ErrValidation, in.CorrectionType)
	case !in.InitiatedBy.Valid():
		return fmt.Errorf("%w: unknown initiator %q", apperrors.ErrValidation, in.InitiatedBy)
	}
	return nil
}

// snapshotOf copies v into a JSON map for before/after snapshots
func snapshotOf(v any) (datatypes.JSONMap, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	snapshot := datatypes.JSONMap{}
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snapshot, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("failed to %s: %w: %w", op, apperrors.ErrStorage, err)
}

func lockKey(userID, targetID uuid.UUID) string {
	return userID.String() + "/" + targetID.String()
}

func ptr[T any](v T) *T {
	return &v
}
