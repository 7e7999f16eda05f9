package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"memoir-ledger/internal/apperrors"
	"memoir-ledger/internal/metrics"
	"memoir-ledger/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DefaultDeprecatedUnitsLimit bounds List when no limit is given
const DefaultDeprecatedUnitsLimit = 100

// Snapshot status values written to afterSnapshot
const (
	SnapshotStatusPruned    = "PRUNED"
	SnapshotStatusRestored  = "RESTORED"
	SnapshotStatusCorrected = "CORRECTED"
)

// DeprecationLifecycle soft-deletes, restores and hand-corrects knowledge
// units, auditing every change through the correction ledger
type DeprecationLifecycle struct {
	db      *gorm.DB
	ledger  *CorrectionLedger
	locks   *keyedLocker
	logger  *zap.Logger
	metrics *metrics.LedgerMetrics
	now     func() time.Time
}

// NewDeprecationLifecycle creates the unit lifecycle service
func NewDeprecationLifecycle(db *gorm.DB, ledger *CorrectionLedger, logger *zap.Logger, m *metrics.LedgerMetrics) *DeprecationLifecycle {
	return &DeprecationLifecycle{
		db:      db,
		ledger:  ledger,
		locks:   newKeyedLocker(),
		logger:  logger.Named("deprecation"),
		metrics: m,
		now:     time.Now,
	}
}

// List returns the user's deprecated units, most recently updated first,
// with their linked events and source message ids. Missing link or
// utterance data yields empty lists rather than an error.
func (s *DeprecationLifecycle) List(ctx context.Context, userID uuid.UUID, limit int) ([]models.DeprecatedUnitView, error) {
	if limit <= 0 {
		limit = DefaultDeprecatedUnitsLimit
	}

	var units []models.KnowledgeUnit
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where(datatypes.JSONQuery("metadata").Equals("true", models.FlagDeprecated)).
		Order("updated_at DESC").
		Limit(limit).
		Find(&units).Error
	if err != nil {
		return nil, storageErr("list deprecated units", err)
	}

	views := make([]models.DeprecatedUnitView, 0, len(units))
	if len(units) == 0 {
		return views, nil
	}

	unitIDs := make([]uuid.UUID, 0, len(units))
	utteranceIDs := make([]uuid.UUID, 0, len(units))
	for _, u := range units {
		unitIDs = append(unitIDs, u.ID)
		if u.UtteranceID != nil {
			utteranceIDs = append(utteranceIDs, *u.UtteranceID)
		}
	}

	eventsByUnit := make(map[uuid.UUID][]uuid.UUID)
	var links []models.EventUnitLink
	if err := s.db.WithContext(ctx).Where("unit_id IN ?", unitIDs).Order("created_at").Find(&links).Error; err != nil {
		s.logger.Warn("Failed to load event links for deprecated units",
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}
	for _, link := range links {
		eventsByUnit[link.UnitID] = append(eventsByUnit[link.UnitID], link.EventID)
	}

	messagesByUtterance := make(map[uuid.UUID][]string)
	if len(utteranceIDs) > 0 {
		var utterances []models.Utterance
		err := s.db.WithContext(ctx).
			Where("user_id = ? AND id IN ?", userID, utteranceIDs).
			Find(&utterances).Error
		if err != nil {
			s.logger.Warn("Failed to load utterances for deprecated units",
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}
		for _, utt := range utterances {
			messagesByUtterance[utt.ID] = utt.SourceMessageIDs
		}
	}

	for _, u := range units {
		view := models.DeprecatedUnitView{
			KnowledgeUnit:    u,
			FlagSet:          u.Flags(),
			LinkedEventIDs:   []uuid.UUID{},
			SourceMessageIDs: []string{},
		}
		if events, ok := eventsByUnit[u.ID]; ok {
			view.LinkedEventIDs = events
		}
		if u.UtteranceID != nil {
			if msgs, ok := messagesByUtterance[*u.UtteranceID]; ok && msgs != nil {
				view.SourceMessageIDs = msgs
			}
		}
		views = append(views, view)
	}

	return views, nil
}

// Prune soft-deletes a unit: the deprecation flags are merged into its
// metadata, every event and entity link is removed, and a USER_CORRECTION
// is recorded. Link removal is not undone by Restore.
func (s *DeprecationLifecycle) Prune(ctx context.Context, userID, unitID uuid.UUID, reason string) (*models.CorrectionRecord, error) {
	start := time.Now()
	defer s.metrics.ObserveDuration("prune", start)

	reason = strings.TrimSpace(reason)
	if reason == "" {
		err := fmt.Errorf("%w: prune reason is required", apperrors.ErrValidation)
		s.metrics.RecordUnitLifecycle(models.ActionPrune, err)
		return nil, err
	}

	unlock := s.locks.Lock(lockKey(userID, unitID))
	defer unlock()

	var record *models.CorrectionRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		unit, err := fetchUnit(tx, userID, unitID)
		if err != nil {
			return err
		}
		before, err := snapshotOf(unit)
		if err != nil {
			return err
		}

		now := s.now()
		meta := models.FlagUpdate{
			Deprecated:  ptr(true),
			Pruned:      ptr(true),
			PrunedAt:    &now,
			PruneReason: &reason,
		}.MergeInto(unit.Metadata)
		if err := updateUnit(tx, unit, map[string]interface{}{"metadata": meta, "updated_at": now}); err != nil {
			return err
		}

		if err := detachUnit(tx, unitID); err != nil {
			return err
		}

		record, err = s.ledger.WithTx(tx).Record(ctx, RecordInput{
			UserID:         userID,
			TargetType:     models.TargetUnit,
			TargetID:       unitID,
			CorrectionType: models.CorrectionUser,
			Before:         before,
			After:          datatypes.JSONMap{"status": SnapshotStatusPruned, "prunedReason": reason},
			Reason:         &reason,
			InitiatedBy:    models.InitiatedByUser,
			Metadata:       datatypes.JSONMap{"action": models.ActionPrune},
		})
		return err
	})
	s.metrics.RecordUnitLifecycle(models.ActionPrune, err)
	if err != nil {
		return nil, err
	}

	s.ledger.observe(record)
	s.logger.Info("Pruned knowledge unit",
		zap.String("user_id", userID.String()),
		zap.String("unit_id", unitID.String()),
		zap.String("correction_id", record.ID.String()))
	return record, nil
}

// Restore clears the deprecation flags set by Prune and records the change.
// Links removed by Prune are left for the extraction pipeline to re-derive.
func (s *DeprecationLifecycle) Restore(ctx context.Context, userID, unitID uuid.UUID) (*models.CorrectionRecord, error) {
	start := time.Now()
	defer s.metrics.ObserveDuration("restore", start)

	unlock := s.locks.Lock(lockKey(userID, unitID))
	defer unlock()

	var record *models.CorrectionRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		unit, err := fetchUnit(tx, userID, unitID)
		if err != nil {
			return err
		}
		before, err := snapshotOf(unit)
		if err != nil {
			return err
		}

		now := s.now()
		meta := models.FlagUpdate{
			Deprecated: ptr(false),
			Pruned:     ptr(false),
			RestoredAt: &now,
		}.MergeInto(unit.Metadata)
		if err := updateUnit(tx, unit, map[string]interface{}{"metadata": meta, "updated_at": now}); err != nil {
			return err
		}

		record, err = s.ledger.WithTx(tx).Record(ctx, RecordInput{
			UserID:         userID,
			TargetType:     models.TargetUnit,
			TargetID:       unitID,
			CorrectionType: models.CorrectionUser,
			Before:         before,
			After:          datatypes.JSONMap{"status": SnapshotStatusRestored},
			InitiatedBy:    models.InitiatedByUser,
			Metadata:       datatypes.JSONMap{"action": models.ActionRestore},
		})
		return err
	})
	s.metrics.RecordUnitLifecycle(models.ActionRestore, err)
	if err != nil {
		return nil, err
	}

	s.ledger.observe(record)
	s.logger.Info("Restored knowledge unit",
		zap.String("user_id", userID.String()),
		zap.String("unit_id", unitID.String()),
		zap.String("correction_id", record.ID.String()))
	return record, nil
}

// Correct replaces a unit's content with the user's text and marks it as
// manually corrected
func (s *DeprecationLifecycle) Correct(ctx context.Context, userID, unitID uuid.UUID, correctedText, reason string) (*models.CorrectionRecord, error) {
	start := time.Now()
	defer s.metrics.ObserveDuration("correct", start)

	correctedText = strings.TrimSpace(correctedText)
	if correctedText == "" {
		err := fmt.Errorf("%w: corrected text is required", apperrors.ErrValidation)
		s.metrics.RecordUnitLifecycle(models.ActionCorrect, err)
		return nil, err
	}
	var reasonPtr *string
	if r := strings.TrimSpace(reason); r != "" {
		reasonPtr = &r
	}

	unlock := s.locks.Lock(lockKey(userID, unitID))
	defer unlock()

	var record *models.CorrectionRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		unit, err := fetchUnit(tx, userID, unitID)
		if err != nil {
			return err
		}
		before, err := snapshotOf(unit)
		if err != nil {
			return err
		}

		now := s.now()
		meta := models.FlagUpdate{ManuallyCorrected: ptr(true)}.MergeInto(unit.Metadata)
		updates := map[string]interface{}{
			"content":    correctedText,
			"metadata":   meta,
			"updated_at": now,
		}
		if err := updateUnit(tx, unit, updates); err != nil {
			return err
		}

		record, err = s.ledger.WithTx(tx).Record(ctx, RecordInput{
			UserID:         userID,
			TargetType:     models.TargetUnit,
			TargetID:       unitID,
			CorrectionType: models.CorrectionUser,
			Before:         before,
			After:          datatypes.JSONMap{"status": SnapshotStatusCorrected, "content": correctedText},
			Reason:         reasonPtr,
			InitiatedBy:    models.InitiatedByUser,
			Metadata:       datatypes.JSONMap{"action": models.ActionCorrect},
		})
		return err
	})
	s.metrics.RecordUnitLifecycle(models.ActionCorrect, err)
	if err != nil {
		return nil, err
	}

	s.ledger.observe(record)
	s.logger.Info("Corrected knowledge unit",
		zap.String("user_id", userID.String()),
		zap.String("unit_id", unitID.String()),
		zap.String("correction_id", record.ID.String()))
	return record, nil
}

// fetchUnit loads a unit owned by userID. Units of other users are
// reported as not found.
func fetchUnit(tx *gorm.DB, userID, unitID uuid.UUID) (*models.KnowledgeUnit, error) {
	var unit models.KnowledgeUnit
	err := tx.Where("id = ? AND user_id = ?", unitID, userID).First(&unit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("knowledge unit %s: %w", unitID, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("fetch knowledge unit", err)
	}
	return &unit, nil
}

// updateUnit writes updates to the unit row and mirrors them on unit
func updateUnit(tx *gorm.DB, unit *models.KnowledgeUnit, updates map[string]interface{}) error {
	res := tx.Model(&models.KnowledgeUnit{}).
		Where("id = ? AND user_id = ?", unit.ID, unit.UserID).
		Updates(updates)
	if res.Error != nil {
		return storageErr("update knowledge unit", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("knowledge unit %s: %w", unit.ID, apperrors.ErrNotFound)
	}

	if meta, ok := updates["metadata"].(datatypes.JSONMap); ok {
		unit.Metadata = meta
	}
	if content, ok := updates["content"].(string); ok {
		unit.Content = content
	}
	if updatedAt, ok := updates["updated_at"].(time.Time); ok {
		unit.UpdatedAt = updatedAt
	}
	return nil
}

// detachUnit removes every event and entity link of the unit
func detachUnit(tx *gorm.DB, unitID uuid.UUID) error {
	if err := tx.Where("unit_id = ?", unitID).Delete(&models.EventUnitLink{}).Error; err != nil {
		return storageErr("detach event links", err)
	}
	if err := tx.Where("unit_id = ?", unitID).Delete(&models.EntityUnitLink{}).Error; err != nil {
		return storageErr("detach entity links", err)
	}
	return nil
}
