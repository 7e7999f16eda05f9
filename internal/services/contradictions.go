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

const (
	// ConfidenceDelta is subtracted from both units by LOWER_CONFIDENCE
	ConfidenceDelta = 0.2
	// DefaultOpenContradictionsLimit bounds ListOpen when no limit is given
	DefaultOpenContradictionsLimit = 50
	// DefaultDeprecatedReason is used when a DEPRECATE_UNIT resolution carries no reason
	DefaultDeprecatedReason = "Resolved contradiction"

	dismissAction = "DISMISS"
)

// ContradictionResolutionEngine moves contradiction reviews out of OPEN and
// applies the chosen resolution to the two conflicting units
type ContradictionResolutionEngine struct {
	db      *gorm.DB
	ledger  *CorrectionLedger
	locks   *keyedLocker
	logger  *zap.Logger
	metrics *metrics.LedgerMetrics
	now     func() time.Time
}

// NewContradictionResolutionEngine creates the resolution engine
func NewContradictionResolutionEngine(db *gorm.DB, ledger *CorrectionLedger, logger *zap.Logger, m *metrics.LedgerMetrics) *ContradictionResolutionEngine {
	return &ContradictionResolutionEngine{
		db:      db,
		ledger:  ledger,
		locks:   newKeyedLocker(),
		logger:  logger.Named("contradictions"),
		metrics: m,
		now:     time.Now,
	}
}

// ListOpen returns the user's open reviews, highest severity first and
// most recently detected first within a severity
func (e *ContradictionResolutionEngine) ListOpen(ctx context.Context, userID uuid.UUID, limit int) ([]models.ContradictionReview, error) {
	if limit <= 0 {
		limit = DefaultOpenContradictionsLimit
	}

	reviews := []models.ContradictionReview{}
	err := e.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.ContradictionOpen).
		Order(models.SeverityOrder).
		Order("detected_at DESC").
		Limit(limit).
		Find(&reviews).Error
	if err != nil {
		return nil, storageErr("list open contradictions", err)
	}
	return reviews, nil
}

// Resolve applies action to an OPEN review and moves it to RESOLVED.
// The unit side effect, the status change and the correction record commit
// in one transaction. Reviews that already left OPEN are rejected with
// apperrors.ErrAlreadyResolved.
func (e *ContradictionResolutionEngine) Resolve(ctx context.Context, userID, contradictionID uuid.UUID, action models.ResolutionAction, reason *string) (*models.ContradictionReview, *models.CorrectionRecord, error) {
	start := time.Now()
	defer e.metrics.ObserveDuration("resolve", start)

	if action == "" {
		err := fmt.Errorf("%w: resolution action is required", apperrors.ErrValidation)
		e.metrics.RecordContradictionTransition("INVALID", err)
		return nil, nil, err
	}
	if !action.Valid() {
		err := fmt.Errorf("%w: unknown resolution action %q", apperrors.ErrValidation, action)
		e.metrics.RecordContradictionTransition("INVALID", err)
		return nil, nil, err
	}
	reason = normalizeReason(reason)

	review, record, err := e.transition(ctx, userID, contradictionID, transitionSpec{
		status: models.ContradictionResolved,
		action: &action,
		reviewMeta: func(meta datatypes.JSONMap) {
			meta[models.ReviewResolutionReason] = stringOrNil(reason)
		},
		apply: func(tx *gorm.DB, review *models.ContradictionReview, now time.Time) error {
			return e.applyResolution(tx, review, action, reason, now)
		},
		reason: reason,
		after: datatypes.JSONMap{
			"status":           string(models.ContradictionResolved),
			"resolutionAction": string(action),
		},
		ledgerMeta: datatypes.JSONMap{
			"action":           models.ActionResolveContradiction,
			"resolutionAction": string(action),
		},
	})
	e.metrics.RecordContradictionTransition(string(action), err)
	if err != nil {
		return nil, nil, err
	}

	e.logger.Info("Resolved contradiction",
		zap.String("user_id", userID.String()),
		zap.String("contradiction_id", contradictionID.String()),
		zap.String("resolution_action", string(action)),
		zap.String("correction_id", record.ID.String()))
	return review, record, nil
}

// Dismiss moves an OPEN review to DISMISSED without touching either unit.
// The transition is audited like a resolution.
func (e *ContradictionResolutionEngine) Dismiss(ctx context.Context, userID, contradictionID uuid.UUID, reason *string) (*models.ContradictionReview, *models.CorrectionRecord, error) {
	start := time.Now()
	defer e.metrics.ObserveDuration("dismiss", start)

	reason = normalizeReason(reason)
	review, record, err := e.transition(ctx, userID, contradictionID, transitionSpec{
		status: models.ContradictionDismissed,
		reviewMeta: func(meta datatypes.JSONMap) {
			meta[models.ReviewDismissReason] = stringOrNil(reason)
		},
		reason: reason,
		after: datatypes.JSONMap{
			"status": string(models.ContradictionDismissed),
		},
		ledgerMeta: datatypes.JSONMap{
			"action": models.ActionDismissContradiction,
		},
	})
	e.metrics.RecordContradictionTransition(dismissAction, err)
	if err != nil {
		return nil, nil, err
	}

	e.logger.Info("Dismissed contradiction",
		zap.String("user_id", userID.String()),
		zap.String("contradiction_id", contradictionID.String()),
		zap.String("correction_id", record.ID.String()))
	return review, record, nil
}

type transitionSpec struct {
	status     models.ContradictionStatus
	action     *models.ResolutionAction
	reviewMeta func(datatypes.JSONMap)
	apply      func(tx *gorm.DB, review *models.ContradictionReview, now time.Time) error
	reason     *string
	after      datatypes.JSONMap
	ledgerMeta datatypes.JSONMap
}

// transition runs the shared fetch, guard, mutate, audit sequence for a
// review leaving OPEN
func (e *ContradictionResolutionEngine) transition(ctx context.Context, userID, contradictionID uuid.UUID, spec transitionSpec) (*models.ContradictionReview, *models.CorrectionRecord, error) {
	// The unit ids never change, so they can be read before locking; every
	// lock is taken before the transaction starts.
	peek, err := fetchReview(e.db.WithContext(ctx), userID, contradictionID)
	if err != nil {
		return nil, nil, err
	}
	unlock := e.locks.Lock(
		lockKey(userID, peek.ID),
		lockKey(userID, peek.UnitAID),
		lockKey(userID, peek.UnitBID),
	)
	defer unlock()

	var (
		review *models.ContradictionReview
		record *models.CorrectionRecord
	)
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		review, err = fetchReview(tx, userID, contradictionID)
		if err != nil {
			return err
		}
		if review.Status != models.ContradictionOpen {
			return fmt.Errorf("contradiction %s is %s: %w", review.ID, review.Status, apperrors.ErrAlreadyResolved)
		}

		before, err := snapshotOf(review)
		if err != nil {
			return err
		}

		now := e.now()
		if spec.apply != nil {
			if err := spec.apply(tx, review, now); err != nil {
				return err
			}
		}

		meta := models.CloneMap(review.Metadata)
		if spec.reviewMeta != nil {
			spec.reviewMeta(meta)
		}
		updates := map[string]interface{}{
			"status":      spec.status,
			"resolved_at": now,
			"metadata":    meta,
			"updated_at":  now,
		}
		if spec.action != nil {
			updates["resolution_action"] = *spec.action
		}

		// The status guard keeps a concurrent writer in another process from
		// resolving the same review twice.
		res := tx.Model(&models.ContradictionReview{}).
			Where("id = ? AND user_id = ? AND status = ?", review.ID, userID, models.ContradictionOpen).
			Updates(updates)
		if res.Error != nil {
			return storageErr("update contradiction review", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("contradiction %s: %w", review.ID, apperrors.ErrAlreadyResolved)
		}

		review.Status = spec.status
		review.ResolvedAt = &now
		review.ResolutionAction = spec.action
		review.Metadata = meta
		review.UpdatedAt = now

		record, err = e.ledger.WithTx(tx).Record(ctx, RecordInput{
			UserID:         userID,
			TargetType:     models.TargetEntity,
			TargetID:       review.ID,
			CorrectionType: models.CorrectionUser,
			Before:         before,
			After:          spec.after,
			Reason:         spec.reason,
			InitiatedBy:    models.InitiatedByUser,
			Metadata:       spec.ledgerMeta,
		})
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	e.ledger.observe(record)
	return review, record, nil
}

// applyResolution performs the unit side effect of action
func (e *ContradictionResolutionEngine) applyResolution(tx *gorm.DB, review *models.ContradictionReview, action models.ResolutionAction, reason *string, now time.Time) error {
	switch action {
	case models.ResolveDeprecateUnitA:
		return deprecateForResolution(tx, review.UserID, review.UnitAID, reason, now)
	case models.ResolveDeprecateUnitB:
		return deprecateForResolution(tx, review.UserID, review.UnitBID, reason, now)
	case models.ResolveLowerConfidence:
		if err := lowerConfidence(tx, review.UserID, review.UnitAID, ConfidenceDelta, now); err != nil {
			return err
		}
		if review.UnitBID == review.UnitAID {
			return nil
		}
		return lowerConfidence(tx, review.UserID, review.UnitBID, ConfidenceDelta, now)
	case models.ResolveMarkContextual, models.ResolveIgnoreContradiction:
		return nil
	}
	return fmt.Errorf("%w: unknown resolution action %q", apperrors.ErrValidation, action)
}

// deprecateForResolution merges the deprecation flags into the unit's
// metadata, keeping every unrelated key
func deprecateForResolution(tx *gorm.DB, userID, unitID uuid.UUID, reason *string, now time.Time) error {
	unit, err := fetchUnit(tx, userID, unitID)
	if err != nil {
		return err
	}
	deprecatedReason := DefaultDeprecatedReason
	if reason != nil {
		deprecatedReason = *reason
	}
	meta := models.FlagUpdate{
		Deprecated:       ptr(true),
		DeprecatedReason: &deprecatedReason,
	}.MergeInto(unit.Metadata)
	return updateUnit(tx, unit, map[string]interface{}{"metadata": meta, "updated_at": now})
}

// lowerConfidence atomically subtracts delta from the unit's confidence,
// clamped to [0, 1]
func lowerConfidence(tx *gorm.DB, userID, unitID uuid.UUID, delta float64, now time.Time) error {
	res := tx.Model(&models.KnowledgeUnit{}).
		Where("id = ? AND user_id = ?", unitID, userID).
		Updates(map[string]interface{}{
			"confidence": gorm.Expr(
				"CASE WHEN confidence - ? < 0 THEN 0 WHEN confidence - ? > 1 THEN 1 ELSE confidence - ? END",
				delta, delta, delta,
			),
			"updated_at": now,
		})
	if res.Error != nil {
		return storageErr("lower unit confidence", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("knowledge unit %s: %w", unitID, apperrors.ErrNotFound)
	}
	return nil
}

// fetchReview loads a review owned by userID. Reviews of other users are
// reported as not found.
func fetchReview(tx *gorm.DB, userID, contradictionID uuid.UUID) (*models.ContradictionReview, error) {
	var review models.ContradictionReview
	err := tx.Where("id = ? AND user_id = ?", contradictionID, userID).First(&review).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("contradiction %s: %w", contradictionID, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("fetch contradiction review", err)
	}
	return &review, nil
}

func normalizeReason(reason *string) *string {
	if reason == nil {
		return nil
	}
	r := strings.TrimSpace(*reason)
	if r == "" {
		return nil
	}
	return &r
}

func stringOrNil(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
