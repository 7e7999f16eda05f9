package services

import (
	"context"
	"sort"
	"time"

	"memoir-ledger/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DefaultUsersToCheckLimit bounds UsersToCheck when no limit is given
const DefaultUsersToCheckLimit = 500

// AuditGapReport lists rows whose state implies a change with no correction
// record behind it
type AuditGapReport struct {
	UserID           uuid.UUID   `json:"userId"`
	UnitIDs          []uuid.UUID `json:"unitIds"`
	ContradictionIDs []uuid.UUID `json:"contradictionIds"`
	CheckedAt        time.Time   `json:"checkedAt"`
}

// Empty reports whether the report found nothing
func (r *AuditGapReport) Empty() bool {
	return len(r.UnitIDs) == 0 && len(r.ContradictionIDs) == 0
}

// AuditReconciler finds deprecated units and closed reviews that were
// changed outside the ledger, e.g. by the extraction pipeline, and can
// back-fill a SYSTEM record for each of them
type AuditReconciler struct {
	db     *gorm.DB
	ledger *CorrectionLedger
	locks  *keyedLocker
	logger *zap.Logger
	now    func() time.Time
}

// NewAuditReconciler creates the reconciliation sweep
func NewAuditReconciler(db *gorm.DB, ledger *CorrectionLedger, logger *zap.Logger) *AuditReconciler {
	return &AuditReconciler{
		db:     db,
		ledger: ledger,
		locks:  newKeyedLocker(),
		logger: logger.Named("reconcile"),
		now:    time.Now,
	}
}

// FindGaps reports the user's unaudited deprecated units and closed reviews
func (r *AuditReconciler) FindGaps(ctx context.Context, userID uuid.UUID) (*AuditGapReport, error) {
	db := r.db.WithContext(ctx)
	report := &AuditGapReport{
		UserID:           userID,
		UnitIDs:          []uuid.UUID{},
		ContradictionIDs: []uuid.UUID{},
		CheckedAt:        r.now(),
	}

	unitAudit := db.Model(&models.CorrectionRecord{}).
		Select("1").
		Where("correction_records.target_id = knowledge_units.id AND correction_records.target_type = ? AND correction_records.user_id = knowledge_units.user_id", models.TargetUnit)
	// A unit deprecated by resolving a contradiction is audited under the review.
	resolutionAudit := db.Model(&models.CorrectionRecord{}).
		Select("1").
		Joins("JOIN contradiction_reviews ON contradiction_reviews.id = correction_records.target_id AND contradiction_reviews.user_id = correction_records.user_id").
		Where("correction_records.target_type = ? AND correction_records.user_id = knowledge_units.user_id", models.TargetEntity).
		Where(datatypes.JSONQuery("correction_records.metadata").Equals(models.ActionResolveContradiction, "action")).
		Where("((contradiction_reviews.unit_a_id = knowledge_units.id AND contradiction_reviews.resolution_action = ?) OR (contradiction_reviews.unit_b_id = knowledge_units.id AND contradiction_reviews.resolution_action = ?))",
			models.ResolveDeprecateUnitA, models.ResolveDeprecateUnitB)
	err := db.Model(&models.KnowledgeUnit{}).
		Where("user_id = ?", userID).
		Where(datatypes.JSONQuery("metadata").Equals("true", models.FlagDeprecated)).
		Where("NOT EXISTS (?)", unitAudit).
		Where("NOT EXISTS (?)", resolutionAudit).
		Order("updated_at DESC").
		Pluck("id", &report.UnitIDs).Error
	if err != nil {
		return nil, storageErr("find unaudited units", err)
	}

	reviewAudit := db.Model(&models.CorrectionRecord{}).
		Select("1").
		Where("correction_records.target_id = contradiction_reviews.id AND correction_records.target_type = ? AND correction_records.user_id = contradiction_reviews.user_id", models.TargetEntity)
	err = db.Model(&models.ContradictionReview{}).
		Where("user_id = ? AND status IN ?", userID, []models.ContradictionStatus{models.ContradictionResolved, models.ContradictionDismissed}).
		Where("NOT EXISTS (?)", reviewAudit).
		Order("detected_at DESC").
		Pluck("id", &report.ContradictionIDs).Error
	if err != nil {
		return nil, storageErr("find unaudited contradictions", err)
	}

	return report, nil
}

// UsersToCheck returns up to limit users owning a deprecated unit or a
// closed review, the only rows that can have an audit gap. Users are
// returned in id order starting after the given cursor; pass uuid.Nil for
// the first page and the last id returned for the next one.
func (r *AuditReconciler) UsersToCheck(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = DefaultUsersToCheckLimit
	}
	db := r.db.WithContext(ctx)

	var unitUsers []uuid.UUID
	err := db.Model(&models.KnowledgeUnit{}).
		Where(datatypes.JSONQuery("metadata").Equals("true", models.FlagDeprecated)).
		Where("user_id > ?", after).
		Distinct().
		Order("user_id").
		Limit(limit).
		Pluck("user_id", &unitUsers).Error
	if err != nil {
		return nil, storageErr("list users with deprecated units", err)
	}

	var reviewUsers []uuid.UUID
	err = db.Model(&models.ContradictionReview{}).
		Where("status IN ?", []models.ContradictionStatus{models.ContradictionResolved, models.ContradictionDismissed}).
		Where("user_id > ?", after).
		Distinct().
		Order("user_id").
		Limit(limit).
		Pluck("user_id", &reviewUsers).Error
	if err != nil {
		return nil, storageErr("list users with closed contradictions", err)
	}

	// Both lists hold the smallest ids past the cursor, so the first limit
	// ids of their union are the next page.
	seen := make(map[uuid.UUID]struct{}, len(unitUsers)+len(reviewUsers))
	users := make([]uuid.UUID, 0, len(unitUsers)+len(reviewUsers))
	for _, id := range append(unitUsers, reviewUsers...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		users = append(users, id)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].String() < users[j].String()
	})
	if len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

// Repair records an irreversible SYSTEM OVERRIDE_APPLIED correction for
// every gap found. Each back-fill commits on its own; the first failure
// stops the sweep and is returned with the records written so far.
func (r *AuditReconciler) Repair(ctx context.Context, userID uuid.UUID) (*AuditGapReport, []models.CorrectionRecord, error) {
	report, err := r.FindGaps(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	repaired := []models.CorrectionRecord{}
	for _, unitID := range report.UnitIDs {
		record, err := r.backfill(ctx, userID, unitID, models.TargetUnit, func(tx *gorm.DB) (interface{}, error) {
			return fetchUnit(tx, userID, unitID)
		})
		if err != nil {
			return report, repaired, err
		}
		repaired = append(repaired, *record)
	}
	for _, reviewID := range report.ContradictionIDs {
		record, err := r.backfill(ctx, userID, reviewID, models.TargetEntity, func(tx *gorm.DB) (interface{}, error) {
			return fetchReview(tx, userID, reviewID)
		})
		if err != nil {
			return report, repaired, err
		}
		repaired = append(repaired, *record)
	}

	if len(repaired) > 0 {
		r.logger.Info("Back-filled missing audit records",
			zap.String("user_id", userID.String()),
			zap.Int("units", len(report.UnitIDs)),
			zap.Int("contradictions", len(report.ContradictionIDs)))
	}
	return report, repaired, nil
}

func (r *AuditReconciler) backfill(ctx context.Context, userID, targetID uuid.UUID, targetType models.TargetType, load func(tx *gorm.DB) (interface{}, error)) (*models.CorrectionRecord, error) {
	unlock := r.locks.Lock(lockKey(userID, targetID))
	defer unlock()

	var record *models.CorrectionRecord
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := load(tx)
		if err != nil {
			return err
		}
		after, err := snapshotOf(current)
		if err != nil {
			return err
		}
		reason := "Change found without an audit record"
		record, err = r.ledger.WithTx(tx).Record(ctx, RecordInput{
			UserID:         userID,
			TargetType:     targetType,
			TargetID:       targetID,
			CorrectionType: models.CorrectionOverrideApplied,
			Before:         datatypes.JSONMap{},
			After:          after,
			Reason:         &reason,
			InitiatedBy:    models.InitiatedBySystem,
			Irreversible:   true,
			Metadata:       datatypes.JSONMap{"action": models.ActionReconcile},
		})
		return err
	})
	if err != nil {
		r.logger.Error("Failed to back-fill audit record",
			zap.String("user_id", userID.String()),
			zap.String("target_id", targetID.String()),
			zap.Error(err))
		return nil, err
	}

	r.ledger.observe(record)
	return record, nil
}
