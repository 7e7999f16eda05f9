package services

import (
	"context"
	"testing"

	"memoir-ledger/internal/models"
	"memoir-ledger/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestAuditReconciler_FindGaps(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()

	audited := testutil.CreateUnit(t, env.db, env.userID, "Audited", 0.9, nil)
	_, err := env.svc.Deprecation.Prune(ctx, env.userID, audited.ID, "duplicate entry")
	require.NoError(t, err)

	// deprecated by the pipeline without going through the ledger
	silent := testutil.CreateUnit(t, env.db, env.userID, "Silently deprecated", 0.9, datatypes.JSONMap{models.FlagDeprecated: "true"})
	testutil.CreateUnit(t, env.db, env.userID, "Active", 0.9, nil)

	fx := newContradiction(t, env, 0.8, 0.8)
	require.NoError(t, env.db.Model(&models.ContradictionReview{}).
		Where("id = ?", fx.review.ID).
		Update("status", models.ContradictionResolved).Error)
	stillOpen := newContradiction(t, env, 0.8, 0.8)

	report, err := env.svc.Reconciler.FindGaps(ctx, env.userID)
	require.NoError(t, err)
	assert.Equal(t, env.userID, report.UserID)
	assert.Equal(t, []uuid.UUID{silent.ID}, report.UnitIDs)
	assert.Equal(t, []uuid.UUID{fx.review.ID}, report.ContradictionIDs)
	assert.NotContains(t, report.ContradictionIDs, stillOpen.review.ID)
	assert.False(t, report.Empty())
}

func TestAuditReconciler_Repair(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()

	silent := testutil.CreateUnit(t, env.db, env.userID, "Silently deprecated", 0.9, datatypes.JSONMap{models.FlagDeprecated: "true"})
	fx := newContradiction(t, env, 0.8, 0.8)
	require.NoError(t, env.db.Model(&models.ContradictionReview{}).
		Where("id = ?", fx.review.ID).
		Update("status", models.ContradictionDismissed).Error)

	report, repaired, err := env.svc.Reconciler.Repair(ctx, env.userID)
	require.NoError(t, err)
	assert.Len(t, report.UnitIDs, 1)
	assert.Len(t, report.ContradictionIDs, 1)
	require.Len(t, repaired, 2)

	unitRecord := repaired[0]
	assert.Equal(t, models.TargetUnit, unitRecord.TargetType)
	assert.Equal(t, silent.ID, unitRecord.TargetID)
	assert.Equal(t, models.CorrectionOverrideApplied, unitRecord.CorrectionType)
	assert.Equal(t, models.InitiatedBySystem, unitRecord.InitiatedBy)
	assert.False(t, unitRecord.Reversible)
	assert.Equal(t, models.ActionReconcile, unitRecord.Metadata["action"])
	assert.Equal(t, "Silently deprecated", unitRecord.AfterSnapshot["content"])

	reviewRecord := repaired[1]
	assert.Equal(t, models.TargetEntity, reviewRecord.TargetType)
	assert.Equal(t, fx.review.ID, reviewRecord.TargetID)
	assert.Equal(t, string(models.ContradictionDismissed), reviewRecord.AfterSnapshot["status"])

	after, err := env.svc.Reconciler.FindGaps(ctx, env.userID)
	require.NoError(t, err)
	assert.True(t, after.Empty())

	_, again, err := env.svc.Reconciler.Repair(ctx, env.userID)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestAuditReconciler_UsersToCheck(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()

	testutil.CreateUnit(t, env.db, env.userID, "Deprecated", 0.9, datatypes.JSONMap{models.FlagDeprecated: "true"})
	testutil.CreateUnit(t, env.db, env.userID, "Also deprecated", 0.9, datatypes.JSONMap{models.FlagDeprecated: "true"})

	other := &testEnv{db: env.db, userID: uuid.New()}
	fx := newContradiction(t, other, 0.5, 0.5)
	require.NoError(t, env.db.Model(&models.ContradictionReview{}).
		Where("id = ?", fx.review.ID).
		Update("status", models.ContradictionResolved).Error)

	quiet := &testEnv{db: env.db, userID: uuid.New()}
	newContradiction(t, quiet, 0.5, 0.5)

	users, err := env.svc.Reconciler.UsersToCheck(ctx, uuid.Nil, 100)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{env.userID, other.userID}, users)

	first, err := env.svc.Reconciler.UsersToCheck(ctx, uuid.Nil, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := env.svc.Reconciler.UsersToCheck(ctx, first[0], 1)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0], second[0])
	assert.ElementsMatch(t, []uuid.UUID{env.userID, other.userID}, []uuid.UUID{first[0], second[0]})

	rest, err := env.svc.Reconciler.UsersToCheck(ctx, second[0], 1)
	require.NoError(t, err)
	assert.Empty(t, rest)
}

func TestAuditReconciler_UsersToCheckPagesInIDOrder(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()

	var expected []uuid.UUID
	for i := 0; i < 7; i++ {
		userID := uuid.New()
		expected = append(expected, userID)
		testutil.CreateUnit(t, env.db, userID, "Deprecated", 0.9, datatypes.JSONMap{models.FlagDeprecated: "true"})
	}

	var seen []uuid.UUID
	var cursor uuid.UUID
	for page := 0; page < 10; page++ {
		users, err := env.svc.Reconciler.UsersToCheck(ctx, cursor, 3)
		require.NoError(t, err)
		seen = append(seen, users...)
		if len(users) < 3 {
			break
		}
		cursor = users[len(users)-1]
	}

	assert.ElementsMatch(t, expected, seen)
	for i := 1; i < len(seen); i++ {
		assert.Less(t, seen[i-1].String(), seen[i].String())
	}
}

func TestAuditReconciler_ResolvedDeprecationIsAudited(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()

	fx := newContradiction(t, env, 0.8, 0.6)
	_, _, err := env.svc.Contradictions.Resolve(ctx, env.userID, fx.review.ID, models.ResolveDeprecateUnitA, nil)
	require.NoError(t, err)
	deprecated := loadUnit(t, env.db, fx.unitA.ID)
	require.True(t, deprecated.Flags().Deprecated)

	other := newContradiction(t, env, 0.8, 0.6)
	_, _, err = env.svc.Contradictions.Resolve(ctx, env.userID, other.review.ID, models.ResolveDeprecateUnitB, nil)
	require.NoError(t, err)

	report, err := env.svc.Reconciler.FindGaps(ctx, env.userID)
	require.NoError(t, err)
	assert.True(t, report.Empty(), "units: %v contradictions: %v", report.UnitIDs, report.ContradictionIDs)

	_, repaired, err := env.svc.Reconciler.Repair(ctx, env.userID)
	require.NoError(t, err)
	assert.Empty(t, repaired)
}

func TestAuditReconciler_OtherUnitOfResolvedReviewStillChecked(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()

	fx := newContradiction(t, env, 0.8, 0.6)
	_, _, err := env.svc.Contradictions.Resolve(ctx, env.userID, fx.review.ID, models.ResolveDeprecateUnitA, nil)
	require.NoError(t, err)

	// unit B was not touched by the resolution; flagging it outside the ledger is a gap
	require.NoError(t, env.db.Model(&models.KnowledgeUnit{}).
		Where("id = ?", fx.unitB.ID).
		Update("metadata", datatypes.JSONMap{models.FlagDeprecated: "true"}).Error)

	report, err := env.svc.Reconciler.FindGaps(ctx, env.userID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{fx.unitB.ID}, report.UnitIDs)
}
