package services

import (
	"context"
	"testing"

	"memoir-ledger/internal/apperrors"
	"memoir-ledger/internal/models"
	"memoir-ledger/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func loadUnit(t *testing.T, db *gorm.DB, id uuid.UUID) models.KnowledgeUnit {
	t.Helper()
	var unit models.KnowledgeUnit
	require.NoError(t, db.First(&unit, "id = ?", id).Error)
	return unit
}

func countRows(t *testing.T, db *gorm.DB, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(model).Where(query, args...).Count(&count).Error)
	return count
}

func TestDeprecationLifecycle_PruneDetachesAndAudits(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()

	unit := testutil.CreateUnit(t, env.db, env.userID, "Met Sam at the lake", 0.9, datatypes.JSONMap{})
	eventID := testutil.LinkEvent(t, env.db, env.userID, unit.ID)
	testutil.LinkEntity(t, env.db, env.userID, unit.ID)

	record, err := env.svc.Deprecation.Prune(ctx, env.userID, unit.ID, "duplicate entry")
	require.NoError(t, err)

	stored := loadUnit(t, env.db, unit.ID)
	assert.Equal(t, "Met Sam at the lake", stored.Content)
	assert.InDelta(t, 0.9, stored.Confidence, 1e-9)
	assert.Equal(t, "true", stored.Metadata[models.FlagDeprecated])
	assert.Equal(t, "true", stored.Metadata[models.FlagPruned])
	assert.Equal(t, "duplicate entry", stored.Metadata[models.FlagPruneReason])
	assert.NotEmpty(t, stored.Metadata[models.FlagPrunedAt])

	assert.Zero(t, countRows(t, env.db, &models.EventUnitLink{}, "event_id = ? AND unit_id = ?", eventID, unit.ID))
	assert.Zero(t, countRows(t, env.db, &models.EntityUnitLink{}, "unit_id = ?", unit.ID))

	records := env.svc.Corrections.ListForUser(ctx, env.userID, 0)
	require.Len(t, records, 1)
	got := records[0]
	assert.Equal(t, record.ID, got.ID)
	assert.Equal(t, models.TargetUnit, got.TargetType)
	assert.Equal(t, unit.ID, got.TargetID)
	assert.Equal(t, models.CorrectionUser, got.CorrectionType)
	assert.Equal(t, models.InitiatedByUser, got.InitiatedBy)
	assert.True(t, got.Reversible)
	assert.Equal(t, models.ActionPrune, got.Metadata["action"])
	assert.Equal(t, SnapshotStatusPruned, got.AfterSnapshot["status"])
	assert.Equal(t, "duplicate entry", got.AfterSnapshot["prunedReason"])
	assert.Equal(t, "Met Sam at the lake", got.BeforeSnapshot["content"])
	require.NotNil(t, got.Reason)
	assert.Equal(t, "duplicate entry", *got.Reason)
}

func TestDeprecationLifecycle_PruneMergesMetadata(t *testing.T) {
	env := setupServices(t)

	unit := testutil.CreateUnit(t, env.db, env.userID, "Moved to Leeds", 0.7, datatypes.JSONMap{
		models.FlagManuallyCorrected: "true",
		"source":                     "voice",
	})

	_, err := env.svc.Deprecation.Prune(context.Background(), env.userID, unit.ID, "wrong city")
	require.NoError(t, err)

	stored := loadUnit(t, env.db, unit.ID)
	assert.Equal(t, "true", stored.Metadata[models.FlagManuallyCorrected])
	assert.Equal(t, "voice", stored.Metadata["source"])
	assert.Equal(t, "true", stored.Metadata[models.FlagDeprecated])
}

func TestDeprecationLifecycle_RestoreDoesNotRelink(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()

	unit := testutil.CreateUnit(t, env.db, env.userID, "Adopted a cat", 0.8, nil)
	testutil.LinkEvent(t, env.db, env.userID, unit.ID)
	testutil.LinkEntity(t, env.db, env.userID, unit.ID)

	_, err := env.svc.Deprecation.Prune(ctx, env.userID, unit.ID, "not mine")
	require.NoError(t, err)
	record, err := env.svc.Deprecation.Restore(ctx, env.userID, unit.ID)
	require.NoError(t, err)

	stored := loadUnit(t, env.db, unit.ID)
	assert.Equal(t, "false", stored.Metadata[models.FlagDeprecated])
	assert.Equal(t, "false", stored.Metadata[models.FlagPruned])
	assert.NotEmpty(t, stored.Metadata[models.FlagRestoredAt])
	assert.Equal(t, "not mine", stored.Metadata[models.FlagPruneReason], "prune breadcrumbs are kept")

	assert.Zero(t, countRows(t, env.db, &models.EventUnitLink{}, "unit_id = ?", unit.ID))
	assert.Zero(t, countRows(t, env.db, &models.EntityUnitLink{}, "unit_id = ?", unit.ID))

	assert.Equal(t, SnapshotStatusRestored, record.AfterSnapshot["status"])
	assert.Equal(t, models.ActionRestore, record.Metadata["action"])
	assert.Equal(t, "true", record.BeforeSnapshot["metadata"].(map[string]interface{})[models.FlagDeprecated])

	history := env.svc.Corrections.ListForTarget(ctx, env.userID, models.TargetUnit, unit.ID, 0)
	require.Len(t, history, 2)
	assert.Equal(t, models.ActionRestore, history[0].Metadata["action"])
	assert.Equal(t, models.ActionPrune, history[1].Metadata["action"])

	views, err := env.svc.Deprecation.List(ctx, env.userID, 0)
	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestDeprecationLifecycle_ForeignOrMissingUnit(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()

	foreign := testutil.CreateUnit(t, env.db, uuid.New(), "Someone else's memory", 0.5, nil)

	_, err := env.svc.Deprecation.Prune(ctx, env.userID, foreign.ID, "spam")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = env.svc.Deprecation.Restore(ctx, env.userID, foreign.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = env.svc.Deprecation.Correct(ctx, env.userID, foreign.ID, "edited", "")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = env.svc.Deprecation.Prune(ctx, env.userID, uuid.New(), "spam")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	stored := loadUnit(t, env.db, foreign.ID)
	assert.Empty(t, stored.Metadata)
	assert.Zero(t, countRows(t, env.db, &models.CorrectionRecord{}, "1 = 1"))
}

func TestDeprecationLifecycle_PruneRequiresReason(t *testing.T) {
	env := setupServices(t)
	unit := testutil.CreateUnit(t, env.db, env.userID, "Started running", 0.6, nil)

	_, err := env.svc.Deprecation.Prune(context.Background(), env.userID, unit.ID, "   ")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	stored := loadUnit(t, env.db, unit.ID)
	assert.NotContains(t, stored.Metadata, models.FlagDeprecated)
}

func TestDeprecationLifecycle_PruneRollsBackWhenDetachFails(t *testing.T) {
	env := setupServices(t)
	unit := testutil.CreateUnit(t, env.db, env.userID, "Visited Oslo", 0.9, nil)
	testutil.LinkEvent(t, env.db, env.userID, unit.ID)
	require.NoError(t, env.db.Migrator().DropTable(&models.EntityUnitLink{}))

	_, err := env.svc.Deprecation.Prune(context.Background(), env.userID, unit.ID, "duplicate entry")
	assert.ErrorIs(t, err, apperrors.ErrStorage)

	stored := loadUnit(t, env.db, unit.ID)
	assert.NotContains(t, stored.Metadata, models.FlagDeprecated)
	assert.Equal(t, int64(1), countRows(t, env.db, &models.EventUnitLink{}, "unit_id = ?", unit.ID))
	assert.Zero(t, countRows(t, env.db, &models.CorrectionRecord{}, "1 = 1"))
}

func TestDeprecationLifecycle_PruneRollsBackWhenAuditFails(t *testing.T) {
	env := setupServices(t)
	unit := testutil.CreateUnit(t, env.db, env.userID, "Visited Oslo", 0.9, nil)
	testutil.LinkEvent(t, env.db, env.userID, unit.ID)
	require.NoError(t, env.db.Migrator().DropTable(&models.CorrectionRecord{}))

	_, err := env.svc.Deprecation.Prune(context.Background(), env.userID, unit.ID, "duplicate entry")
	assert.ErrorIs(t, err, apperrors.ErrStorage)

	stored := loadUnit(t, env.db, unit.ID)
	assert.NotContains(t, stored.Metadata, models.FlagDeprecated)
	assert.Equal(t, int64(1), countRows(t, env.db, &models.EventUnitLink{}, "unit_id = ?", unit.ID))
}

func TestDeprecationLifecycle_List(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()

	utterance := &models.Utterance{
		UserID:           env.userID,
		Content:          "We drove up to the lake on Sunday",
		SourceMessageIDs: models.MessageIDs{"msg-1", "msg-2"},
	}
	require.NoError(t, env.db.Create(utterance).Error)

	withSource := &models.KnowledgeUnit{
		UserID:      env.userID,
		UtteranceID: &utterance.ID,
		UnitType:    "FACT",
		Content:     "Drove to the lake",
		Confidence:  0.8,
	}
	require.NoError(t, env.db.Create(withSource).Error)
	orphan := testutil.CreateUnit(t, env.db, env.userID, "Bought a boat", 0.4, nil)
	active := testutil.CreateUnit(t, env.db, env.userID, "Owns a car", 0.9, nil)
	testutil.CreateUnit(t, env.db, uuid.New(), "Other user", 0.9, datatypes.JSONMap{models.FlagDeprecated: "true"})

	_, err := env.svc.Deprecation.Prune(ctx, env.userID, withSource.ID, "wrong day")
	require.NoError(t, err)
	_, err = env.svc.Deprecation.Prune(ctx, env.userID, orphan.ID, "never happened")
	require.NoError(t, err)

	// links added after pruning, e.g. by a later pipeline pass
	eventID := testutil.LinkEvent(t, env.db, env.userID, orphan.ID)

	views, err := env.svc.Deprecation.List(ctx, env.userID, 0)
	require.NoError(t, err)
	require.Len(t, views, 2)

	assert.Equal(t, orphan.ID, views[0].ID, "most recently updated first")
	assert.Equal(t, []uuid.UUID{eventID}, views[0].LinkedEventIDs)
	assert.Equal(t, []string{}, views[0].SourceMessageIDs)
	assert.True(t, views[0].FlagSet.Pruned)
	assert.Equal(t, "never happened", views[0].FlagSet.PruneReason)

	assert.Equal(t, withSource.ID, views[1].ID)
	assert.Equal(t, []uuid.UUID{}, views[1].LinkedEventIDs)
	assert.Equal(t, []string{"msg-1", "msg-2"}, views[1].SourceMessageIDs)

	for _, v := range views {
		assert.NotEqual(t, active.ID, v.ID)
	}

	limited, err := env.svc.Deprecation.List(ctx, env.userID, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestDeprecationLifecycle_ListWithoutLinkTables(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()

	unit := testutil.CreateUnit(t, env.db, env.userID, "Learned to swim", 0.9, nil)
	_, err := env.svc.Deprecation.Prune(ctx, env.userID, unit.ID, "duplicate entry")
	require.NoError(t, err)
	require.NoError(t, env.db.Migrator().DropTable(&models.EventUnitLink{}))

	views, err := env.svc.Deprecation.List(ctx, env.userID, 0)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, []uuid.UUID{}, views[0].LinkedEventIDs)
}

func TestDeprecationLifecycle_Correct(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()

	unit := testutil.CreateUnit(t, env.db, env.userID, "Sister is called Ana", 0.6, datatypes.JSONMap{"source": "chat"})

	record, err := env.svc.Deprecation.Correct(ctx, env.userID, unit.ID, "  Sister is called Anna ", "typo")
	require.NoError(t, err)

	stored := loadUnit(t, env.db, unit.ID)
	assert.Equal(t, "Sister is called Anna", stored.Content)
	assert.Equal(t, "true", stored.Metadata[models.FlagManuallyCorrected])
	assert.Equal(t, "chat", stored.Metadata["source"])

	assert.Equal(t, models.ActionCorrect, record.Metadata["action"])
	assert.Equal(t, SnapshotStatusCorrected, record.AfterSnapshot["status"])
	assert.Equal(t, "Sister is called Anna", record.AfterSnapshot["content"])
	assert.Equal(t, "Sister is called Ana", record.BeforeSnapshot["content"])
	require.NotNil(t, record.Reason)
	assert.Equal(t, "typo", *record.Reason)

	_, err = env.svc.Deprecation.Correct(ctx, env.userID, unit.ID, "", "")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
