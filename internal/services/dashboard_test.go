package services

import (
	"context"
	"testing"
	"time"

	"memoir-ledger/internal/models"
	"memoir-ledger/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestDashboardAggregator_GetDashboard(t *testing.T) {
	env := setupServices(t)

	a := testutil.CreateUnit(t, env.db, env.userID, "Has two brothers", 0.9, nil)
	b := testutil.CreateUnit(t, env.db, env.userID, "Has one brother", 0.6, nil)
	testutil.CreateUnit(t, env.db, env.userID, "Went to Rome", 0.8, datatypes.JSONMap{models.FlagDeprecated: "true"})

	testutil.CreateContradiction(t, env.db, env.userID, a.ID, b.ID, models.SeverityLow, testEpoch.Add(time.Hour))
	high := testutil.CreateContradiction(t, env.db, env.userID, a.ID, b.ID, models.SeverityHigh, testEpoch)

	dashboard := env.svc.Dashboard.GetDashboard(context.Background(), env.userID)
	require.NotNil(t, dashboard)

	assert.NotNil(t, dashboard.Corrections)
	assert.Empty(t, dashboard.Corrections)
	require.Len(t, dashboard.DeprecatedUnits, 1)
	assert.Equal(t, "Went to Rome", dashboard.DeprecatedUnits[0].Content)
	require.Len(t, dashboard.OpenContradictions, 2)
	assert.Equal(t, high.ID, dashboard.OpenContradictions[0].ID)
	assert.Equal(t, models.SeverityHigh, dashboard.OpenContradictions[0].Severity)
}

func TestDashboardAggregator_ReflectsWrites(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()

	fx := newContradiction(t, env, 0.9, 0.9)
	_, err := env.svc.Deprecation.Prune(ctx, env.userID, fx.unitA.ID, "duplicate entry")
	require.NoError(t, err)
	_, _, err = env.svc.Contradictions.Resolve(ctx, env.userID, fx.review.ID, models.ResolveIgnoreContradiction, nil)
	require.NoError(t, err)

	dashboard := env.svc.Dashboard.GetDashboard(ctx, env.userID)
	require.Len(t, dashboard.Corrections, 2)
	assert.Equal(t, models.TargetEntity, dashboard.Corrections[0].TargetType)
	assert.Equal(t, models.TargetUnit, dashboard.Corrections[1].TargetType)
	require.Len(t, dashboard.DeprecatedUnits, 1)
	assert.Equal(t, fx.unitA.ID, dashboard.DeprecatedUnits[0].ID)
	assert.Empty(t, dashboard.OpenContradictions)

	other := env.svc.Dashboard.GetDashboard(ctx, uuid.New())
	assert.Empty(t, other.Corrections)
	assert.Empty(t, other.DeprecatedUnits)
	assert.Empty(t, other.OpenContradictions)
}

func TestDashboardAggregator_DegradesPerList(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()

	unit := testutil.CreateUnit(t, env.db, env.userID, "Plays piano", 0.9, nil)
	_, err := env.svc.Deprecation.Prune(ctx, env.userID, unit.ID, "duplicate entry")
	require.NoError(t, err)
	require.NoError(t, env.db.Migrator().DropTable(&models.ContradictionReview{}))

	dashboard := env.svc.Dashboard.GetDashboard(ctx, env.userID)
	assert.Len(t, dashboard.Corrections, 1)
	assert.Len(t, dashboard.DeprecatedUnits, 1)
	assert.NotNil(t, dashboard.OpenContradictions)
	assert.Empty(t, dashboard.OpenContradictions)

	require.NoError(t, env.db.Migrator().DropTable(&models.CorrectionRecord{}, &models.KnowledgeUnit{}))
	dashboard = env.svc.Dashboard.GetDashboard(ctx, env.userID)
	assert.Equal(t, []models.CorrectionRecord{}, dashboard.Corrections)
	assert.Equal(t, []models.DeprecatedUnitView{}, dashboard.DeprecatedUnits)
	assert.Equal(t, []models.ContradictionReview{}, dashboard.OpenContradictions)
}
