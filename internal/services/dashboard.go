package services

import (
	"context"

	"memoir-ledger/internal/metrics"
	"memoir-ledger/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Dashboard list names, used in logs and metrics
const (
	listCorrections        = "corrections"
	listDeprecatedUnits    = "deprecatedUnits"
	listOpenContradictions = "openContradictions"
)

// Dashboard is the per-user ledger view. The three lists are read
// independently and may be mutually stale.
type Dashboard struct {
	Corrections        []models.CorrectionRecord    `json:"corrections"`
	DeprecatedUnits    []models.DeprecatedUnitView  `json:"deprecatedUnits"`
	OpenContradictions []models.ContradictionReview `json:"openContradictions"`
}

// DashboardAggregator assembles the dashboard from the other ledger services
type DashboardAggregator struct {
	ledger         *CorrectionLedger
	deprecation    *DeprecationLifecycle
	contradictions *ContradictionResolutionEngine
	logger         *zap.Logger
	metrics        *metrics.LedgerMetrics
}

// NewDashboardAggregator creates the dashboard read service
func NewDashboardAggregator(ledger *CorrectionLedger, deprecation *DeprecationLifecycle, contradictions *ContradictionResolutionEngine, logger *zap.Logger, m *metrics.LedgerMetrics) *DashboardAggregator {
	return &DashboardAggregator{
		ledger:         ledger,
		deprecation:    deprecation,
		contradictions: contradictions,
		logger:         logger.Named("dashboard"),
		metrics:        m,
	}
}

// GetDashboard reads the three lists in parallel. A failing list is logged
// and returned empty; the dashboard itself never fails.
func (a *DashboardAggregator) GetDashboard(ctx context.Context, userID uuid.UUID) *Dashboard {
	dashboard := &Dashboard{
		Corrections:        []models.CorrectionRecord{},
		DeprecatedUnits:    []models.DeprecatedUnitView{},
		OpenContradictions: []models.ContradictionReview{},
	}

	var g errgroup.Group
	g.Go(func() error {
		records, err := a.ledger.listForUser(ctx, userID, DefaultUserCorrectionsLimit)
		if err != nil {
			a.degraded(listCorrections, userID, err)
			return nil
		}
		dashboard.Corrections = records
		return nil
	})
	g.Go(func() error {
		units, err := a.deprecation.List(ctx, userID, DefaultDeprecatedUnitsLimit)
		if err != nil {
			a.degraded(listDeprecatedUnits, userID, err)
			return nil
		}
		dashboard.DeprecatedUnits = units
		return nil
	})
	g.Go(func() error {
		reviews, err := a.contradictions.ListOpen(ctx, userID, DefaultOpenContradictionsLimit)
		if err != nil {
			a.degraded(listOpenContradictions, userID, err)
			return nil
		}
		dashboard.OpenContradictions = reviews
		return nil
	})
	_ = g.Wait()

	return dashboard
}

func (a *DashboardAggregator) degraded(list string, userID uuid.UUID, err error) {
	a.metrics.RecordDashboardReadFailure(list)
	a.logger.Warn("Dashboard list unavailable, returning empty",
		zap.String("list", list),
		zap.String("user_id", userID.String()),
		zap.Error(err))
}
