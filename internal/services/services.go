package services

import (
	"memoir-ledger/internal/metrics"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Services bundles the ledger services so that every writer shares one
// per-target lock table
type Services struct {
	Corrections    *CorrectionLedger
	Deprecation    *DeprecationLifecycle
	Contradictions *ContradictionResolutionEngine
	Dashboard      *DashboardAggregator
	Reconciler     *AuditReconciler
}

// New wires the ledger services on db. m may be nil.
func New(db *gorm.DB, logger *zap.Logger, m *metrics.LedgerMetrics) *Services {
	locks := newKeyedLocker()

	ledger := NewCorrectionLedger(db, logger, m)

	deprecation := NewDeprecationLifecycle(db, ledger, logger, m)
	deprecation.locks = locks

	contradictions := NewContradictionResolutionEngine(db, ledger, logger, m)
	contradictions.locks = locks

	reconciler := NewAuditReconciler(db, ledger, logger)
	reconciler.locks = locks

	return &Services{
		Corrections:    ledger,
		Deprecation:    deprecation,
		Contradictions: contradictions,
		Dashboard:      NewDashboardAggregator(ledger, deprecation, contradictions, logger, m),
		Reconciler:     reconciler,
	}
}
