// Package metrics provides Prometheus metrics for the ledger services
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation status label values
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// LedgerMetrics contains Prometheus metrics for ledger operations.
// A nil *LedgerMetrics is valid and records nothing.
type LedgerMetrics struct {
	correctionsRecorded     *prometheus.CounterVec
	unitLifecycle           *prometheus.CounterVec
	contradictionTransition *prometheus.CounterVec
	dashboardReadFailures   *prometheus.CounterVec
	operationDuration       *prometheus.HistogramVec

	collectors []prometheus.Collector
}

// NewLedgerMetrics creates ledger metrics and registers them on registry
func NewLedgerMetrics(registry prometheus.Registerer) (*LedgerMetrics, error) {
	m := &LedgerMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *LedgerMetrics) initMetrics() {
	m.correctionsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_corrections_recorded_total",
			Help: "Total number of correction records appended to the ledger",
		},
		[]string{"correction_type", "target_type"},
	)

	m.unitLifecycle = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_unit_lifecycle_total",
			Help: "Total number of prune, restore and correct operations on knowledge units",
		},
		[]string{"action", "status"},
	)

	m.contradictionTransition = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_contradiction_transitions_total",
			Help: "Total number of contradiction review transitions by action",
		},
		[]string{"action", "status"},
	)

	m.dashboardReadFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_dashboard_read_failures_total",
			Help: "Total number of dashboard sub-lists that degraded to empty because of a read failure",
		},
		[]string{"list"},
	)

	m.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_operation_duration_seconds",
			Help:    "Time taken by ledger operations",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		},
		[]string{"operation"},
	)

	m.collectors = []prometheus.Collector{
		m.correctionsRecorded,
		m.unitLifecycle,
		m.contradictionTransition,
		m.dashboardReadFailures,
		m.operationDuration,
	}
}

// Describe implements prometheus.Collector
func (m *LedgerMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector
func (m *LedgerMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

// RecordCorrection counts one appended correction record
func (m *LedgerMetrics) RecordCorrection(correctionType, targetType string) {
	if m == nil {
		return
	}
	m.correctionsRecorded.WithLabelValues(correctionType, targetType).Inc()
}

// RecordUnitLifecycle counts one prune/restore/correct attempt
func (m *LedgerMetrics) RecordUnitLifecycle(action string, err error) {
	if m == nil {
		return
	}
	m.unitLifecycle.WithLabelValues(action, statusOf(err)).Inc()
}

// RecordContradictionTransition counts one resolve/dismiss attempt
func (m *LedgerMetrics) RecordContradictionTransition(action string, err error) {
	if m == nil {
		return
	}
	m.contradictionTransition.WithLabelValues(action, statusOf(err)).Inc()
}

// RecordDashboardReadFailure counts a degraded dashboard sub-list
func (m *LedgerMetrics) RecordDashboardReadFailure(list string) {
	if m == nil {
		return
	}
	m.dashboardReadFailures.WithLabelValues(list).Inc()
}

// ObserveDuration records how long operation took since start
func (m *LedgerMetrics) ObserveDuration(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func statusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}
