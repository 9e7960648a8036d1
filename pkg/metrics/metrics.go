package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Dispense path
	DispenseRequests *prometheus.CounterVec // outcome: dispensed|insufficient_stock|tampered|chain_unreachable|blocked|error
	DispenseLatency  prometheus.Histogram
	StockDeductions  prometheus.Counter
	StockRollbacks   prometheus.Counter
	RollbackFailures prometheus.Counter

	// Merkle / anchoring
	AnchorAttempts    *prometheus.CounterVec // status: success|error
	AnchorLatency     prometheus.Histogram
	TamperDetections  prometheus.Counter
	ChainUnreachable  prometheus.Counter
	ActiveBatchGauge  prometheus.Gauge

	// Reconciliation
	ReconcileEvents  *prometheus.CounterVec // result: inserted|updated|skipped|errored
	ReconcileRuns    *prometheus.CounterVec // status: success|error
	ReconcileLatency prometheus.Histogram

	// Expiry sweeps
	ExpiredBatches       prometheus.Counter
	ExpiredPrescriptions prometheus.Counter

	// Outbox publication
	OutboxEventsProcessed prometheus.Counter
	OutboxEventsFailed    prometheus.Counter

	// Database
	DatabaseOperations *prometheus.CounterVec // operation, status
}

// NewMetrics creates all application metrics on the default registry.
func NewMetrics(namespace, subsystem string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace, subsystem)
}

// NewMetricsWith registers on an explicit registerer. Tests pass a fresh
// registry so repeated construction never collides.
func NewMetricsWith(reg prometheus.Registerer, namespace, subsystem string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DispenseRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dispense_requests_total",
			Help:      "Total dispense requests by outcome",
		}, []string{"outcome"}),
		DispenseLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dispense_duration_seconds",
			Help:      "Time spent on the full dispense flow including anchoring",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		StockDeductions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stock_deductions_total",
			Help:      "Total committed multi-batch stock deductions",
		}),
		StockRollbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stock_rollbacks_total",
			Help:      "Total deduction journals replayed in reverse",
		}),
		RollbackFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stock_rollback_failures_total",
			Help:      "Journal reversals that themselves failed; requires manual reconciliation",
		}),
		AnchorAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "anchor_attempts_total",
			Help:      "Inventory root anchoring attempts by status",
		}, []string{"status"}),
		AnchorLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "anchor_duration_seconds",
			Help:      "Time spent anchoring the inventory root to the external ledger",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		TamperDetections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tamper_detections_total",
			Help:      "Local/anchored inventory root mismatches",
		}),
		ChainUnreachable: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "chain_unreachable_total",
			Help:      "External ledger connectivity failures",
		}),
		ActiveBatchGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active_batches",
			Help:      "Active batch count in the last computed inventory snapshot",
		}),
		ReconcileEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reconcile_events_total",
			Help:      "Reconciled chain events by result",
		}, []string{"result"}),
		ReconcileRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reconcile_runs_total",
			Help:      "Reconciliation passes by status",
		}, []string{"status"}),
		ReconcileLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reconcile_duration_seconds",
			Help:      "Time spent replaying a chain event range",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		ExpiredBatches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "expired_batches_total",
			Help:      "Batches flipped to EXPIRED by the sweep",
		}),
		ExpiredPrescriptions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "expired_prescriptions_total",
			Help:      "Prescriptions transitioned to EXPIRED by the sweep",
		}),
		OutboxEventsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "outbox_events_processed_total",
			Help:      "Ledger events published from the outbox",
		}),
		OutboxEventsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "outbox_events_failed_total",
			Help:      "Ledger events that failed to publish",
		}),
		DatabaseOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
	}
}
