// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rental_finance"

var PaymentsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "payments",
	Name:      "recorded_total",
	Help:      "Payments recorded, by method and whether the idempotency key was replayed.",
}, []string{"method", "replayed"})

var PaymentStatusChanges = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "payments",
	Name:      "status_changes_total",
	Help:      "Payment status transitions applied.",
}, []string{"to"})

var AllocationsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "allocations",
	Name:      "calls_total",
	Help:      "Allocation calls by outcome kind.",
}, []string{"outcome"})

var InstallmentsPaid = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "installments",
	Name:      "paid_total",
	Help:      "Installments that transitioned into PAID.",
})

var InstallmentsGenerated = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "installments",
	Name:      "generated_total",
	Help:      "Installments created by generation and open-ended top-ups.",
})

var PenaltyRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "penalties",
	Name:      "run_duration_seconds",
	Help:      "Wall time of one penalty batch.",
	Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
})

var PenaltiesUpdated = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "penalties",
	Name:      "updated_total",
	Help:      "Installments whose penalty was raised.",
})

var DepositMovements = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "deposits",
	Name:      "movements_total",
	Help:      "Security deposit ledger movements by type.",
}, []string{"type"})

var DocumentsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "documents",
	Name:      "issued_total",
	Help:      "Documents issued by type and render status.",
}, []string{"doc_type", "status"})

var OutboxPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "outbox",
	Name:      "messages_total",
	Help:      "Outbox publish attempts by result.",
}, []string{"result"})

var RateLimited = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "http",
	Name:      "rate_limited_total",
	Help:      "Requests rejected by the per-tenant rate limit.",
})
