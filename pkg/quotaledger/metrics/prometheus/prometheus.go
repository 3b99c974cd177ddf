// Package prommetrics implements the quotaledger.Metrics interface using
// Prometheus.
package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements quotaledger.Metrics using Prometheus.
type Metrics struct {
	chargesTotal          *prometheus.CounterVec
	chargedBytesTotal     prometheus.Counter
	unsatisfiedBytesTotal prometheus.Counter
	noValidGrantsTotal    prometheus.Counter
	grantsCreatedTotal    *prometheus.CounterVec
	grantBytesGranted     *prometheus.CounterVec
	sweepRetiredTotal     prometheus.Counter
	sweepRuns             prometheus.Counter
	billingResetTotal     prometheus.Counter
	billingTicks          prometheus.Counter
	storeOpsDuration      *prometheus.HistogramVec
	storeOpsErrors        *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation registered on
// reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		chargesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "charges_total",
			Help:      "Total number of charge operations.",
		}, []string{"success"}),

		chargedBytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "charged_bytes_total",
			Help:      "Total bytes drawn from grants.",
		}),

		unsatisfiedBytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unsatisfied_bytes_total",
			Help:      "Total bytes dropped because no grant could cover them.",
		}),

		noValidGrantsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "charges_no_valid_grants_total",
			Help:      "Total charges that found no valid grants.",
		}),

		grantsCreatedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grants_created_total",
			Help:      "Total grants created per tier.",
		}, []string{"tier"}),

		grantBytesGranted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grant_bytes_granted_total",
			Help:      "Total capacity granted per tier, in bytes.",
		}, []string{"tier"}),

		sweepRetiredTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_grants_retired_total",
			Help:      "Total grants retired by expiry sweeps.",
		}),

		sweepRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Total expiry sweep executions.",
		}),

		billingResetTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_counters_reset_total",
			Help:      "Total device counters reset by billing-cycle ticks.",
		}),

		billingTicks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_ticks_total",
			Help:      "Total billing-cycle tick executions.",
		}),

		storeOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Latency of store operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storeOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operation_errors_total",
			Help:      "Total store operation errors.",
		}, []string{"operation"}),
	}
}

// RecordCharge implements quotaledger.Metrics.
func (m *Metrics) RecordCharge(subjectID string, chargedBytes, unsatisfiedBytes int64, success bool) {
	m.chargesTotal.WithLabelValues(strconv.FormatBool(success)).Inc()
	if chargedBytes > 0 {
		m.chargedBytesTotal.Add(float64(chargedBytes))
	}
	if unsatisfiedBytes > 0 {
		m.unsatisfiedBytesTotal.Add(float64(unsatisfiedBytes))
	}
}

// RecordNoValidGrants implements quotaledger.Metrics.
func (m *Metrics) RecordNoValidGrants(subjectID string) {
	m.noValidGrantsTotal.Inc()
}

// RecordGrantCreated implements quotaledger.Metrics.
func (m *Metrics) RecordGrantCreated(tier string, byteLimit int64) {
	m.grantsCreatedTotal.WithLabelValues(tier).Inc()
	m.grantBytesGranted.WithLabelValues(tier).Add(float64(byteLimit))
}

// RecordSweep implements quotaledger.Metrics.
func (m *Metrics) RecordSweep(retired int) {
	m.sweepRuns.Inc()
	if retired > 0 {
		m.sweepRetiredTotal.Add(float64(retired))
	}
}

// RecordBillingTick implements quotaledger.Metrics.
func (m *Metrics) RecordBillingTick(reset int) {
	m.billingTicks.Inc()
	if reset > 0 {
		m.billingResetTotal.Add(float64(reset))
	}
}

// RecordStoreOperation implements quotaledger.Metrics.
func (m *Metrics) RecordStoreOperation(operation string, duration time.Duration, err error) {
	m.storeOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storeOpsErrors.WithLabelValues(operation).Inc()
	}
}
