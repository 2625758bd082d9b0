// Package metrics exposes the Prometheus collectors recorded while running
// activities. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chaosgcp"

// Metrics holds the collectors.
type Metrics struct {
	// OperationPollsTotal counts poll calls issued against long running operations, by kind.
	OperationPollsTotal *prometheus.CounterVec

	// OperationTimeoutsTotal counts waits that reached their timeout, by kind and policy applied.
	OperationTimeoutsTotal *prometheus.CounterVec

	// OperationWaitDuration observes how long a wait lasted, by kind.
	OperationWaitDuration *prometheus.HistogramVec

	// FaultPolicyChangesTotal counts fault injection policy mutations pushed to url maps.
	FaultPolicyChangesTotal *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OperationPollsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operation_polls_total",
				Help:      "Total number of polls issued against long running operations.",
			},
			[]string{"kind"},
		),
		OperationTimeoutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operation_timeouts_total",
				Help:      "Total number of operation waits that timed out.",
			},
			[]string{"kind", "policy"},
		),
		OperationWaitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_wait_duration_seconds",
				Help:      "Time spent waiting on long running operations, in seconds.",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"kind"},
		),
		FaultPolicyChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fault_policy_changes_total",
				Help:      "Total number of fault injection policy changes applied to url maps.",
			},
			[]string{"change"},
		),
	}

	reg.MustRegister(
		m.OperationPollsTotal,
		m.OperationTimeoutsTotal,
		m.OperationWaitDuration,
		m.FaultPolicyChangesTotal,
	)

	return m
}

func (m *Metrics) ObservePoll(kind string) {
	if m == nil {
		return
	}

	m.OperationPollsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveTimeout(kind, policy string) {
	if m == nil {
		return
	}

	m.OperationTimeoutsTotal.WithLabelValues(kind, policy).Inc()
}

func (m *Metrics) ObserveWait(kind string, d time.Duration) {
	if m == nil {
		return
	}

	m.OperationWaitDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) ObserveFaultPolicyChange(change string) {
	if m == nil {
		return
	}

	m.FaultPolicyChangesTotal.WithLabelValues(change).Inc()
}
