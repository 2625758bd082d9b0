package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/jlevesy/chaosgcp/metrics"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	m.ObservePoll("extended")
	m.ObservePoll("extended")
	m.ObserveTimeout("container", "fail")
	m.ObserveWait("extended", 3*time.Second)
	m.ObserveFaultPolicyChange("delay")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OperationPollsTotal.WithLabelValues("extended")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationTimeoutsTotal.WithLabelValues("container", "fail")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FaultPolicyChangesTotal.WithLabelValues("delay")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.OperationWaitDuration))
}

func TestMetrics_Nil(t *testing.T) {
	var m *metrics.Metrics

	assert.NotPanics(t, func() {
		m.ObservePoll("discovery")
		m.ObserveTimeout("discovery", "none")
		m.ObserveWait("discovery", time.Second)
		m.ObserveFaultPolicyChange("remove")
	})
}
