package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveSettlement("aix", "wager", "ok")
		m.ObserveWalletCall("Wager", "OK", time.Millisecond)
		m.ObserveWalletStatus("Wager", "3001")
		m.ObserveDivergence("aix")
		m.ObserveReconcile(3, nil)
	})
}

func TestObserve(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveSettlement("aix", "wager", "ok")
	m.ObserveSettlement("aix", "wager", "ok")
	m.ObserveDivergence("gs5")
	m.ObserveReconcile(2, nil)
	m.ObserveReconcile(0, errors.New("db down"))

	assert.Equal(t, float64(2), testutil.ToFloat64(m.settlementOutcomes.WithLabelValues("aix", "wager", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.divergences.WithLabelValues("gs5")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.reconciledTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.reconcileRuns.WithLabelValues("error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.reconcileRuns.WithLabelValues("success")))
}
