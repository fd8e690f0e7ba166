package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry(), "availability")

	m.ObserveReserve("sale", "ok")
	m.ObserveReserve("sale", "ok")
	m.ObserveReserve("rental", "unavailable")
	m.ObserveDelivery("kafka", nil)
	m.ObserveDelivery("kafka", errors.New("broker down"))
	m.ObserveDrop()
	m.ObserveSweep(3, 20*time.Millisecond)
	m.ObserveCacheLookup("stock", true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.reserveOutcomes.WithLabelValues("sale", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reserveOutcomes.WithLabelValues("rental", "unavailable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifierDeliveries.WithLabelValues("kafka", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifierDropped))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.expiredHolds))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("stock", "hit")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveReserve("sale", "ok")
		m.ObserveTransition("sale", "held")
		m.ObserveSweep(1, time.Second)
		m.ObserveDelivery("hub", nil)
		m.ObserveDrop()
		m.ObserveCacheLookup("slots", false)
	})
}
