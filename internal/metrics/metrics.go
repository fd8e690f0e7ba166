package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	reserveOutcomes    *prometheus.CounterVec
	holdTransitions    *prometheus.CounterVec
	expiredHolds       prometheus.Counter
	sweepDuration      prometheus.Histogram
	notifierDeliveries *prometheus.CounterVec
	notifierDropped    prometheus.Counter
	cacheLookups       *prometheus.CounterVec
}

// New registers the collectors on reg under namespace.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		reserveOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reserve_total",
			Help:      "Reserve calls by module type and outcome.",
		}, []string{"module", "outcome"}),
		holdTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hold_transitions_total",
			Help:      "Committed hold transitions by module type and kind.",
		}, []string{"module", "kind"}),
		expiredHolds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_holds_total",
			Help:      "Holds expired by the sweeper.",
		}),
		sweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of expiry sweeps.",
			Buckets:   prometheus.DefBuckets,
		}),
		notifierDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifier_deliveries_total",
			Help:      "Change event deliveries by sink and result.",
		}, []string{"sink", "result"}),
		notifierDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifier_dropped_total",
			Help:      "Change events dropped because the notifier queue was full.",
		}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "view_cache_lookups_total",
			Help:      "Read view cache lookups by view and result.",
		}, []string{"view", "result"}),
	}
}

func (m *Metrics) ObserveReserve(module, outcome string) {
	if m == nil {
		return
	}
	m.reserveOutcomes.WithLabelValues(module, outcome).Inc()
}

func (m *Metrics) ObserveTransition(module, kind string) {
	if m == nil {
		return
	}
	m.holdTransitions.WithLabelValues(module, kind).Inc()
}

func (m *Metrics) ObserveSweep(expired int, took time.Duration) {
	if m == nil {
		return
	}
	m.expiredHolds.Add(float64(expired))
	m.sweepDuration.Observe(took.Seconds())
}

func (m *Metrics) ObserveDelivery(sink string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.notifierDeliveries.WithLabelValues(sink, result).Inc()
}

func (m *Metrics) ObserveDrop() {
	if m == nil {
		return
	}
	m.notifierDropped.Inc()
}

func (m *Metrics) ObserveCacheLookup(view string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(view, result).Inc()
}
