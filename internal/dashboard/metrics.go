package dashboard

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for the dashboard engine.
type Metrics struct {
	fetches  *prometheus.CounterVec
	stale    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	sessions prometheus.Gauge
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the dashboard metrics against the provided registerer.
// When the registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// ObserveFetch records one settled fetch on a slot.
func (m *Metrics) ObserveFetch(slot Slot, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.fetches.WithLabelValues(string(slot), status).Inc()
	m.duration.WithLabelValues(string(slot)).Observe(elapsed.Seconds())
}

// AddStaleDrop counts a response discarded because a newer request for the
// same slot had already been issued.
func (m *Metrics) AddStaleDrop(slot Slot) {
	if m == nil {
		return
	}
	m.stale.WithLabelValues(string(slot)).Inc()
}

// SetSessions publishes the number of live dashboard sessions.
func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	fetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmalens_dashboard_fetches_total",
		Help: "Settled aggregation fetches partitioned by slot and status.",
	}, []string{"slot", "status"})
	stale := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmalens_dashboard_stale_drops_total",
		Help: "Responses dropped because a newer request superseded them.",
	}, []string{"slot"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pharmalens_dashboard_fetch_duration_seconds",
		Help:    "Duration in seconds of aggregation fetches.",
		Buckets: prometheus.DefBuckets,
	}, []string{"slot"})
	sessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pharmalens_dashboard_sessions",
		Help: "Live dashboard sessions held in the registry.",
	})
	registerer.MustRegister(fetches, stale, duration, sessions)
	return &Metrics{fetches: fetches, stale: stale, duration: duration, sessions: sessions}
}
