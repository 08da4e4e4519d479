// Package metrics registers the Prometheus metrics for the streamd engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the fan-out engine.
type Metrics struct {
	UpdatesMerged   *prometheus.CounterVec // labels: interval
	StaleUpdates    prometheus.Counter
	ComputeDur      prometheus.Histogram
	PayloadsFanout  prometheus.Counter
	SubscriberDrops *prometheus.CounterVec // labels: reason=overflow|send_error
	ActiveSubs      prometheus.Gauge
	ActiveKeys      prometheus.Gauge
	FeedReconnects  prometheus.Counter
	StreamReopens   prometheus.Counter
	SeedFailures    prometheus.Counter
	TickerEvents    prometheus.Counter
}

// New registers and returns all metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UpdatesMerged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamd_updates_merged_total",
			Help: "Candle updates merged into a window (by interval)",
		}, []string{"interval"}),
		StaleUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamd_stale_updates_total",
			Help: "Candle updates discarded as stale or duplicate",
		}),
		ComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamd_indicator_compute_duration_seconds",
			Help:    "Indicator pipeline compute latency per changed window",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
		PayloadsFanout: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamd_payloads_fanout_total",
			Help: "Computed payloads delivered to subscribers",
		}),
		SubscriberDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamd_subscriber_drops_total",
			Help: "Payloads dropped per subscriber (by reason)",
		}, []string{"reason"}),
		ActiveSubs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamd_active_subscribers",
			Help: "Currently registered subscribers",
		}),
		ActiveKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamd_active_keys",
			Help: "Keys with an open upstream feed",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamd_feed_reconnects_total",
			Help: "Adapter-level socket reconnect attempts",
		}),
		StreamReopens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamd_stream_reopens_total",
			Help: "Dispatcher stream reopens after the adapter gave up",
		}),
		SeedFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamd_seed_failures_total",
			Help: "History seed fetches that failed after retry",
		}),
		TickerEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamd_ticker_events_total",
			Help: "Normalized ticker events fanned out",
		}),
	}

	reg.MustRegister(
		m.UpdatesMerged, m.StaleUpdates, m.ComputeDur, m.PayloadsFanout,
		m.SubscriberDrops, m.ActiveSubs, m.ActiveKeys, m.FeedReconnects,
		m.StreamReopens, m.SeedFailures, m.TickerEvents,
	)
	return m
}

// NewNop returns metrics backed by a throwaway registry, for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
