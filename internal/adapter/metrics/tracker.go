package metrics

import "github.com/prometheus/client_golang/prometheus"

// TrackerMetrics holds Prometheus metrics for the live-status event pipeline.
type TrackerMetrics struct {
	EventsApplied   *prometheus.CounterVec
	EventsDropped   prometheus.Counter
	QueueDepth      prometheus.Gauge
	ApplyDuration   prometheus.Histogram
	TrackedChannels prometheus.Gauge
	LiveChannels    prometheus.Gauge
}

// NewTrackerMetrics creates and registers tracker metrics on the given registry.
func NewTrackerMetrics(reg prometheus.Registerer) *TrackerMetrics {
	m := &TrackerMetrics{
		EventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "events_total",
			Help:      "Total number of channel events processed, by kind and result.",
		}, []string{"kind", "result"}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "events_dropped_total",
			Help:      "Total number of events rejected because the event queue was full.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "event_queue_depth",
			Help:      "Number of events waiting to be applied.",
		}),
		ApplyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "apply_duration_seconds",
			Help:      "Duration of applying a single event, including persistence.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		TrackedChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "tracked_channels",
			Help:      "Number of channels currently tracked.",
		}),
		LiveChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "live_channels",
			Help:      "Number of tracked channels currently live.",
		}),
	}

	reg.MustRegister(m.EventsApplied, m.EventsDropped, m.QueueDepth, m.ApplyDuration, m.TrackedChannels, m.LiveChannels)
	return m
}
