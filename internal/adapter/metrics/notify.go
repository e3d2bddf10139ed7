package metrics

import "github.com/prometheus/client_golang/prometheus"

// NotifyMetrics holds Prometheus metrics for outbound Discord notifications.
type NotifyMetrics struct {
	Sent     *prometheus.CounterVec
	Dropped  prometheus.Counter
	Duration prometheus.Histogram
}

// NewNotifyMetrics creates and registers notification metrics on the given registry.
func NewNotifyMetrics(reg prometheus.Registerer) *NotifyMetrics {
	m := &NotifyMetrics{
		Sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Total number of notification deliveries, by kind and result.",
		}, []string{"kind", "result"}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "dropped_total",
			Help:      "Total number of notifications dropped because the queue was full.",
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "delivery_duration_seconds",
			Help:      "Duration of webhook POST requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(m.Sent, m.Dropped, m.Duration)
	return m
}
