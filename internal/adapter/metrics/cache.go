package metrics

import "github.com/prometheus/client_golang/prometheus"

// CacheMetrics holds Prometheus metrics for the category name cache.
type CacheMetrics struct {
	Hits    *prometheus.CounterVec
	Misses  *prometheus.CounterVec
	Evicted prometheus.Counter
}

// NewCacheMetrics creates and registers cache metrics on the given registry.
func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	m := &CacheMetrics{
		Hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "category_cache",
			Name:      "hits_total",
			Help:      "Total number of category cache hits, by layer.",
		}, []string{"layer"}),
		Misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "category_cache",
			Name:      "misses_total",
			Help:      "Total number of category cache misses, by layer.",
		}, []string{"layer"}),
		Evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "category_cache",
			Name:      "evicted_total",
			Help:      "Total number of expired in-memory entries evicted.",
		}),
	}

	reg.MustRegister(m.Hits, m.Misses, m.Evicted)
	return m
}
