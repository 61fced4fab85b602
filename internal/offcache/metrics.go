package offcache

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsSet holds the edge's prometheus collectors on a private
// registry so multiple services (tests) never fight over registration.
type metricsSet struct {
	registry *prometheus.Registry

	hits         *prometheus.CounterVec
	misses       *prometheus.CounterVec
	evictions    prometheus.Counter
	evictedBytes prometheus.Counter
}

func newMetricsSet() *metricsSet {
	m := &metricsSet{
		registry: prometheus.NewRegistry(),
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "offcache_hits_total",
			Help: "Requests answered from a cache bucket.",
		}, []string{"strategy"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "offcache_misses_total",
			Help: "Requests that had to reach the origin or fail.",
		}, []string{"strategy"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "offcache_video_evictions_total",
			Help: "Video entries deleted by the eviction engine.",
		}),
		evictedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "offcache_video_evicted_bytes_total",
			Help: "Bytes reclaimed by video eviction.",
		}),
	}
	m.registry.MustRegister(m.hits, m.misses, m.evictions, m.evictedBytes)
	return m
}

func (m *metricsSet) hit(r route)  { m.hits.WithLabelValues(r.String()).Inc() }
func (m *metricsSet) miss(r route) { m.misses.WithLabelValues(r.String()).Inc() }

func (m *metricsSet) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
