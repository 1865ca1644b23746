// Package metrics exposes Prometheus counters and histograms for pipeline
// execution: per-stage latency, retry attempts, and terminal outcomes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the registered metric families for one registry.
type Collector struct {
	stageDuration *prometheus.HistogramVec
	retries       *prometheus.CounterVec
	pipelines     *prometheus.CounterVec
}

// NewCollector registers every meshrun metric with registry. A nil registry
// uses prometheus.DefaultRegisterer.
func NewCollector(registry prometheus.Registerer) *Collector {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Collector{
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "meshrun",
			Name:      "stage_duration_ms",
			Help:      "Stage execution duration in milliseconds, by final outcome status",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 30000},
		}, []string{"node_id", "status"}),

		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshrun",
			Name:      "stage_retries_total",
			Help:      "Cumulative retry attempts, by node",
		}, []string{"node_id"}),

		pipelines: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshrun",
			Name:      "pipelines_total",
			Help:      "Completed pipeline runs, by terminal outcome",
		}, []string{"status"}),
	}
}

// ObserveStage records one stage's execution latency and outcome status.
func (c *Collector) ObserveStage(nodeID string, d time.Duration, status string) {
	if c == nil {
		return
	}
	c.stageDuration.WithLabelValues(nodeID, status).Observe(float64(d.Milliseconds()))
}

// AddRetries records n retry attempts for a node.
func (c *Collector) AddRetries(nodeID string, n int) {
	if c == nil {
		return
	}
	c.retries.WithLabelValues(nodeID).Add(float64(n))
}

// IncPipeline records one pipeline's terminal outcome.
func (c *Collector) IncPipeline(status string) {
	if c == nil {
		return
	}
	c.pipelines.WithLabelValues(status).Inc()
}
