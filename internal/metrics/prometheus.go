package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps the Prometheus collectors exported alongside the
// in-process counters in metrics.go.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	executionsTotal    *prometheus.CounterVec
	coldStartsTotal    prometheus.Counter
	warmStartsTotal    prometheus.Counter
	executionDuration  *prometheus.HistogramVec
	poolIdleContainers *prometheus.GaugeVec
}

var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

var promMetrics *PrometheusMetrics

// InitPrometheus creates the registry and registers every collector. Safe to
// call once at startup; RecordExecution no-ops on the Prometheus side until
// this has run.
func InitPrometheus(namespace string) *PrometheusMetrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,
		executionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Total number of function executions by status",
		}, []string{"function", "runtime", "status"}),
		coldStartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cold_starts_total",
			Help:      "Total number of cold-start executions",
		}),
		warmStartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warm_starts_total",
			Help:      "Total number of warm-start executions",
		}),
		executionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_ms",
			Help:      "Execution total time in milliseconds",
			Buckets:   defaultBuckets,
		}, []string{"function", "runtime"}),
		poolIdleContainers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_idle_containers",
			Help:      "Idle containers currently held by the warm pool, per bucket",
		}, []string{"language", "runtime"}),
	}

	registry.MustRegister(pm.executionsTotal, pm.coldStartsTotal, pm.warmStartsTotal, pm.executionDuration, pm.poolIdleContainers)
	promMetrics = pm
	return pm
}

func recordPrometheusExecution(function, runtime, status string, durationMs int64, coldStart bool) {
	if promMetrics == nil {
		return
	}
	promMetrics.executionsTotal.WithLabelValues(function, runtime, status).Inc()
	promMetrics.executionDuration.WithLabelValues(function, runtime).Observe(float64(durationMs))
	if coldStart {
		promMetrics.coldStartsTotal.Inc()
	} else {
		promMetrics.warmStartsTotal.Inc()
	}
}

// SetPoolIdleGauge updates the per-bucket idle-container gauge; the pool
// calls it on every checkout, replenishment, and idle sweep.
func SetPoolIdleGauge(language, runtime string, count int) {
	if promMetrics == nil {
		return
	}
	promMetrics.poolIdleContainers.WithLabelValues(language, runtime).Set(float64(count))
}

// Handler returns the Prometheus scrape endpoint handler, or nil if
// InitPrometheus has not been called.
func Handler() http.Handler {
	if promMetrics == nil {
		return nil
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}
