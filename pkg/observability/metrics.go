package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics for the engine and its HTTP surface.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	DecisionsTotal     *prometheus.CounterVec
	EvaluationDuration *prometheus.HistogramVec
	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
	ConditionErrors    prometheus.Counter
	AuditDropped       prometheus.Counter
}

// NewMetrics returns a new registered set of Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"code", "method", "path"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of latencies for HTTP requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"code", "method", "path"},
		),
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateseal_decisions_total",
				Help: "Authorization decisions by outcome and denial reason.",
			},
			[]string{"outcome", "reason"},
		),
		EvaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateseal_evaluation_duration_seconds",
				Help:    "Histogram of authorization evaluation latencies.",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
			[]string{"cached"},
		),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateseal_decision_cache_hits_total",
			Help: "Decision cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateseal_decision_cache_misses_total",
			Help: "Decision cache misses.",
		}),
		ConditionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateseal_policy_condition_errors_total",
			Help: "Policy conditions that failed to parse or evaluate and were treated as non-matching.",
		}),
		AuditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateseal_audit_dropped_total",
			Help: "Audit records dropped because the buffer was full.",
		}),
	}
	prometheus.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.DecisionsTotal,
		m.EvaluationDuration,
		m.CacheHits,
		m.CacheMisses,
		m.ConditionErrors,
		m.AuditDropped,
	)
	return m
}

// PrometheusMiddleware returns a Gin middleware that records Prometheus metrics for HTTP requests.
func PrometheusMiddleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next() // Process request

		statusCode := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method

		metrics.RequestsTotal.WithLabelValues(statusCode, method, path).Inc()
		metrics.RequestDuration.WithLabelValues(statusCode, method, path).Observe(time.Since(start).Seconds())
	}
}

// PrometheusHandler returns an http.Handler for the Prometheus metrics.
func PrometheusHandler() http.Handler {
	return promhttp.Handler()
}
