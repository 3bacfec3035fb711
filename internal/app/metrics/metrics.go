package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "flowmesh",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowmesh",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flowmesh",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	workflowRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowmesh",
			Subsystem: "engine",
			Name:      "runs_total",
			Help:      "Total number of workflow runs.",
		},
		[]string{"status"},
	)

	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flowmesh",
			Subsystem: "engine",
			Name:      "run_duration_seconds",
			Help:      "Duration of workflow runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"status"},
	)

	nodeExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowmesh",
			Subsystem: "nodes",
			Name:      "executions_total",
			Help:      "Total number of node handler invocations.",
		},
		[]string{"type", "status"},
	)

	nodeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flowmesh",
			Subsystem: "nodes",
			Name:      "execution_duration_seconds",
			Help:      "Duration of node handler invocations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"type"},
	)

	schedulerFirings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowmesh",
			Subsystem: "scheduler",
			Name:      "firings_total",
			Help:      "Total number of scheduled workflow firings.",
		},
		[]string{"workflow_id", "success"},
	)

	webhookRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowmesh",
			Subsystem: "webhooks",
			Name:      "requests_total",
			Help:      "Total number of inbound webhook requests.",
		},
		[]string{"matched"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		workflowRuns,
		runDuration,
		nodeExecutions,
		nodeDuration,
		schedulerFirings,
		webhookRequests,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordRun records metrics for one finished workflow run.
func RecordRun(status string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	workflowRuns.WithLabelValues(status).Inc()
	runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordNodeExecution records metrics for one node handler invocation.
func RecordNodeExecution(nodeType, status string, duration time.Duration) {
	if nodeType == "" {
		nodeType = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	nodeExecutions.WithLabelValues(nodeType, status).Inc()
	nodeDuration.WithLabelValues(nodeType).Observe(duration.Seconds())
}

// RecordSchedulerFiring records one scheduled firing and its outcome.
func RecordSchedulerFiring(workflowID string, success bool) {
	if workflowID == "" {
		workflowID = "unknown"
	}
	result := "false"
	if success {
		result = "true"
	}
	schedulerFirings.WithLabelValues(workflowID, result).Inc()
}

// RecordWebhookRequest records one inbound webhook lookup.
func RecordWebhookRequest(matched bool) {
	value := "false"
	if matched {
		value = "true"
	}
	webhookRequests.WithLabelValues(value).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "webhooks":
		return "/webhooks"
	case "workflows":
		if len(parts) == 1 {
			return "/workflows"
		}
		if len(parts) == 2 {
			return "/workflows/:id"
		}
		return "/workflows/:id/" + parts[2]
	case "executions":
		if len(parts) == 1 {
			return "/executions"
		}
		return "/executions/:id"
	default:
		return "/" + parts[0]
	}
}
