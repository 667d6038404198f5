package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hostpilot"

type moduleMetrics struct {
	upstreamCalls    *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	rateLimitRetries *prometheus.CounterVec
	turnsTotal       *prometheus.CounterVec

	runTotal    *prometheus.CounterVec
	runDuration *prometheus.HistogramVec

	toolDispatchTotal    *prometheus.CounterVec
	toolDispatchDuration *prometheus.HistogramVec
	toolErrorsTotal      *prometheus.CounterVec

	sandboxTotal    *prometheus.CounterVec
	sandboxDuration prometheus.Histogram

	contextTrims    prometheus.Counter
	contextDropped  prometheus.Counter
	hostQueueDepth  prometheus.Gauge
	hostInvocations *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			upstreamCalls: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "upstream_calls_total",
					Help:      "Streaming upstream calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			upstreamDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "upstream_call_duration_seconds",
					Help:      "Streaming upstream call duration in seconds by provider.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			rateLimitRetries: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "rate_limit_retries_total",
					Help:      "Backoff retries triggered by rate limiting, by provider.",
				},
				[]string{"provider"},
			),
			turnsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "turns_total",
					Help:      "Completed request/response turns by provider.",
				},
				[]string{"provider"},
			),
			runTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "runs_total",
					Help:      "Orchestration runs by provider and outcome.",
				},
				[]string{"provider", "outcome"},
			),
			runDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "run_duration_seconds",
					Help:      "Orchestration run duration in seconds by provider.",
					Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
				},
				[]string{"provider"},
			),
			toolDispatchTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_dispatch_total",
					Help:      "Tool dispatches by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolDispatchDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "tool_dispatch_duration_seconds",
					Help:      "Tool dispatch duration in seconds by tool.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_errors_total",
					Help:      "Failed tool outcomes by tool.",
				},
				[]string{"tool"},
			),
			sandboxTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "sandbox_executions_total",
					Help:      "Dynamic code executions by outcome.",
				},
				[]string{"outcome"},
			),
			sandboxDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "sandbox_duration_seconds",
					Help:      "Dynamic code compile and execute duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			contextTrims: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "context_trims_total",
					Help:      "Outgoing conversations trimmed to fit the token budget.",
				},
			),
			contextDropped: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "context_dropped_messages_total",
					Help:      "Messages dropped from outgoing conversations by trimming.",
				},
			),
			hostQueueDepth: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "host_queue_depth",
					Help:      "Calls waiting for the host lane.",
				},
			),
			hostInvocations: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "host_invocations_total",
					Help:      "Calls executed on the host lane by status.",
				},
				[]string{"status"},
			),
		}

		prometheus.MustRegister(
			m.upstreamCalls,
			m.upstreamDuration,
			m.rateLimitRetries,
			m.turnsTotal,
			m.runTotal,
			m.runDuration,
			m.toolDispatchTotal,
			m.toolDispatchDuration,
			m.toolErrorsTotal,
			m.sandboxTotal,
			m.sandboxDuration,
			m.contextTrims,
			m.contextDropped,
			m.hostQueueDepth,
			m.hostInvocations,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler serves the default registry.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordUpstreamCall records one streaming call. status is success, rate_limited or error.
func RecordUpstreamCall(provider, status string, duration time.Duration) {
	m := getMetrics()
	m.upstreamCalls.WithLabelValues(provider, status).Inc()
	m.upstreamDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordRateLimitRetry(provider string) {
	getMetrics().rateLimitRetries.WithLabelValues(provider).Inc()
}

func RecordTurn(provider string) {
	getMetrics().turnsTotal.WithLabelValues(provider).Inc()
}

// RecordRun records a finished orchestration run. outcome is completed, interrupted or failed.
func RecordRun(provider, outcome string, duration time.Duration) {
	m := getMetrics()
	m.runTotal.WithLabelValues(provider, outcome).Inc()
	m.runDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordToolDispatch(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolDispatchTotal.WithLabelValues(tool, statusLabel(success)).Inc()
	m.toolDispatchDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}

// RecordSandboxExecution records a sandbox run. outcome is success, compilation_error or runtime_error.
func RecordSandboxExecution(outcome string, duration time.Duration) {
	m := getMetrics()
	m.sandboxTotal.WithLabelValues(outcome).Inc()
	m.sandboxDuration.Observe(duration.Seconds())
}

func RecordContextTrim(dropped int) {
	m := getMetrics()
	m.contextTrims.Inc()
	m.contextDropped.Add(float64(dropped))
}

func SetHostQueueDepth(depth int) {
	getMetrics().hostQueueDepth.Set(float64(depth))
}

func RecordHostInvocation(success bool) {
	getMetrics().hostInvocations.WithLabelValues(statusLabel(success)).Inc()
}
