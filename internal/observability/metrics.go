package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agentlab"

type moduleMetrics struct {
	turnsTotal   *prometheus.CounterVec
	turnDuration prometheus.Histogram

	activeSessions      prometheus.Gauge
	sessionLoadDuration prometheus.Histogram
	sessionSaveDuration prometheus.Histogram
	stateConflictsTotal prometheus.Counter

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	modelCallTotal    *prometheus.CounterVec
	modelCallDuration *prometheus.HistogramVec
	profileCooldown   *prometheus.GaugeVec

	vectorOpTotal    *prometheus.CounterVec
	vectorOpDuration *prometheus.HistogramVec
	chunksIngested   prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			turnsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "turns_total",
					Help:      "Operator turns by status.",
				},
				[]string{"status"},
			),
			turnDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "turn_duration_seconds",
					Help:      "Time to drain one turn's event stream.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "active_sessions",
					Help:      "Sessions held by the in-process session service.",
				},
			),
			sessionLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "session_load_duration_seconds",
					Help:      "Session load duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			sessionSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "session_save_duration_seconds",
					Help:      "Session state or event write duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			stateConflictsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "session_state_conflicts_total",
					Help:      "Conditional state updates rejected as stale.",
				},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_execution_total",
					Help:      "Tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "tool_execution_duration_seconds",
					Help:      "Tool execution duration in seconds by tool.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			modelCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "model_call_total",
					Help:      "LLM calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			modelCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "model_call_duration_seconds",
					Help:      "LLM call duration in seconds by provider.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			profileCooldown: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "profile_cooldown_active",
					Help:      "Auth profile cooldown state (1 active, 0 inactive).",
				},
				[]string{"profile"},
			),
			vectorOpTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "vector_operation_total",
					Help:      "Vector store operations by backend, operation and status.",
				},
				[]string{"backend", "op", "status"},
			),
			vectorOpDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "vector_operation_duration_seconds",
					Help:      "Vector store operation duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"backend", "op"},
			),
			chunksIngested: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "rag_chunks_ingested_total",
					Help:      "Document chunks embedded and upserted.",
				},
			),
		}

		prometheus.MustRegister(
			m.turnsTotal,
			m.turnDuration,
			m.activeSessions,
			m.sessionLoadDuration,
			m.sessionSaveDuration,
			m.stateConflictsTotal,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.modelCallTotal,
			m.modelCallDuration,
			m.profileCooldown,
			m.vectorOpTotal,
			m.vectorOpDuration,
			m.chunksIngested,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordTurn(duration time.Duration, success bool) {
	m := getMetrics()
	m.turnsTotal.WithLabelValues(status(success)).Inc()
	m.turnDuration.Observe(duration.Seconds())
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordSessionLoad(duration time.Duration) {
	getMetrics().sessionLoadDuration.Observe(duration.Seconds())
}

func RecordSessionSave(duration time.Duration) {
	getMetrics().sessionSaveDuration.Observe(duration.Seconds())
}

func RecordStateConflict() {
	getMetrics().stateConflictsTotal.Inc()
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, status(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordModelCall(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	m.modelCallTotal.WithLabelValues(provider, status(success)).Inc()
	m.modelCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func SetProfileCooldown(profile string, active bool) {
	value := 0.0
	if active {
		value = 1.0
	}
	getMetrics().profileCooldown.WithLabelValues(profile).Set(value)
}

func RecordVectorOperation(backend, op string, duration time.Duration, success bool) {
	m := getMetrics()
	m.vectorOpTotal.WithLabelValues(backend, op, status(success)).Inc()
	m.vectorOpDuration.WithLabelValues(backend, op).Observe(duration.Seconds())
}

func AddChunksIngested(n int) {
	getMetrics().chunksIngested.Add(float64(n))
}
