package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	runsTotal   *prometheus.CounterVec
	runDuration prometheus.Histogram

	stageAttemptsTotal  *prometheus.CounterVec
	stageAttemptSeconds *prometheus.HistogramVec
	stageInFlight       prometheus.Gauge
	backoffTotal        *prometheus.CounterVec

	sessionsActive prometheus.Gauge
	pausesTotal    prometheus.Counter
	cancelsTotal   prometheus.Counter

	evaluationsTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			runsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pagelift_runs_total",
					Help: "Completed migration runs by status.",
				},
				[]string{"status"},
			),
			runDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "pagelift_run_duration_seconds",
					Help:    "Duration of full migration runs.",
					Buckets: prometheus.ExponentialBuckets(1, 2, 12),
				},
			),
			stageAttemptsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pagelift_stage_attempts_total",
					Help: "Work-stage invocation attempts by outcome.",
				},
				[]string{"outcome"},
			),
			stageAttemptSeconds: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "pagelift_stage_attempt_duration_seconds",
					Help:    "Duration of individual work-stage attempts.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"outcome"},
			),
			stageInFlight: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "pagelift_stage_in_flight",
					Help: "Work-stage calls currently executing.",
				},
			),
			backoffTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pagelift_backoff_total",
					Help: "Backoff sleeps taken before a retry, by class.",
				},
				[]string{"class"},
			),
			sessionsActive: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "pagelift_sessions_active",
					Help: "Sessions currently registered.",
				},
			),
			pausesTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "pagelift_session_pauses_total",
					Help: "Total pause requests accepted.",
				},
			),
			cancelsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "pagelift_session_cancels_total",
					Help: "Total cancel requests accepted.",
				},
			),
			evaluationsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pagelift_evaluations_total",
					Help: "Aggregation-pass evaluations by disposition.",
				},
				[]string{"disposition"},
			),
		}

		prometheus.MustRegister(
			m.runsTotal,
			m.runDuration,
			m.stageAttemptsTotal,
			m.stageAttemptSeconds,
			m.stageInFlight,
			m.backoffTotal,
			m.sessionsActive,
			m.pausesTotal,
			m.cancelsTotal,
			m.evaluationsTotal,
		)

		metricsInst = m
	})
	return metricsInst
}

// EnsureRegistered forces metric registration; safe to call from any package init path.
func EnsureRegistered() {
	getMetrics()
}

// MetricsHandler returns the HTTP handler for the /metrics endpoint.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordRun records a completed run with its final status.
func RecordRun(status string, duration time.Duration) {
	m := getMetrics()
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(duration.Seconds())
}

// RecordStageAttempt records one work-stage attempt.
func RecordStageAttempt(outcome string, duration time.Duration) {
	m := getMetrics()
	m.stageAttemptsTotal.WithLabelValues(outcome).Inc()
	m.stageAttemptSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// StageStarted marks a work-stage call as in flight.
func StageStarted() {
	getMetrics().stageInFlight.Inc()
}

// StageFinished marks a work-stage call as no longer in flight.
func StageFinished() {
	getMetrics().stageInFlight.Dec()
}

// RecordBackoff records a backoff sleep by failure class ("quota" or "transient").
func RecordBackoff(class string) {
	getMetrics().backoffTotal.WithLabelValues(class).Inc()
}

// SetActiveSessions sets the number of registered sessions.
func SetActiveSessions(count int) {
	getMetrics().sessionsActive.Set(float64(count))
}

// RecordPause counts an accepted pause request.
func RecordPause() {
	getMetrics().pausesTotal.Inc()
}

// RecordCancel counts an accepted cancel request.
func RecordCancel() {
	getMetrics().cancelsTotal.Inc()
}

// RecordEvaluation records one aggregation-pass evaluation ("scored" or "deferred").
func RecordEvaluation(disposition string) {
	getMetrics().evaluationsTotal.WithLabelValues(disposition).Inc()
}
