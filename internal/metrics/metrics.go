// Package metrics exposes Prometheus collectors for the orchestrator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveSessions tracks sessions currently registered in the manager.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crucible_active_sessions",
			Help: "Number of active sandbox sessions",
		},
	)

	// SessionsCreated counts sessions created since process start.
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crucible_sessions_created_total",
			Help: "Total number of sandbox sessions created",
		},
	)

	// SessionsReaped counts idle sessions removed by the reaper.
	SessionsReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crucible_sessions_reaped_total",
			Help: "Total number of sessions reaped for idleness",
		},
	)

	// ExecutionsTotal counts Execute calls by language and outcome.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crucible_executions_total",
			Help: "Total number of code executions",
		},
		[]string{"language", "status"},
	)

	// ExecutionDuration tracks wall-clock execution time.
	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crucible_execution_duration_seconds",
			Help:    "Code execution duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"language"},
	)

	// ArtifactsShipped counts artifacts returned to callers by transport.
	ArtifactsShipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crucible_artifacts_shipped_total",
			Help: "Total number of artifacts shipped to callers",
		},
		[]string{"transport"},
	)
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
