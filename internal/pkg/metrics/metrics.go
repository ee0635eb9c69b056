package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SolvesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "powerflow_solves_total",
		Help: "Number of completed power-flow solves, by convergence.",
	}, []string{"converged"})

	SolveIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "powerflow_solve_iterations",
		Help:    "Gauss-Seidel passes used per solve.",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 500},
	})

	SolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "powerflow_solve_duration_seconds",
		Help:    "Wall time spent inside the solver.",
		Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
	})

	SessionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "analysis_sessions_open",
		Help: "Analysis sessions currently open.",
	})
)

// Observe records one finished solve.
func Observe(converged bool, iterations int, elapsed time.Duration) {
	SolvesTotal.WithLabelValues(strconv.FormatBool(converged)).Inc()
	SolveIterations.Observe(float64(iterations))
	SolveDuration.Observe(elapsed.Seconds())
}
