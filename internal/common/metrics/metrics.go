// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StepTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarding_step_transitions_total",
			Help: "Total number of attempted step transitions by flow, step and result",
		},
		[]string{"flow", "step", "result"},
	)

	VerificationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarding_verification_outcomes_total",
			Help: "Total number of external verification round trips by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarding_submissions_total",
			Help: "Total number of application submissions by result",
		},
		[]string{"result"},
	)

	VerificationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "onboarding_verification_duration_seconds",
			Help:    "Duration of external verification round trips in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"kind"},
	)

	OperationsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "onboarding_operations_in_flight",
			Help: "Number of guarded operations currently awaiting a response",
		},
		[]string{"operation"},
	)
)
