package challenge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Issued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "torauth_challenges_issued",
		Help: "The total number of challenges issued",
	}, []string{"flow"})

	Overwritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "torauth_challenges_overwritten",
		Help: "The total number of pending challenges replaced by a new one for the same key",
	})

	Validated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "torauth_challenges_validated",
		Help: "The total number of challenges redeemed with a valid proof",
	})

	FailedValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "torauth_failed_validations",
		Help: "The total number of proofs that did not verify",
	}, []string{"reason"})

	Expired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "torauth_challenges_expired",
		Help: "The total number of challenges evicted by the expiry sweep",
	})

	UnknownProofs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "torauth_unknown_proofs",
		Help: "Proofs for keys with no pending challenge",
	}, []string{"source"})

	DroppedProofs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "torauth_dropped_proofs",
		Help: "Proofs dropped because the confirmation queue was full",
	}, []string{"source"})

	Pending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "torauth_challenges_pending",
		Help: "Challenges waiting for a proof",
	})

	TimeTaken = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "torauth_time_taken_seconds",
		Help:    "Time between issuing a challenge and receiving a valid proof",
		Buckets: prometheus.ExponentialBucketsRange(1, 3600, 16),
	})
)
