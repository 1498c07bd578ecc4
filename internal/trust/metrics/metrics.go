// Package metrics exposes Prometheus collectors for trust score computation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	computations prometheus.Counter
	scores       prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		computations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bharosa_trust_score_computations_total",
			Help: "Total number of trust score computations.",
		}),
		scores: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bharosa_trust_score",
			Help:    "Distribution of computed trust scores.",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
	}
}

func (m *Metrics) ObserveScore(score int) {
	m.computations.Inc()
	m.scores.Observe(float64(score))
}
