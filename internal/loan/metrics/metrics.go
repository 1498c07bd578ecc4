// Package metrics exposes Prometheus collectors for the loan lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	transitions     *prometheus.CounterVec
	votes           *prometheus.CounterVec
	disbursedPaise  prometheus.Counter
	repaidPaise     prometheus.Counter
	deferredPayouts prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bharosa_loan_transitions_total",
			Help: "Loan state transitions by resulting status.",
		}, []string{"status"}),
		votes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bharosa_loan_votes_total",
			Help: "Votes cast on loans by choice.",
		}, []string{"choice"}),
		disbursedPaise: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bharosa_loan_disbursed_paise_total",
			Help: "Total paise disbursed from circle pools.",
		}),
		repaidPaise: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bharosa_loan_repaid_paise_total",
			Help: "Total paise repaid into circle pools.",
		}),
		deferredPayouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bharosa_loan_deferred_disbursements_total",
			Help: "Disbursements deferred because the circle pool could not cover them.",
		}),
	}
}

func (m *Metrics) ObserveTransition(status string) {
	m.transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveVote(choice string) {
	m.votes.WithLabelValues(choice).Inc()
}

func (m *Metrics) ObserveDisbursement(paise int64) {
	m.disbursedPaise.Add(float64(paise))
}

func (m *Metrics) ObserveRepayment(paise int64) {
	m.repaidPaise.Add(float64(paise))
}

func (m *Metrics) ObserveDeferredDisbursement() {
	m.deferredPayouts.Inc()
}
