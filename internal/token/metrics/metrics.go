package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Transactions *prometheus.CounterVec
	TokensMoved  *prometheus.CounterVec
	Slashes      prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Transactions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bharosa_token_transactions_total",
			Help: "Total number of SAATHI ledger transactions by type",
		}, []string{"type"}),
		TokensMoved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bharosa_tokens_moved_total",
			Help: "Total SAATHI moved by transaction type",
		}, []string{"type"}),
		Slashes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bharosa_token_slashes_total",
			Help: "Total number of stake slashes applied",
		}),
	}
}

func (m *Metrics) ObserveTransaction(txType string, amount int64) {
	m.Transactions.WithLabelValues(txType).Inc()
	m.TokensMoved.WithLabelValues(txType).Add(float64(amount))
}

func (m *Metrics) IncrementSlashes() {
	m.Slashes.Inc()
}
