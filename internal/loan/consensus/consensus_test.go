package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEarlyMajority(t *testing.T) {
	policy := EarlyMajority{}

	tests := []struct {
		name  string
		tally Tally
		want  Outcome
	}{
		{"no votes yet", Tally{For: 0, Against: 0, Total: 5}, OutcomePending},
		{"majority approves early", Tally{For: 3, Against: 0, Total: 5}, OutcomeApproved},
		{"majority rejects early", Tally{For: 0, Against: 3, Total: 5}, OutcomeRejected},
		{"under half keeps pending", Tally{For: 2, Against: 2, Total: 5}, OutcomePending},
		{"full quorum tie rejects", Tally{For: 2, Against: 2, Total: 4}, OutcomeRejected},
		{"full quorum majority approves", Tally{For: 3, Against: 2, Total: 5}, OutcomeApproved},
		{"single voter approval", Tally{For: 1, Against: 0, Total: 1}, OutcomeApproved},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.Evaluate(tt.tally))
		})
	}
}

func TestFullQuorum(t *testing.T) {
	policy := FullQuorum{}

	assert.Equal(t, OutcomePending, policy.Evaluate(Tally{For: 3, Against: 0, Total: 5}))
	assert.Equal(t, OutcomeApproved, policy.Evaluate(Tally{For: 3, Against: 2, Total: 5}))
	assert.Equal(t, OutcomeRejected, policy.Evaluate(Tally{For: 2, Against: 3, Total: 5}))
	assert.Equal(t, OutcomeRejected, policy.Evaluate(Tally{For: 2, Against: 2, Total: 4}))
}

func TestByName(t *testing.T) {
	assert.Equal(t, "full_quorum", ByName("full_quorum").Name())
	assert.Equal(t, "early_majority", ByName("early_majority").Name())
	assert.Equal(t, "early_majority", ByName("").Name())
}
