package models

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"bharosa/pkg/domain"
)

func TestTierFor(t *testing.T) {
	tests := []struct {
		name  string
		score int
		want  domain.BasisPoints
	}{
		{"excellent score gets lowest rate", 95, 100},
		{"tier boundary at 90", 90, 100},
		{"good score", 89, 200},
		{"tier boundary at 70", 70, 200},
		{"middling score", 69, 300},
		{"tier boundary at 40", 40, 300},
		{"poor score gets highest rate", 39, 400},
		{"zero score", 0, 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TierFor(tt.score))
		})
	}
}

func TestEMIAmount(t *testing.T) {
	// 100 rupees at 3% over 4 weeks: total 10300, ceil(10300/4) = 2575.
	assert.Equal(t, domain.Paise(2575), EMIAmount(10_000, 300, 28))

	// Indivisible total rounds up: 10100/3 -> 3367.
	assert.Equal(t, domain.Paise(3367), EMIAmount(10_000, 100, 21))

	// Rounded EMIs still cover the total within the tenure.
	total := TotalRepayable(10_000, 100)
	emi := EMIAmount(10_000, 100, 21)
	assert.GreaterOrEqual(t, emi*3, total)

	assert.Equal(t, domain.Paise(0), EMIAmount(10_000, 300, 0))
}

func TestOutstanding(t *testing.T) {
	loan := &Loan{Amount: 10_000, InterestRate: 300, TotalRepaid: 2_575}
	assert.Equal(t, domain.Paise(7_725), loan.Outstanding())

	loan.TotalRepaid = 10_400
	assert.Equal(t, domain.Paise(0), loan.Outstanding())
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusRejected.Terminal())
	assert.True(t, StatusDefaulted.Terminal())
	assert.False(t, StatusVoting.Terminal())
	assert.False(t, StatusRepaying.Terminal())
}
