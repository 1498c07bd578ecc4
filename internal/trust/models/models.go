// Package models defines the trust score and its contributing factors.
package models

import (
	"time"

	"bharosa/pkg/domain"
)

// NeutralFactor stands in for any factor whose facts are unavailable, so a
// new or partially-known member lands mid-scale rather than at zero.
const NeutralFactor = 50

// Factor weights, in percent. Repayment behaviour and the stake others put
// behind a member dominate the score.
const (
	WeightRepayment = 30
	WeightVouch     = 25
	WeightCircle    = 20
	WeightAge       = 15
	WeightDiary     = 10
)

// Factors are the five inputs to the score, each on a 0-100 scale.
type Factors struct {
	RepaymentHistory int `json:"repayment_history"`
	VouchStrength    int `json:"vouch_strength"`
	CircleStanding   int `json:"circle_standing"`
	AccountAge       int `json:"account_age"`
	FinancialDiary   int `json:"financial_diary"`
}

// Combine folds the factors into the 0-100 score using the fixed weights.
func (f Factors) Combine() int {
	weighted := f.RepaymentHistory*WeightRepayment +
		f.VouchStrength*WeightVouch +
		f.CircleStanding*WeightCircle +
		f.AccountAge*WeightAge +
		f.FinancialDiary*WeightDiary
	return Clamp(weighted / 100)
}

// Score is one computed trust score with its factor breakdown.
type Score struct {
	MemberID   domain.MemberID
	Value      int
	Factors    Factors
	ComputedAt time.Time
}

// Clamp bounds a factor or score to the 0-100 scale.
func Clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
