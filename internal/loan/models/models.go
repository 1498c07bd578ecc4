// Package models defines loans, votes, and repayments.
package models

import (
	"time"

	"bharosa/pkg/domain"
)

// Status is the loan's state-machine position. Terminal states are immutable.
type Status string

const (
	StatusVoting    Status = "voting"
	StatusApproved  Status = "approved"
	StatusDisbursed Status = "disbursed"
	StatusRepaying  Status = "repaying"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
	StatusDefaulted Status = "defaulted"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected || s == StatusDefaulted
}

// Interest tiers by trust score, evaluated highest-first. Rates are annual
// flat rates in basis points, snapshotted onto the loan at application time.
func TierFor(score int) domain.BasisPoints {
	switch {
	case score >= 90:
		return 100
	case score >= 70:
		return 200
	case score >= 40:
		return 300
	default:
		return 400
	}
}

// TotalRepayable is principal plus flat interest.
func TotalRepayable(amount domain.Paise, rate domain.BasisPoints) domain.Paise {
	return amount + rate.Interest(amount)
}

// EMIAmount spreads the total over weekly installments, rounding up so the
// final installment can only be smaller, never larger.
func EMIAmount(amount domain.Paise, rate domain.BasisPoints, tenureDays int) domain.Paise {
	weeks := tenureDays / 7
	if weeks <= 0 {
		return 0
	}
	total := int64(TotalRepayable(amount, rate))
	return domain.Paise((total + int64(weeks) - 1) / int64(weeks))
}

// Loan is one borrowing request and its lifecycle state. The interest rate
// and the eligible voter count are frozen at creation.
type Loan struct {
	ID           domain.LoanID
	BorrowerID   domain.MemberID
	CircleID     domain.CircleID
	Amount       domain.Paise
	InterestRate domain.BasisPoints
	TenureDays   int
	Purpose      string
	Status       Status
	VotesFor     int
	VotesAgainst int
	VotesTotal   int
	TotalRepaid  domain.Paise
	EMIAmount    domain.Paise
	NextEMIDate  *time.Time
	AnchorTxHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Outstanding is what remains before the loan completes.
func (l *Loan) Outstanding() domain.Paise {
	remaining := TotalRepayable(l.Amount, l.InterestRate) - l.TotalRepaid
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Choice is a single voter's position.
type Choice string

const (
	ChoiceApprove Choice = "approve"
	ChoiceReject  Choice = "reject"
)

// Valid reports whether the choice is one of the two allowed values.
func (c Choice) Valid() bool {
	return c == ChoiceApprove || c == ChoiceReject
}

// Vote is one member's current position on a loan. Re-voting overwrites.
type Vote struct {
	LoanID  domain.LoanID
	VoterID domain.MemberID
	Choice  Choice
	CastAt  time.Time
}

// RepaymentStatus distinguishes confirmed repayments from ones still pending
// at the payment collaborator.
type RepaymentStatus string

const (
	RepaymentPending   RepaymentStatus = "pending"
	RepaymentConfirmed RepaymentStatus = "confirmed"
)

// Repayment is one append-only installment record. A loan's total repaid is
// the sum of its confirmed repayments.
type Repayment struct {
	ID          domain.RepaymentID
	LoanID      domain.LoanID
	Amount      domain.Paise
	Method      string
	ExternalRef string
	Status      RepaymentStatus
	CreatedAt   time.Time
}
