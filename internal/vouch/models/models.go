// Package models defines vouches: staked guarantees one member gives for
// another inside a circle.
package models

import (
	"time"

	"bharosa/pkg/domain"
)

// Level grades how strongly a voucher backs a vouchee. Each level carries a
// stake band; the staked amount must fall inside it.
type Level string

const (
	LevelBasic   Level = "basic"
	LevelStrong  Level = "strong"
	LevelMaximum Level = "maximum"
)

// Band is the inclusive stake range allowed for a level.
type Band struct {
	Min domain.Saathi
	Max domain.Saathi
}

// BandFor returns the stake band for a level, false for unknown levels.
func BandFor(level Level) (Band, bool) {
	switch level {
	case LevelBasic:
		return Band{Min: 10, Max: 50}, true
	case LevelStrong:
		return Band{Min: 50, Max: 200}, true
	case LevelMaximum:
		return Band{Min: 200, Max: 500}, true
	default:
		return Band{}, false
	}
}

// Contains reports whether the stake falls inside the band.
func (b Band) Contains(stake domain.Saathi) bool {
	return stake >= b.Min && stake <= b.Max
}

// Vouch is one member's staked guarantee for another. The stake is held by
// the token ledger under HoldID for as long as the vouch is active.
type Vouch struct {
	ID        domain.VouchID
	VoucherID domain.MemberID
	VoucheeID domain.MemberID
	CircleID  domain.CircleID
	Level     Level
	Stake     domain.Saathi
	HoldID    domain.HoldID
	Active    bool
	CreatedAt time.Time
	RevokedAt *time.Time
}

// LoanLock pins a vouch to a loan whose approval counted it. A locked vouch
// cannot be revoked until every loan depending on it reaches a terminal state.
type LoanLock struct {
	LoanID    domain.LoanID
	VouchID   domain.VouchID
	CreatedAt time.Time
}
