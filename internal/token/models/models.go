// Package models defines the SAATHI token ledger records.
package models

import (
	"time"

	"github.com/google/uuid"

	"bharosa/pkg/domain"
)

// TxType enumerates the typed ledger transactions.
type TxType string

const (
	TxEarn    TxType = "earn"
	TxSpend   TxType = "spend"
	TxStake   TxType = "stake"
	TxUnstake TxType = "unstake"
	TxReward  TxType = "reward"
	TxSlash   TxType = "slash"
)

// Valid reports whether the transaction type is one of the known kinds.
func (t TxType) Valid() bool {
	switch t {
	case TxEarn, TxSpend, TxStake, TxUnstake, TxReward, TxSlash:
		return true
	}
	return false
}

// Balance is a member's cached SAATHI position. Available and Staked always
// sum to the member's total; PendingRewards is a provisional quantity outside
// the total until realized.
type Balance struct {
	MemberID       domain.MemberID
	Available      domain.Saathi
	Staked         domain.Saathi
	PendingRewards domain.Saathi
}

// Total returns the member's full SAATHI holding.
func (b Balance) Total() domain.Saathi {
	return b.Available + b.Staked
}

// Transaction is an append-only ledger entry. The cached balance is derived
// from these; it is never edited outside a transaction.
type Transaction struct {
	ID          uuid.UUID
	MemberID    domain.MemberID
	Type        TxType
	Amount      domain.Saathi
	Description string
	CreatedAt   time.Time
}

// Hold is a staked amount locked for a reason (a vouch). Remaining tracks
// what is still held after partial slashes; a hold with Remaining zero or a
// released flag no longer binds any tokens.
type Hold struct {
	ID        domain.HoldID
	MemberID  domain.MemberID
	Amount    domain.Saathi
	Remaining domain.Saathi
	Reason    string
	Released  bool
	CreatedAt time.Time
}
