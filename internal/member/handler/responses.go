package handler

import (
	"time"

	membermodels "bharosa/internal/member/models"
	tokenmodels "bharosa/internal/token/models"
)

type MemberResponse struct {
	ID           string    `json:"id"`
	Phone        string    `json:"phone"`
	Name         string    `json:"name"`
	TrustScore   int       `json:"trust_score"`
	DiaryEntries int       `json:"diary_entries"`
	CreatedAt    time.Time `json:"created_at"`
}

type SessionResponse struct {
	Member MemberResponse `json:"member"`
	Token  string         `json:"token"`
}

type BalanceResponse struct {
	Available      int64 `json:"available"`
	Staked         int64 `json:"staked"`
	PendingRewards int64 `json:"pending_rewards"`
	Total          int64 `json:"total"`
}

type ProfileResponse struct {
	Member  MemberResponse  `json:"member"`
	Balance BalanceResponse `json:"balance"`
}

type TransactionResponse struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Amount      int64     `json:"amount"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

func toMemberResponse(m *membermodels.Member) MemberResponse {
	return MemberResponse{
		ID:           m.ID.String(),
		Phone:        m.Phone,
		Name:         m.Name,
		TrustScore:   m.TrustScore,
		DiaryEntries: m.DiaryEntries,
		CreatedAt:    m.CreatedAt,
	}
}

func toBalanceResponse(b tokenmodels.Balance) BalanceResponse {
	return BalanceResponse{
		Available:      int64(b.Available),
		Staked:         int64(b.Staked),
		PendingRewards: int64(b.PendingRewards),
		Total:          int64(b.Total()),
	}
}

func toTransactionList(txs []tokenmodels.Transaction) []TransactionResponse {
	out := make([]TransactionResponse, len(txs))
	for i, tx := range txs {
		out[i] = TransactionResponse{
			ID:          tx.ID.String(),
			Type:        string(tx.Type),
			Amount:      int64(tx.Amount),
			Description: tx.Description,
			CreatedAt:   tx.CreatedAt,
		}
	}
	return out
}
