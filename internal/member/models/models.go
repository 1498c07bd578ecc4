// Package models defines member entities.
package models

import (
	"time"

	"bharosa/pkg/domain"
)

// Member is a registered person on the platform. The trust score is a cached
// copy of the last computation; the trust calculator owns the fresh value.
type Member struct {
	ID             domain.MemberID
	Phone          string
	Name           string
	PINHash        string
	TrustScore     int
	DiaryEntries   int
	ScoreUpdatedAt time.Time
	CreatedAt      time.Time
}
