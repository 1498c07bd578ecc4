// Package models defines circle membership and pooled-fund records.
package models

import (
	"time"

	"bharosa/pkg/domain"
)

// Role of a member within a circle.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Circle is a closed group of members who jointly vote on and fund each
// other's loans from a shared pool. The invite code is immutable once issued.
type Circle struct {
	ID         domain.CircleID
	Name       string
	InviteCode string
	TotalPool  domain.Paise
	CreatedAt  time.Time
}

// Membership is one member's seat in a circle.
type Membership struct {
	CircleID domain.CircleID
	MemberID domain.MemberID
	Role     Role
	JoinedAt time.Time
}

// PoolEntry is an append-only record of a confirmed contribution into the
// circle pool. TotalPool is the running sum of these minus disbursements.
type PoolEntry struct {
	CircleID    domain.CircleID
	MemberID    domain.MemberID
	Amount      domain.Paise
	ExternalRef string
	CreatedAt   time.Time
}

// Details is the read model returned to the presentation layer.
type Details struct {
	Circle      Circle
	MemberCount int
	Roster      []Membership
}
