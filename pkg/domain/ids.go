// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"github.com/google/uuid"

	dErrors "bharosa/pkg/domain-errors"
)

// Distinct ID types - compiler prevents passing MemberID where CircleID is expected.
type (
	MemberID    uuid.UUID
	CircleID    uuid.UUID
	VouchID     uuid.UUID
	LoanID      uuid.UUID
	HoldID      uuid.UUID
	RepaymentID uuid.UUID
)

// Parse functions - use at trust boundaries (handlers, API inputs).

func ParseMemberID(s string) (MemberID, error) {
	id, err := parseUUID(s, "member ID")
	return MemberID(id), err
}

func ParseCircleID(s string) (CircleID, error) {
	id, err := parseUUID(s, "circle ID")
	return CircleID(id), err
}

func ParseVouchID(s string) (VouchID, error) {
	id, err := parseUUID(s, "vouch ID")
	return VouchID(id), err
}

func ParseLoanID(s string) (LoanID, error) {
	id, err := parseUUID(s, "loan ID")
	return LoanID(id), err
}

func ParseHoldID(s string) (HoldID, error) {
	id, err := parseUUID(s, "hold ID")
	return HoldID(id), err
}

// String methods - for logging and debugging.

func (id MemberID) String() string    { return uuid.UUID(id).String() }
func (id CircleID) String() string    { return uuid.UUID(id).String() }
func (id VouchID) String() string     { return uuid.UUID(id).String() }
func (id LoanID) String() string      { return uuid.UUID(id).String() }
func (id HoldID) String() string      { return uuid.UUID(id).String() }
func (id RepaymentID) String() string { return uuid.UUID(id).String() }

// IsNil checks - used for service-layer validation.

func (id MemberID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id CircleID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id VouchID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id LoanID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id HoldID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id RepaymentID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// parseUUID is the shared validation logic.
// Note: Nil UUIDs are allowed here. Use IsNil() at the service layer for
// business validation, which allows store lookups to return proper
// "not found" errors for consistency.
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label+" format")
	}
	return id, nil
}
