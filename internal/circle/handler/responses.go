package handler

import (
	"time"

	"bharosa/internal/circle/models"
)

type CircleResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	InviteCode string    `json:"invite_code"`
	TotalPool  int64     `json:"total_pool_paise"`
	CreatedAt  time.Time `json:"created_at"`
}

type MemberSeatResponse struct {
	MemberID string    `json:"member_id"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

type CircleDetailsResponse struct {
	CircleResponse
	MemberCount int                  `json:"member_count"`
	Roster      []MemberSeatResponse `json:"roster"`
}

func toCircleResponse(c *models.Circle) *CircleResponse {
	return &CircleResponse{
		ID:         c.ID.String(),
		Name:       c.Name,
		InviteCode: c.InviteCode,
		TotalPool:  int64(c.TotalPool),
		CreatedAt:  c.CreatedAt,
	}
}

func toDetailsResponse(d *models.Details) *CircleDetailsResponse {
	roster := make([]MemberSeatResponse, len(d.Roster))
	for i, seat := range d.Roster {
		roster[i] = MemberSeatResponse{
			MemberID: seat.MemberID.String(),
			Role:     string(seat.Role),
			JoinedAt: seat.JoinedAt,
		}
	}
	return &CircleDetailsResponse{
		CircleResponse: *toCircleResponse(&d.Circle),
		MemberCount:    d.MemberCount,
		Roster:         roster,
	}
}
