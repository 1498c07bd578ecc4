package handler

import (
	"strings"

	"bharosa/pkg/domain"
	dErrors "bharosa/pkg/domain-errors"
)

// HTTP request DTOs. Converted to service arguments after Normalize/Validate.

type CreateCircleRequest struct {
	Name string `json:"name"`
}

func (r *CreateCircleRequest) Normalize() {
	if r == nil {
		return
	}
	r.Name = strings.TrimSpace(r.Name)
}

func (r *CreateCircleRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	return nil
}

type JoinCircleRequest struct {
	InviteCode string `json:"invite_code"`
}

func (r *JoinCircleRequest) Normalize() {
	if r == nil {
		return
	}
	r.InviteCode = strings.ToUpper(strings.TrimSpace(r.InviteCode))
}

func (r *JoinCircleRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.InviteCode == "" {
		return dErrors.New(dErrors.CodeValidation, "invite_code is required")
	}
	return nil
}

type ContributeRequest struct {
	AmountPaise int64  `json:"amount_paise"`
	ExternalRef string `json:"external_ref"`
}

func (r *ContributeRequest) Normalize() {
	if r == nil {
		return
	}
	r.ExternalRef = strings.TrimSpace(r.ExternalRef)
}

func (r *ContributeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.AmountPaise <= 0 {
		return dErrors.New(dErrors.CodeValidation, "amount_paise must be positive")
	}
	if r.ExternalRef == "" {
		return dErrors.New(dErrors.CodeValidation, "external_ref is required")
	}
	return nil
}

func (r *ContributeRequest) Amount() domain.Paise {
	return domain.Paise(r.AmountPaise)
}
