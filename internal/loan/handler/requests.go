package handler

import (
	"strings"

	"bharosa/internal/loan/models"
	dErrors "bharosa/pkg/domain-errors"
)

// HTTP request DTOs. Converted to service arguments after Normalize/Validate.

type ApplyRequest struct {
	CircleID    string `json:"circle_id"`
	AmountPaise int64  `json:"amount_paise"`
	TenureDays  int    `json:"tenure_days"`
	Purpose     string `json:"purpose"`
}

func (r *ApplyRequest) Normalize() {
	if r == nil {
		return
	}
	r.CircleID = strings.TrimSpace(r.CircleID)
	r.Purpose = strings.TrimSpace(r.Purpose)
}

func (r *ApplyRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.CircleID == "" {
		return dErrors.New(dErrors.CodeValidation, "circle_id is required")
	}
	if r.AmountPaise <= 0 {
		return dErrors.New(dErrors.CodeValidation, "amount_paise must be positive")
	}
	if r.TenureDays <= 0 {
		return dErrors.New(dErrors.CodeValidation, "tenure_days must be positive")
	}
	if r.Purpose == "" {
		return dErrors.New(dErrors.CodeValidation, "purpose is required")
	}
	return nil
}

type VoteRequest struct {
	Choice string `json:"choice"`
}

func (r *VoteRequest) Normalize() {
	if r == nil {
		return
	}
	r.Choice = strings.ToLower(strings.TrimSpace(r.Choice))
}

func (r *VoteRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if !models.Choice(r.Choice).Valid() {
		return dErrors.New(dErrors.CodeValidation, "choice must be approve or reject")
	}
	return nil
}

type ConfirmRepaymentRequest struct {
	AmountPaise int64  `json:"amount_paise"`
	Method      string `json:"method"`
	ExternalRef string `json:"external_ref"`
}

func (r *ConfirmRepaymentRequest) Normalize() {
	if r == nil {
		return
	}
	r.Method = strings.ToLower(strings.TrimSpace(r.Method))
	r.ExternalRef = strings.TrimSpace(r.ExternalRef)
}

func (r *ConfirmRepaymentRequest) Validate() error {
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

type AnchorRequest struct {
	TxHash string `json:"tx_hash"`
}

func (r *AnchorRequest) Normalize() {
	if r == nil {
		return
	}
	r.TxHash = strings.TrimSpace(r.TxHash)
}

func (r *AnchorRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.TxHash == "" {
		return dErrors.New(dErrors.CodeValidation, "tx_hash is required")
	}
	return nil
}
