package handler

import (
	"strings"

	dErrors "bharosa/pkg/domain-errors"
)

type RegisterRequest struct {
	Phone string `json:"phone"`
	Name  string `json:"name"`
	PIN   string `json:"pin"`
}

func (r *RegisterRequest) Normalize() {
	if r == nil {
		return
	}
	r.Phone = strings.TrimSpace(r.Phone)
	r.Name = strings.TrimSpace(r.Name)
}

func (r *RegisterRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.Phone == "" {
		return dErrors.New(dErrors.CodeValidation, "phone is required")
	}
	if r.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	if r.PIN == "" {
		return dErrors.New(dErrors.CodeValidation, "pin is required")
	}
	return nil
}

type LoginRequest struct {
	Phone string `json:"phone"`
	PIN   string `json:"pin"`
}

func (r *LoginRequest) Normalize() {
	if r == nil {
		return
	}
	r.Phone = strings.TrimSpace(r.Phone)
}

func (r *LoginRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.Phone == "" || r.PIN == "" {
		return dErrors.New(dErrors.CodeValidation, "phone and pin are required")
	}
	return nil
}
