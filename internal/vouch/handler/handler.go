// Package handler exposes the vouch registry over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"bharosa/internal/vouch/models"
	"bharosa/pkg/domain"
	dErrors "bharosa/pkg/domain-errors"
	"bharosa/pkg/platform/httputil"
	"bharosa/pkg/platform/middleware/auth"
	"bharosa/pkg/requestcontext"
)

// Service defines the vouch operations the handler depends on.
type Service interface {
	CreateVouch(ctx context.Context, voucherID, voucheeID domain.MemberID, circleID domain.CircleID, level models.Level, stake domain.Saathi) (*models.Vouch, error)
	RevokeVouch(ctx context.Context, actor domain.MemberID, vouchID domain.VouchID) error
	ActiveFor(ctx context.Context, voucheeID domain.MemberID) ([]models.Vouch, error)
	GivenBy(ctx context.Context, voucherID domain.MemberID) ([]models.Vouch, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/vouches", h.HandleCreateVouch)
	r.Delete("/vouches/{id}", h.HandleRevokeVouch)
	r.Get("/vouches/given", h.HandleListGiven)
	r.Get("/vouches/received", h.HandleListReceived)
}

type CreateVouchRequest struct {
	VoucheeID string `json:"vouchee_id"`
	CircleID  string `json:"circle_id"`
	Level     string `json:"level"`
	Stake     int64  `json:"stake"`
}

func (r *CreateVouchRequest) Normalize() {
	if r == nil {
		return
	}
	r.VoucheeID = strings.TrimSpace(r.VoucheeID)
	r.CircleID = strings.TrimSpace(r.CircleID)
	r.Level = strings.ToLower(strings.TrimSpace(r.Level))
}

func (r *CreateVouchRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.VoucheeID == "" || r.CircleID == "" {
		return dErrors.New(dErrors.CodeValidation, "vouchee_id and circle_id are required")
	}
	if r.Level == "" {
		return dErrors.New(dErrors.CodeValidation, "level is required")
	}
	if r.Stake <= 0 {
		return dErrors.New(dErrors.CodeValidation, "stake must be positive")
	}
	return nil
}

type VouchResponse struct {
	ID        string     `json:"id"`
	VoucherID string     `json:"voucher_id"`
	VoucheeID string     `json:"vouchee_id"`
	CircleID  string     `json:"circle_id"`
	Level     string     `json:"level"`
	Stake     int64      `json:"stake"`
	Active    bool       `json:"active"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

func toVouchResponse(v *models.Vouch) *VouchResponse {
	return &VouchResponse{
		ID:        v.ID.String(),
		VoucherID: v.VoucherID.String(),
		VoucheeID: v.VoucheeID.String(),
		CircleID:  v.CircleID.String(),
		Level:     string(v.Level),
		Stake:     int64(v.Stake),
		Active:    v.Active,
		CreatedAt: v.CreatedAt,
		RevokedAt: v.RevokedAt,
	}
}

func toVouchList(vouches []models.Vouch) []*VouchResponse {
	out := make([]*VouchResponse, len(vouches))
	for i := range vouches {
		out[i] = toVouchResponse(&vouches[i])
	}
	return out
}

// HandleCreateVouch stakes the caller's tokens behind another circle member.
func (h *Handler) HandleCreateVouch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CreateVouchRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	voucheeID, err := domain.ParseMemberID(req.VoucheeID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid vouchee id"))
		return
	}
	circleID, err := domain.ParseCircleID(req.CircleID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid circle id"))
		return
	}

	vouch, err := h.service.CreateVouch(ctx, auth.GetMemberID(ctx), voucheeID, circleID,
		models.Level(req.Level), domain.Saathi(req.Stake))
	if err != nil {
		h.logger.ErrorContext(ctx, "create vouch failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, toVouchResponse(vouch))
}

// HandleRevokeVouch revokes a vouch the caller gave and returns the stake.
func (h *Handler) HandleRevokeVouch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	vouchID, err := domain.ParseVouchID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid vouch id"))
		return
	}

	if err := h.service.RevokeVouch(ctx, auth.GetMemberID(ctx), vouchID); err != nil {
		h.logger.ErrorContext(ctx, "revoke vouch failed", "error", err, "request_id", requestID, "vouch_id", vouchID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// HandleListGiven returns the caller's active vouches for others.
func (h *Handler) HandleListGiven(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vouches, err := h.service.GivenBy(ctx, auth.GetMemberID(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "list given vouches failed", "error", err, "request_id", requestcontext.RequestID(ctx))
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toVouchList(vouches))
}

// HandleListReceived returns the active vouches backing the caller.
func (h *Handler) HandleListReceived(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vouches, err := h.service.ActiveFor(ctx, auth.GetMemberID(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "list received vouches failed", "error", err, "request_id", requestcontext.RequestID(ctx))
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toVouchList(vouches))
}
