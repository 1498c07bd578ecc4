// Package handler exposes circle management over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"bharosa/internal/circle/models"
	"bharosa/pkg/domain"
	dErrors "bharosa/pkg/domain-errors"
	"bharosa/pkg/platform/httputil"
	"bharosa/pkg/platform/middleware/auth"
	"bharosa/pkg/requestcontext"
)

// Service defines the circle operations the handler depends on.
// Returns domain objects, not HTTP response DTOs.
type Service interface {
	CreateCircle(ctx context.Context, creator domain.MemberID, name string) (*models.Circle, error)
	JoinCircle(ctx context.Context, memberID domain.MemberID, inviteCode string) (*models.Circle, error)
	GetCircle(ctx context.Context, actor domain.MemberID, circleID domain.CircleID) (*models.Details, error)
	Contribute(ctx context.Context, memberID domain.MemberID, circleID domain.CircleID, amount domain.Paise, externalRef string) error
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the member-facing circle routes. The router is expected to
// already carry the session middleware.
func (h *Handler) Register(r chi.Router) {
	r.Post("/circles", h.HandleCreateCircle)
	r.Post("/circles/join", h.HandleJoinCircle)
	r.Get("/circles/{id}", h.HandleGetCircle)
	r.Post("/circles/{id}/contributions", h.HandleContribute)
}

// HandleCreateCircle creates a circle with the caller as admin.
func (h *Handler) HandleCreateCircle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CreateCircleRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	circle, err := h.service.CreateCircle(ctx, auth.GetMemberID(ctx), req.Name)
	if err != nil {
		h.logger.ErrorContext(ctx, "create circle failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, toCircleResponse(circle))
}

// HandleJoinCircle seats the caller in the circle matching the invite code.
func (h *Handler) HandleJoinCircle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[JoinCircleRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	circle, err := h.service.JoinCircle(ctx, auth.GetMemberID(ctx), req.InviteCode)
	if err != nil {
		h.logger.ErrorContext(ctx, "join circle failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toCircleResponse(circle))
}

// HandleGetCircle returns circle details with the roster, members only.
func (h *Handler) HandleGetCircle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	circleID, err := domain.ParseCircleID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid circle id"))
		return
	}

	details, err := h.service.GetCircle(ctx, auth.GetMemberID(ctx), circleID)
	if err != nil {
		h.logger.ErrorContext(ctx, "get circle failed", "error", err, "request_id", requestID, "circle_id", circleID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toDetailsResponse(details))
}

// HandleContribute records a confirmed contribution into the circle pool.
func (h *Handler) HandleContribute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	circleID, err := domain.ParseCircleID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid circle id"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[ContributeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	if err := h.service.Contribute(ctx, auth.GetMemberID(ctx), circleID, req.Amount(), req.ExternalRef); err != nil {
		h.logger.ErrorContext(ctx, "contribution failed", "error", err, "request_id", requestID, "circle_id", circleID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}
