// Package handler exposes member accounts over HTTP: registration, login,
// and the authenticated profile surface.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"bharosa/internal/member/service"
	tokenmodels "bharosa/internal/token/models"
	trustmodels "bharosa/internal/trust/models"
	"bharosa/pkg/domain"
	"bharosa/pkg/platform/httputil"
	"bharosa/pkg/platform/middleware/auth"
	"bharosa/pkg/requestcontext"
)

const historyLimit = 50

// Service defines the member operations the handler depends on.
type Service interface {
	Register(ctx context.Context, phone, name, pin string) (*service.Session, error)
	Login(ctx context.Context, phone, pin string) (*service.Session, error)
	GetProfile(ctx context.Context, memberID domain.MemberID) (*service.Profile, error)
	RecordDiaryEntry(ctx context.Context, memberID domain.MemberID) (int, error)
}

// TrustReader computes a fresh trust score with its factor breakdown.
type TrustReader interface {
	ComputeScore(ctx context.Context, memberID domain.MemberID) (*trustmodels.Score, error)
}

// Ledger lists a member's SAATHI transactions.
type Ledger interface {
	History(ctx context.Context, memberID domain.MemberID, limit int) ([]tokenmodels.Transaction, error)
}

type Handler struct {
	service Service
	trust   TrustReader
	ledger  Ledger
	logger  *slog.Logger
}

func New(service Service, trust TrustReader, ledger Ledger, logger *slog.Logger) *Handler {
	return &Handler{service: service, trust: trust, ledger: ledger, logger: logger}
}

// RegisterPublic mounts the unauthenticated account routes.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Post("/register", h.HandleRegister)
	r.Post("/login", h.HandleLogin)
}

// Register mounts the authenticated profile routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/me", h.HandleGetProfile)
	r.Get("/me/balance", h.HandleGetBalance)
	r.Get("/me/trust-score", h.HandleGetTrustScore)
	r.Get("/me/transactions", h.HandleListTransactions)
	r.Post("/diary", h.HandleRecordDiaryEntry)
}

// HandleRegister creates an account and returns a logged-in session.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[RegisterRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	sess, err := h.service.Register(ctx, req.Phone, req.Name, req.PIN)
	if err != nil {
		h.logger.ErrorContext(ctx, "registration failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, SessionResponse{
		Member: toMemberResponse(&sess.Member),
		Token:  sess.Token,
	})
}

// HandleLogin verifies credentials and mints a session token.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[LoginRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	sess, err := h.service.Login(ctx, req.Phone, req.PIN)
	if err != nil {
		// Failed logins are expected traffic; the audit log already has them.
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, SessionResponse{
		Member: toMemberResponse(&sess.Member),
		Token:  sess.Token,
	})
}

// HandleGetProfile returns the caller's member record and balance.
func (h *Handler) HandleGetProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	profile, err := h.service.GetProfile(ctx, auth.GetMemberID(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "profile read failed", "error", err, "request_id", requestcontext.RequestID(ctx))
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ProfileResponse{
		Member:  toMemberResponse(&profile.Member),
		Balance: toBalanceResponse(profile.Balance),
	})
}

// HandleGetBalance returns the caller's SAATHI position.
func (h *Handler) HandleGetBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	profile, err := h.service.GetProfile(ctx, auth.GetMemberID(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "balance read failed", "error", err, "request_id", requestcontext.RequestID(ctx))
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toBalanceResponse(profile.Balance))
}

// HandleGetTrustScore computes and returns the caller's score with factors.
func (h *Handler) HandleGetTrustScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	score, err := h.trust.ComputeScore(ctx, auth.GetMemberID(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "trust score read failed", "error", err, "request_id", requestcontext.RequestID(ctx))
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, struct {
		Score      int                 `json:"score"`
		Factors    trustmodels.Factors `json:"factors"`
		ComputedAt time.Time           `json:"computed_at"`
	}{
		Score:      score.Value,
		Factors:    score.Factors,
		ComputedAt: score.ComputedAt,
	})
}

// HandleListTransactions returns the caller's recent ledger entries.
func (h *Handler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txs, err := h.ledger.History(ctx, auth.GetMemberID(ctx), historyLimit)
	if err != nil {
		h.logger.ErrorContext(ctx, "transaction list failed", "error", err, "request_id", requestcontext.RequestID(ctx))
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toTransactionList(txs))
}

// HandleRecordDiaryEntry bumps the caller's financial diary counter.
func (h *Handler) HandleRecordDiaryEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	count, err := h.service.RecordDiaryEntry(ctx, auth.GetMemberID(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "diary entry failed", "error", err, "request_id", requestcontext.RequestID(ctx))
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"diary_entries": count})
}
