// Package handler exposes the loan lifecycle over HTTP: member-facing
// application and voting, plus system-facing webhook and scheduler routes.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"bharosa/internal/loan/models"
	"bharosa/pkg/domain"
	dErrors "bharosa/pkg/domain-errors"
	"bharosa/pkg/platform/httputil"
	"bharosa/pkg/platform/middleware/auth"
	"bharosa/pkg/requestcontext"
)

// Service defines the loan operations the handler depends on.
type Service interface {
	Apply(ctx context.Context, borrowerID domain.MemberID, circleID domain.CircleID, amount domain.Paise, tenureDays int, purpose string) (*models.Loan, error)
	Vote(ctx context.Context, voterID domain.MemberID, loanID domain.LoanID, choice models.Choice) (*models.Loan, error)
	GetLoan(ctx context.Context, actor domain.MemberID, loanID domain.LoanID) (*models.Loan, error)
	LoansForCircle(ctx context.Context, actor domain.MemberID, circleID domain.CircleID) ([]models.Loan, error)
	LoansForBorrower(ctx context.Context, borrowerID domain.MemberID) ([]models.Loan, error)
	RepaymentsFor(ctx context.Context, actor domain.MemberID, loanID domain.LoanID) ([]models.Repayment, error)
	ConfirmRepayment(ctx context.Context, loanID domain.LoanID, amount domain.Paise, method, externalRef string) (*models.Loan, error)
	RetryDisbursement(ctx context.Context, loanID domain.LoanID) (*models.Loan, error)
	MarkOverdue(ctx context.Context, loanID domain.LoanID) (*models.Loan, error)
	ExpireVoting(ctx context.Context, loanID domain.LoanID) (*models.Loan, error)
	RecordAnchor(ctx context.Context, loanID domain.LoanID, txHash string) (*models.Loan, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the member-facing loan routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/loans", h.HandleApply)
	r.Get("/loans", h.HandleListMine)
	r.Get("/loans/{id}", h.HandleGetLoan)
	r.Post("/loans/{id}/votes", h.HandleVote)
	r.Get("/loans/{id}/repayments", h.HandleListRepayments)
	r.Get("/circles/{id}/loans", h.HandleListForCircle)
}

// RegisterSystem mounts the routes called by the payment webhook, the
// scheduler, and the notary collaborator.
func (h *Handler) RegisterSystem(r chi.Router) {
	r.Post("/system/loans/{id}/repayments", h.HandleConfirmRepayment)
	r.Post("/system/loans/{id}/disburse", h.HandleRetryDisbursement)
	r.Post("/system/loans/{id}/default", h.HandleMarkOverdue)
	r.Post("/system/loans/{id}/expire", h.HandleExpireVoting)
	r.Post("/system/loans/{id}/anchor", h.HandleRecordAnchor)
}

type LoanResponse struct {
	ID              string     `json:"id"`
	BorrowerID      string     `json:"borrower_id"`
	CircleID        string     `json:"circle_id"`
	AmountPaise     int64      `json:"amount_paise"`
	InterestRateBps int64      `json:"interest_rate_bps"`
	TenureDays      int        `json:"tenure_days"`
	Purpose         string     `json:"purpose"`
	Status          string     `json:"status"`
	VotesFor        int        `json:"votes_for"`
	VotesAgainst    int        `json:"votes_against"`
	VotesTotal      int        `json:"votes_total"`
	TotalRepaid     int64      `json:"total_repaid_paise"`
	EMIAmountPaise  int64      `json:"emi_amount_paise"`
	NextEMIDate     *time.Time `json:"next_emi_date,omitempty"`
	AnchorTxHash    string     `json:"anchor_tx_hash,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type RepaymentResponse struct {
	ID          string    `json:"id"`
	AmountPaise int64     `json:"amount_paise"`
	Method      string    `json:"method"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

func toLoanResponse(l *models.Loan) *LoanResponse {
	return &LoanResponse{
		ID:              l.ID.String(),
		BorrowerID:      l.BorrowerID.String(),
		CircleID:        l.CircleID.String(),
		AmountPaise:     int64(l.Amount),
		InterestRateBps: int64(l.InterestRate),
		TenureDays:      l.TenureDays,
		Purpose:         l.Purpose,
		Status:          string(l.Status),
		VotesFor:        l.VotesFor,
		VotesAgainst:    l.VotesAgainst,
		VotesTotal:      l.VotesTotal,
		TotalRepaid:     int64(l.TotalRepaid),
		EMIAmountPaise:  int64(l.EMIAmount),
		NextEMIDate:     l.NextEMIDate,
		AnchorTxHash:    l.AnchorTxHash,
		CreatedAt:       l.CreatedAt,
	}
}

func toLoanList(loans []models.Loan) []*LoanResponse {
	out := make([]*LoanResponse, len(loans))
	for i := range loans {
		out[i] = toLoanResponse(&loans[i])
	}
	return out
}

// HandleApply submits a loan application into voting.
func (h *Handler) HandleApply(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[ApplyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	circleID, err := domain.ParseCircleID(req.CircleID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid circle id"))
		return
	}

	loan, err := h.service.Apply(ctx, auth.GetMemberID(ctx), circleID,
		domain.Paise(req.AmountPaise), req.TenureDays, req.Purpose)
	if err != nil {
		h.logger.ErrorContext(ctx, "loan application failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toLoanResponse(loan))
}

// HandleVote casts or changes the caller's vote.
func (h *Handler) HandleVote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	loanID, ok := h.loanID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[VoteRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	loan, err := h.service.Vote(ctx, auth.GetMemberID(ctx), loanID, models.Choice(req.Choice))
	if err != nil {
		h.logger.ErrorContext(ctx, "vote failed", "error", err, "request_id", requestID, "loan_id", loanID)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toLoanResponse(loan))
}

// HandleGetLoan returns one loan to a member of its circle.
func (h *Handler) HandleGetLoan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	loanID, ok := h.loanID(w, r)
	if !ok {
		return
	}
	loan, err := h.service.GetLoan(ctx, auth.GetMemberID(ctx), loanID)
	if err != nil {
		h.logger.ErrorContext(ctx, "get loan failed", "error", err, "request_id", requestcontext.RequestID(ctx), "loan_id", loanID)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toLoanResponse(loan))
}

// HandleListMine lists the caller's loans.
func (h *Handler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	loans, err := h.service.LoansForBorrower(ctx, auth.GetMemberID(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "list loans failed", "error", err, "request_id", requestcontext.RequestID(ctx))
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toLoanList(loans))
}

// HandleListForCircle lists a circle's loans for one of its members.
func (h *Handler) HandleListForCircle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	circleID, err := domain.ParseCircleID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid circle id"))
		return
	}
	loans, err := h.service.LoansForCircle(ctx, auth.GetMemberID(ctx), circleID)
	if err != nil {
		h.logger.ErrorContext(ctx, "list circle loans failed", "error", err, "request_id", requestcontext.RequestID(ctx), "circle_id", circleID)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toLoanList(loans))
}

// HandleListRepayments lists a loan's installments.
func (h *Handler) HandleListRepayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	loanID, ok := h.loanID(w, r)
	if !ok {
		return
	}
	reps, err := h.service.RepaymentsFor(ctx, auth.GetMemberID(ctx), loanID)
	if err != nil {
		h.logger.ErrorContext(ctx, "list repayments failed", "error", err, "request_id", requestcontext.RequestID(ctx), "loan_id", loanID)
		httputil.WriteError(w, err)
		return
	}
	out := make([]*RepaymentResponse, len(reps))
	for i, rep := range reps {
		out[i] = &RepaymentResponse{
			ID:          rep.ID.String(),
			AmountPaise: int64(rep.Amount),
			Method:      rep.Method,
			Status:      string(rep.Status),
			CreatedAt:   rep.CreatedAt,
		}
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// HandleConfirmRepayment records a confirmed installment from the payment
// collaborator.
func (h *Handler) HandleConfirmRepayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	loanID, ok := h.loanID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[ConfirmRepaymentRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	loan, err := h.service.ConfirmRepayment(ctx, loanID, domain.Paise(req.AmountPaise), req.Method, req.ExternalRef)
	if err != nil {
		h.logger.ErrorContext(ctx, "repayment confirmation failed", "error", err, "request_id", requestID, "loan_id", loanID)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toLoanResponse(loan))
}

// HandleRetryDisbursement re-attempts a deferred disbursement.
func (h *Handler) HandleRetryDisbursement(w http.ResponseWriter, r *http.Request) {
	h.systemTransition(w, r, h.service.RetryDisbursement, "retry disbursement failed")
}

// HandleMarkOverdue defaults a loan past its grace window.
func (h *Handler) HandleMarkOverdue(w http.ResponseWriter, r *http.Request) {
	h.systemTransition(w, r, h.service.MarkOverdue, "mark overdue failed")
}

// HandleExpireVoting rejects a loan whose voting window lapsed.
func (h *Handler) HandleExpireVoting(w http.ResponseWriter, r *http.Request) {
	h.systemTransition(w, r, h.service.ExpireVoting, "expire voting failed")
}

// HandleRecordAnchor stores the notary's anchor reference.
func (h *Handler) HandleRecordAnchor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	loanID, ok := h.loanID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[AnchorRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	loan, err := h.service.RecordAnchor(ctx, loanID, req.TxHash)
	if err != nil {
		h.logger.ErrorContext(ctx, "record anchor failed", "error", err, "request_id", requestID, "loan_id", loanID)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toLoanResponse(loan))
}

func (h *Handler) systemTransition(w http.ResponseWriter, r *http.Request, op func(context.Context, domain.LoanID) (*models.Loan, error), failMsg string) {
	ctx := r.Context()
	loanID, ok := h.loanID(w, r)
	if !ok {
		return
	}
	loan, err := op(ctx, loanID)
	if err != nil {
		h.logger.ErrorContext(ctx, failMsg, "error", err, "request_id", requestcontext.RequestID(ctx), "loan_id", loanID)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toLoanResponse(loan))
}

func (h *Handler) loanID(w http.ResponseWriter, r *http.Request) (domain.LoanID, bool) {
	loanID, err := domain.ParseLoanID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid loan id"))
		return domain.LoanID{}, false
	}
	return loanID, true
}
