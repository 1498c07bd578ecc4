// Package service implements the loan lifecycle engine: application,
// consensus voting, disbursement from the circle pool, repayment tracking,
// and default handling.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"bharosa/internal/loan/consensus"
	"bharosa/internal/loan/models"
	"bharosa/internal/loan/tracer"
	"bharosa/internal/sentinel"
	trustmodels "bharosa/internal/trust/models"
	vouchmodels "bharosa/internal/vouch/models"
	"bharosa/pkg/domain"
	dErrors "bharosa/pkg/domain-errors"
	platformsync "bharosa/pkg/platform/sync"
	"bharosa/pkg/requestcontext"
)

const (
	minLoanAmount = domain.Paise(100_000)    // 1,000 rupees
	maxLoanAmount = domain.Paise(10_000_000) // 100,000 rupees
	minTenureDays = 7
	maxTenureDays = 364
	maxPurposeLen = 140

	emiInterval = 7 * 24 * time.Hour

	// Saathi accrued per confirmed installment, realized only if the loan
	// completes.
	installmentReward = domain.Saathi(5)
)

// Store persists loans, votes, and repayments.
type Store interface {
	Create(ctx context.Context, loan *models.Loan) error
	FindByID(ctx context.Context, loanID domain.LoanID) (*models.Loan, error)
	Update(ctx context.Context, loan *models.Loan) error
	ByBorrower(ctx context.Context, borrowerID domain.MemberID) ([]models.Loan, error)
	ByCircle(ctx context.Context, circleID domain.CircleID) ([]models.Loan, error)
	UpsertVote(ctx context.Context, vote models.Vote) (*models.Choice, error)
	Votes(ctx context.Context, loanID domain.LoanID) ([]models.Vote, error)
	AddRepayment(ctx context.Context, rep models.Repayment) (bool, error)
	Repayments(ctx context.Context, loanID domain.LoanID) ([]models.Repayment, error)
	RepaymentRecord(ctx context.Context, memberID domain.MemberID) (completed, defaulted int, err error)
	VotingOlderThan(ctx context.Context, cutoff time.Time) ([]models.Loan, error)
	RepayingDueBefore(ctx context.Context, cutoff time.Time) ([]models.Loan, error)
	Approved(ctx context.Context) ([]models.Loan, error)
}

// Pool is the circle registry surface the engine draws funds from.
type Pool interface {
	RequireMember(ctx context.Context, circleID domain.CircleID, memberID domain.MemberID) error
	MemberJoinedAt(ctx context.Context, circleID domain.CircleID, memberID domain.MemberID) (time.Time, error)
	EligibleVoters(ctx context.Context, circleID domain.CircleID, borrower domain.MemberID) ([]domain.MemberID, error)
	DebitPool(ctx context.Context, circleID domain.CircleID, amount domain.Paise) error
	CreditPool(ctx context.Context, circleID domain.CircleID, amount domain.Paise) error
	RecordInflow(ctx context.Context, circleID domain.CircleID, memberID domain.MemberID, amount domain.Paise, externalRef string) error
}

// Ledger is the token ledger surface for rewards.
type Ledger interface {
	AccruePending(ctx context.Context, memberID domain.MemberID, amount domain.Saathi) error
	RealizePending(ctx context.Context, memberID domain.MemberID, desc string) (domain.Saathi, error)
	ForfeitPending(ctx context.Context, memberID domain.MemberID) (domain.Saathi, error)
}

// Vouches pins and slashes the stakes backing a borrower.
type Vouches interface {
	LockForLoan(ctx context.Context, loanID domain.LoanID, borrowerID domain.MemberID) ([]vouchmodels.Vouch, error)
	ReleaseForLoan(ctx context.Context, loanID domain.LoanID) error
	SlashForLoan(ctx context.Context, loanID domain.LoanID, desc string) error
}

// TrustScores snapshots and recomputes borrower scores.
type TrustScores interface {
	ComputeScore(ctx context.Context, memberID domain.MemberID) (*trustmodels.Score, error)
}

// Metrics records lifecycle observations.
type Metrics interface {
	ObserveTransition(status string)
	ObserveVote(choice string)
	ObserveDisbursement(paise int64)
	ObserveRepayment(paise int64)
	ObserveDeferredDisbursement()
}

// Service orchestrates the loan state machine. Per-loan mutations are
// serialized through a sharded mutex so concurrent votes, repayment
// confirmations, and scheduler calls cannot race a transition.
type Service struct {
	store   Store
	pool    Pool
	ledger  Ledger
	vouches Vouches
	trust   TrustScores
	policy  consensus.Policy
	metrics Metrics
	tracer  tracer.Tracer
	logger  *slog.Logger
	locks   *platformsync.ShardedMutex
	now     func() time.Time

	votingWindow time.Duration
	graceWindow  time.Duration
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

func WithPolicy(p consensus.Policy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithVotingWindow bounds how long a loan may sit in voting before the
// scheduler expires it.
func WithVotingWindow(d time.Duration) Option {
	return func(s *Service) {
		s.votingWindow = d
	}
}

// WithGraceWindow sets how far past a missed installment a loan may drift
// before it can be marked defaulted.
func WithGraceWindow(d time.Duration) Option {
	return func(s *Service) {
		s.graceWindow = d
	}
}

func New(store Store, pool Pool, ledger Ledger, vouches Vouches, trust TrustScores, opts ...Option) *Service {
	s := &Service{
		store:        store,
		pool:         pool,
		ledger:       ledger,
		vouches:      vouches,
		trust:        trust,
		policy:       consensus.EarlyMajority{},
		tracer:       tracer.NewNoop(),
		locks:        platformsync.NewShardedMutex(),
		now:          time.Now,
		votingWindow: 72 * time.Hour,
		graceWindow:  7 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply creates a loan in voting. The borrower's trust score is snapshotted
// into an interest rate and the eligible voter count is frozen.
func (s *Service) Apply(ctx context.Context, borrowerID domain.MemberID, circleID domain.CircleID, amount domain.Paise, tenureDays int, purpose string) (_ *models.Loan, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanApply,
		tracer.String(tracer.AttrCircleID, circleID.String()),
		tracer.Int64(tracer.AttrAmount, int64(amount)),
	)
	defer func() { span.End(err) }()

	if borrowerID.IsNil() || circleID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "borrower and circle IDs required")
	}
	if amount < minLoanAmount || amount > maxLoanAmount {
		return nil, dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("amount must be between %d and %d paise", minLoanAmount, maxLoanAmount))
	}
	if tenureDays < minTenureDays || tenureDays > maxTenureDays || tenureDays%7 != 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "tenure must be a multiple of 7 days, between 7 and 364")
	}
	purpose = strings.TrimSpace(purpose)
	if purpose == "" || len(purpose) > maxPurposeLen {
		return nil, dErrors.New(dErrors.CodeValidation, "purpose must be 1-140 characters")
	}
	if err := s.pool.RequireMember(ctx, circleID, borrowerID); err != nil {
		return nil, err
	}

	existing, err := s.store.ByBorrower(ctx, borrowerID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check open loans")
	}
	for _, l := range existing {
		if l.CircleID == circleID && !l.Status.Terminal() {
			return nil, dErrors.New(dErrors.CodeStateConflict, "borrower already has an open loan in this circle")
		}
	}

	score, err := s.trust.ComputeScore(ctx, borrowerID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to snapshot trust score")
	}
	rate := models.TierFor(score.Value)
	span.SetAttributes(tracer.Int64(tracer.AttrTrustScore, int64(score.Value)))

	voters, err := s.pool.EligibleVoters(ctx, circleID, borrowerID)
	if err != nil {
		return nil, err
	}
	if len(voters) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "circle has no other members to vote")
	}

	now := s.now()
	loan := &models.Loan{
		ID:           domain.LoanID(uuid.New()),
		BorrowerID:   borrowerID,
		CircleID:     circleID,
		Amount:       amount,
		InterestRate: rate,
		TenureDays:   tenureDays,
		Purpose:      purpose,
		Status:       models.StatusVoting,
		VotesTotal:   len(voters),
		EMIAmount:    models.EMIAmount(amount, rate, tenureDays),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, loan); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create loan")
	}

	s.observeTransition(models.StatusVoting)
	s.logAudit(ctx, "loan_applied",
		"loan_id", loan.ID,
		"borrower_id", borrowerID,
		"circle_id", circleID,
		"amount", int64(amount),
		"interest_rate_bps", int64(rate),
		"trust_score", score.Value,
		"votes_total", loan.VotesTotal,
	)
	return loan, nil
}

// Vote records an eligible member's position. Re-voting overwrites the
// earlier choice. The tally is recounted from the vote log inside the same
// per-loan critical section that wrote the ballot, so a ballot whose turn
// failed mid-way is picked up by the next count.
func (s *Service) Vote(ctx context.Context, voterID domain.MemberID, loanID domain.LoanID, choice models.Choice) (_ *models.Loan, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanVote,
		tracer.String(tracer.AttrLoanID, loanID.String()),
		tracer.String(tracer.AttrChoice, string(choice)),
	)
	defer func() { span.End(err) }()

	if !choice.Valid() {
		return nil, dErrors.New(dErrors.CodeValidation, "choice must be approve or reject")
	}

	s.locks.Lock(loanID.String())
	defer s.locks.Unlock(loanID.String())

	loan, err := s.loadLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.StatusVoting {
		return nil, dErrors.New(dErrors.CodeStateConflict, "loan is not open for voting")
	}
	if voterID == loan.BorrowerID {
		return nil, dErrors.New(dErrors.CodeNotAuthorized, "borrowers cannot vote on their own loan")
	}
	// The electorate froze when the loan was created; seats taken since then
	// do not carry a ballot.
	joined, err := s.pool.MemberJoinedAt(ctx, loan.CircleID, voterID)
	if err != nil {
		return nil, err
	}
	if joined.After(loan.CreatedAt) {
		return nil, dErrors.New(dErrors.CodeNotAuthorized, "joined the circle after voting opened")
	}

	previous, err := s.store.UpsertVote(ctx, models.Vote{
		LoanID:  loanID,
		VoterID: voterID,
		Choice:  choice,
		CastAt:  s.now(),
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record vote")
	}
	ballots, err := s.store.Votes(ctx, loanID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to tally votes")
	}
	loan.VotesFor, loan.VotesAgainst = countVotes(ballots)
	if s.metrics != nil && (previous == nil || *previous != choice) {
		s.metrics.ObserveVote(string(choice))
	}

	outcome := s.policy.Evaluate(consensus.Tally{
		For:     loan.VotesFor,
		Against: loan.VotesAgainst,
		Total:   loan.VotesTotal,
	})
	span.SetAttributes(tracer.String(tracer.AttrOutcome, string(outcome)))

	switch outcome {
	case consensus.OutcomeApproved:
		loan.Status = models.StatusApproved
	case consensus.OutcomeRejected:
		loan.Status = models.StatusRejected
	case consensus.OutcomePending:
	}
	loan.UpdatedAt = s.now()
	// The resolution must be durable before any money moves. A failure here
	// leaves the ballot committed and the loan still voting; the next vote or
	// retry recounts and resolves again.
	if err := s.store.Update(ctx, loan); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save vote tally")
	}

	switch outcome {
	case consensus.OutcomeApproved:
		span.AddEvent(tracer.EventResolved, tracer.String(tracer.AttrStatus, string(models.StatusApproved)))
		s.observeTransition(models.StatusApproved)
		s.logAudit(ctx, "loan_approved", "loan_id", loanID, "votes_for", loan.VotesFor, "votes_against", loan.VotesAgainst)
		if err := s.disburse(ctx, loan, span); err != nil {
			return nil, err
		}
	case consensus.OutcomeRejected:
		span.AddEvent(tracer.EventResolved, tracer.String(tracer.AttrStatus, string(models.StatusRejected)))
		s.observeTransition(models.StatusRejected)
		s.logAudit(ctx, "loan_rejected", "loan_id", loanID, "votes_for", loan.VotesFor, "votes_against", loan.VotesAgainst)
	case consensus.OutcomePending:
	}
	return loan, nil
}

// disburse moves the principal from the circle pool to the borrower and pins
// the vouches the approval counted. The loan is already persisted as
// approved, so any failure leaves it retryable by the deadline sweep. An
// underfunded pool defers the payout. Caller holds the loan lock.
func (s *Service) disburse(ctx context.Context, loan *models.Loan, span tracer.Span) error {
	if _, err := s.vouches.LockForLoan(ctx, loan.ID, loan.BorrowerID); err != nil {
		return err
	}

	if err := s.pool.DebitPool(ctx, loan.CircleID, loan.Amount); err != nil {
		if dErrors.HasCode(err, dErrors.CodeInsufficientPool) {
			span.AddEvent(tracer.EventDisbursementFailed)
			if s.metrics != nil {
				s.metrics.ObserveDeferredDisbursement()
			}
			s.logAudit(ctx, "disbursement_deferred", "loan_id", loan.ID, "amount", int64(loan.Amount))
			return nil
		}
		return err
	}
	return s.persistDisbursed(ctx, loan, false)
}

// persistDisbursed writes the disbursed state after a successful pool debit.
// When the write fails the principal goes back to the pool so the retry path
// debits exactly once.
func (s *Service) persistDisbursed(ctx context.Context, loan *models.Loan, retried bool) error {
	firstEMI := s.now().Add(emiInterval)
	loan.Status = models.StatusDisbursed
	loan.NextEMIDate = &firstEMI
	loan.UpdatedAt = s.now()
	if err := s.store.Update(ctx, loan); err != nil {
		loan.Status = models.StatusApproved
		loan.NextEMIDate = nil
		if cerr := s.pool.CreditPool(ctx, loan.CircleID, loan.Amount); cerr != nil && s.logger != nil {
			s.logger.ErrorContext(ctx, "failed to return undisbursed principal",
				"loan_id", loan.ID, "amount", int64(loan.Amount), "error", cerr)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save disbursement")
	}

	s.observeTransition(models.StatusDisbursed)
	if s.metrics != nil {
		s.metrics.ObserveDisbursement(int64(loan.Amount))
	}
	s.logAudit(ctx, "loan_disbursed",
		"loan_id", loan.ID,
		"amount", int64(loan.Amount),
		"next_emi_date", firstEMI,
		"retried", retried,
	)
	return nil
}

// RetryDisbursement re-attempts the pool debit for an approved loan whose
// earlier disbursement found the pool short.
func (s *Service) RetryDisbursement(ctx context.Context, loanID domain.LoanID) (_ *models.Loan, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanDisburse,
		tracer.String(tracer.AttrLoanID, loanID.String()))
	defer func() { span.End(err) }()

	s.locks.Lock(loanID.String())
	defer s.locks.Unlock(loanID.String())

	loan, err := s.loadLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status == models.StatusDisbursed || loan.Status == models.StatusRepaying {
		// Replay of an already-settled disbursement.
		return loan, nil
	}
	if loan.Status != models.StatusApproved {
		return nil, dErrors.New(dErrors.CodeStateConflict, "loan is not awaiting disbursement")
	}

	// An earlier attempt may have failed before pinning the vouches; the
	// store absorbs re-locked pairs.
	if _, err := s.vouches.LockForLoan(ctx, loan.ID, loan.BorrowerID); err != nil {
		return nil, err
	}
	if err := s.pool.DebitPool(ctx, loan.CircleID, loan.Amount); err != nil {
		return nil, err
	}
	if err := s.persistDisbursed(ctx, loan, true); err != nil {
		return nil, err
	}
	return loan, nil
}

// ConfirmRepayment records a confirmed installment from the payment
// collaborator. Replaying the same external reference is absorbed. Reaching
// the total owed completes the loan: pending rewards are realized, vouch
// locks released, and the borrower's score recomputed.
func (s *Service) ConfirmRepayment(ctx context.Context, loanID domain.LoanID, amount domain.Paise, method, externalRef string) (_ *models.Loan, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanRepayment,
		tracer.String(tracer.AttrLoanID, loanID.String()),
		tracer.Int64(tracer.AttrAmount, int64(amount)),
	)
	defer func() { span.End(err) }()

	if amount <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "repayment must be positive")
	}
	externalRef = strings.TrimSpace(externalRef)
	if externalRef == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "external payment reference required")
	}

	s.locks.Lock(loanID.String())
	defer s.locks.Unlock(loanID.String())

	loan, err := s.loadLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.StatusDisbursed && loan.Status != models.StatusRepaying {
		return nil, dErrors.New(dErrors.CodeStateConflict, "loan is not accepting repayments")
	}

	// The repayment log is authoritative: a loan row whose last write was
	// lost heals from the confirmed total before anything else happens.
	confirmed, err := s.confirmedTotal(ctx, loanID)
	if err != nil {
		return nil, err
	}
	stale := loan.TotalRepaid != confirmed
	loan.TotalRepaid = confirmed
	if amount > loan.Outstanding() {
		return nil, dErrors.New(dErrors.CodeValidation, "repayment exceeds outstanding balance")
	}

	applied, err := s.store.AddRepayment(ctx, models.Repayment{
		ID:          domain.RepaymentID(uuid.New()),
		LoanID:      loanID,
		Amount:      amount,
		Method:      method,
		ExternalRef: externalRef,
		Status:      models.RepaymentConfirmed,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record repayment")
	}
	if !applied && !stale {
		// Replay of an already-confirmed installment.
		return loan, nil
	}

	// The pool credit dedups on the loan-scoped reference: the first
	// confirmation and a heal of a lost turn each land it exactly once.
	if err := s.pool.RecordInflow(ctx, loan.CircleID, loan.BorrowerID, amount, repaymentRef(loanID, externalRef)); err != nil {
		return nil, err
	}
	if applied {
		loan.TotalRepaid += amount
		if s.metrics != nil {
			s.metrics.ObserveRepayment(int64(amount))
		}
		if err := s.ledger.AccruePending(ctx, loan.BorrowerID, installmentReward); err != nil {
			return nil, err
		}
	}

	if loan.Outstanding() == 0 {
		if err := s.complete(ctx, loan); err != nil {
			return nil, err
		}
	} else {
		loan.Status = models.StatusRepaying
		next := s.now().Add(emiInterval)
		loan.NextEMIDate = &next
	}

	loan.UpdatedAt = s.now()
	if err := s.store.Update(ctx, loan); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save repayment")
	}
	s.logAudit(ctx, "repayment_confirmed",
		"loan_id", loanID,
		"amount", int64(amount),
		"total_repaid", int64(loan.TotalRepaid),
		"status", string(loan.Status),
	)
	return loan, nil
}

// complete transitions a fully repaid loan. Caller holds the loan lock and
// persists the loan afterwards.
func (s *Service) complete(ctx context.Context, loan *models.Loan) error {
	loan.Status = models.StatusCompleted
	loan.NextEMIDate = nil

	reward, err := s.ledger.RealizePending(ctx, loan.BorrowerID, "loan completion reward")
	if err != nil {
		return err
	}
	if err := s.vouches.ReleaseForLoan(ctx, loan.ID); err != nil {
		return err
	}

	s.observeTransition(models.StatusCompleted)
	s.logAudit(ctx, "loan_completed", "loan_id", loan.ID, "reward", int64(reward))
	s.recomputeScore(ctx, loan.BorrowerID)
	return nil
}

// MarkOverdue defaults a loan whose next installment has drifted past the
// grace window. Called by the scheduler; idempotent on terminal loans.
func (s *Service) MarkOverdue(ctx context.Context, loanID domain.LoanID) (_ *models.Loan, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanDefault,
		tracer.String(tracer.AttrLoanID, loanID.String()))
	defer func() { span.End(err) }()

	s.locks.Lock(loanID.String())
	defer s.locks.Unlock(loanID.String())

	loan, err := s.loadLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status == models.StatusDefaulted {
		return loan, nil
	}
	if loan.Status != models.StatusDisbursed && loan.Status != models.StatusRepaying {
		return nil, dErrors.New(dErrors.CodeStateConflict, "loan cannot default from its current state")
	}
	if loan.NextEMIDate == nil || s.now().Before(loan.NextEMIDate.Add(s.graceWindow)) {
		return nil, dErrors.New(dErrors.CodeStateConflict, "loan is within its grace window")
	}

	// Slash and forfeit before the status write: both are no-ops on replay,
	// so a failure here leaves the loan retryable by the next sweep.
	if err := s.vouches.SlashForLoan(ctx, loanID, "borrower default"); err != nil {
		return nil, err
	}
	forfeited, err := s.ledger.ForfeitPending(ctx, loan.BorrowerID)
	if err != nil {
		return nil, err
	}

	loan.Status = models.StatusDefaulted
	loan.UpdatedAt = s.now()
	if err := s.store.Update(ctx, loan); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save default")
	}

	s.observeTransition(models.StatusDefaulted)
	s.logAudit(ctx, "loan_defaulted",
		"loan_id", loanID,
		"borrower_id", loan.BorrowerID,
		"outstanding", int64(loan.Outstanding()),
		"forfeited_rewards", int64(forfeited),
	)
	s.recomputeScore(ctx, loan.BorrowerID)
	return loan, nil
}

// ExpireVoting rejects a loan still in voting after the voting window.
// Called by the scheduler; idempotent on already-resolved loans.
func (s *Service) ExpireVoting(ctx context.Context, loanID domain.LoanID) (*models.Loan, error) {
	s.locks.Lock(loanID.String())
	defer s.locks.Unlock(loanID.String())

	loan, err := s.loadLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.StatusVoting {
		return loan, nil
	}
	if s.now().Before(loan.CreatedAt.Add(s.votingWindow)) {
		return nil, dErrors.New(dErrors.CodeStateConflict, "voting window still open")
	}

	loan.Status = models.StatusRejected
	loan.UpdatedAt = s.now()
	if err := s.store.Update(ctx, loan); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to expire voting")
	}

	s.observeTransition(models.StatusRejected)
	s.logAudit(ctx, "loan_voting_expired", "loan_id", loanID, "votes_for", loan.VotesFor, "votes_against", loan.VotesAgainst)
	return loan, nil
}

// RecordAnchor stores the external anchor reference reported by the notary
// collaborator. Replaying the same hash is absorbed; a different hash for an
// already-anchored loan conflicts.
func (s *Service) RecordAnchor(ctx context.Context, loanID domain.LoanID, txHash string) (*models.Loan, error) {
	txHash = strings.TrimSpace(txHash)
	if txHash == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "transaction hash required")
	}

	s.locks.Lock(loanID.String())
	defer s.locks.Unlock(loanID.String())

	loan, err := s.loadLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.AnchorTxHash == txHash {
		return loan, nil
	}
	if loan.AnchorTxHash != "" {
		return nil, dErrors.New(dErrors.CodeConflict, "loan already anchored under a different hash")
	}

	loan.AnchorTxHash = txHash
	loan.UpdatedAt = s.now()
	if err := s.store.Update(ctx, loan); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save anchor reference")
	}
	s.logAudit(ctx, "loan_anchored", "loan_id", loanID, "tx_hash", txHash)
	return loan, nil
}

// GetLoan returns a loan to a member of its circle.
func (s *Service) GetLoan(ctx context.Context, actor domain.MemberID, loanID domain.LoanID) (*models.Loan, error) {
	loan, err := s.loadLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if err := s.pool.RequireMember(ctx, loan.CircleID, actor); err != nil {
		return nil, err
	}
	return loan, nil
}

// LoansForCircle lists a circle's loans for one of its members.
func (s *Service) LoansForCircle(ctx context.Context, actor domain.MemberID, circleID domain.CircleID) ([]models.Loan, error) {
	if err := s.pool.RequireMember(ctx, circleID, actor); err != nil {
		return nil, err
	}
	loans, err := s.store.ByCircle(ctx, circleID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load loans")
	}
	return loans, nil
}

// LoansForBorrower lists the member's own loans.
func (s *Service) LoansForBorrower(ctx context.Context, borrowerID domain.MemberID) ([]models.Loan, error) {
	loans, err := s.store.ByBorrower(ctx, borrowerID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load loans")
	}
	return loans, nil
}

// RepaymentsFor lists a loan's installments for a member of its circle.
func (s *Service) RepaymentsFor(ctx context.Context, actor domain.MemberID, loanID domain.LoanID) ([]models.Repayment, error) {
	loan, err := s.loadLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if err := s.pool.RequireMember(ctx, loan.CircleID, actor); err != nil {
		return nil, err
	}
	reps, err := s.store.Repayments(ctx, loanID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load repayments")
	}
	return reps, nil
}

// RepaymentRecord reports the member's completed and defaulted loan counts;
// a trust score input.
func (s *Service) RepaymentRecord(ctx context.Context, memberID domain.MemberID) (int, int, error) {
	completed, defaulted, err := s.store.RepaymentRecord(ctx, memberID)
	if err != nil {
		return 0, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load repayment record")
	}
	return completed, defaulted, nil
}

// SweepDeadlines advances loans the clock has passed: expired votes, overdue
// installments, and deferred disbursements. Called by the deadline worker.
func (s *Service) SweepDeadlines(ctx context.Context) error {
	now := s.now()

	expired, err := s.store.VotingOlderThan(ctx, now.Add(-s.votingWindow))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list expired votes")
	}
	for _, loan := range expired {
		if _, err := s.ExpireVoting(ctx, loan.ID); err != nil {
			s.logSweepFailure(ctx, "expire_voting", loan.ID, err)
		}
	}

	overdue, err := s.store.RepayingDueBefore(ctx, now.Add(-s.graceWindow))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list overdue loans")
	}
	for _, loan := range overdue {
		if _, err := s.MarkOverdue(ctx, loan.ID); err != nil {
			s.logSweepFailure(ctx, "mark_overdue", loan.ID, err)
		}
	}

	deferred, err := s.store.Approved(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list deferred disbursements")
	}
	for _, loan := range deferred {
		if _, err := s.RetryDisbursement(ctx, loan.ID); err != nil && !dErrors.HasCode(err, dErrors.CodeInsufficientPool) {
			s.logSweepFailure(ctx, "retry_disbursement", loan.ID, err)
		}
	}
	return nil
}

func (s *Service) loadLoan(ctx context.Context, loanID domain.LoanID) (*models.Loan, error) {
	loan, err := s.store.FindByID(ctx, loanID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "loan not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load loan")
	}
	return loan, nil
}

// countVotes tallies the committed ballots; each voter holds at most one.
func countVotes(ballots []models.Vote) (votesFor, votesAgainst int) {
	for _, b := range ballots {
		if b.Choice == models.ChoiceApprove {
			votesFor++
		} else {
			votesAgainst++
		}
	}
	return votesFor, votesAgainst
}

// confirmedTotal sums the loan's confirmed installments from the store.
func (s *Service) confirmedTotal(ctx context.Context, loanID domain.LoanID) (domain.Paise, error) {
	reps, err := s.store.Repayments(ctx, loanID)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load repayments")
	}
	var total domain.Paise
	for _, r := range reps {
		if r.Status == models.RepaymentConfirmed {
			total += r.Amount
		}
	}
	return total, nil
}

// repaymentRef namespaces the payment reference per loan so the pool's
// replay guard cannot collide across loans in the same circle.
func repaymentRef(loanID domain.LoanID, externalRef string) string {
	return "loan:" + loanID.String() + ":" + externalRef
}

func (s *Service) recomputeScore(ctx context.Context, memberID domain.MemberID) {
	if _, err := s.trust.ComputeScore(ctx, memberID); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "trust recompute failed", "error", err, "member_id", memberID)
	}
}

func (s *Service) observeTransition(status models.Status) {
	if s.metrics != nil {
		s.metrics.ObserveTransition(string(status))
	}
}

func (s *Service) logSweepFailure(ctx context.Context, action string, loanID domain.LoanID, err error) {
	if s.logger == nil {
		return
	}
	s.logger.ErrorContext(ctx, "deadline sweep action failed",
		"action", action,
		"loan_id", loanID,
		"error", err,
	)
}

func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if s.logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	s.logger.InfoContext(ctx, event, args...)
}
