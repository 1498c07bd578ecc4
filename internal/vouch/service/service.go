// Package service implements the vouch registry: staked guarantees between
// circle members, their loan locks, and slashing on borrower default.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"bharosa/internal/sentinel"
	tokenmodels "bharosa/internal/token/models"
	"bharosa/internal/vouch/models"
	"bharosa/pkg/domain"
	dErrors "bharosa/pkg/domain-errors"
	"bharosa/pkg/requestcontext"
)

// Store persists vouches and loan locks.
type Store interface {
	Create(ctx context.Context, v *models.Vouch) error
	FindByID(ctx context.Context, vouchID domain.VouchID) (*models.Vouch, error)
	ActiveByVouchee(ctx context.Context, voucheeID domain.MemberID) ([]models.Vouch, error)
	ActiveByVoucher(ctx context.Context, voucherID domain.MemberID) ([]models.Vouch, error)
	Deactivate(ctx context.Context, vouchID domain.VouchID, revokedAt time.Time) error
	LockForLoan(ctx context.Context, locks []models.LoanLock) error
	LocksFor(ctx context.Context, loanID domain.LoanID) ([]models.LoanLock, error)
	ReleaseLoan(ctx context.Context, loanID domain.LoanID) error
	IsLocked(ctx context.Context, vouchID domain.VouchID) (bool, error)
}

// Ledger is the token ledger surface the registry stakes through.
type Ledger interface {
	Stake(ctx context.Context, memberID domain.MemberID, amount domain.Saathi, reason string) (*tokenmodels.Hold, error)
	Unstake(ctx context.Context, holdID domain.HoldID) (domain.Saathi, error)
	Slash(ctx context.Context, holdID domain.HoldID, amount domain.Saathi, desc string) error
}

// CircleRegistry checks circle membership.
type CircleRegistry interface {
	RequireMember(ctx context.Context, circleID domain.CircleID, memberID domain.MemberID) error
}

// TrustObserver is notified after vouch changes so both sides' trust scores
// can be recomputed.
type TrustObserver interface {
	VouchChanged(ctx context.Context, voucheeID, voucherID domain.MemberID)
}

// SlashPolicy decides how much of each locked vouch burns on default.
type SlashPolicy interface {
	Share(v *models.Vouch) domain.Saathi
}

// ProportionalSlash burns the same fraction of every locked stake, so larger
// stakes lose proportionally more. The default fraction burns the whole stake.
type ProportionalSlash struct {
	Fraction domain.BasisPoints
}

func (p ProportionalSlash) Share(v *models.Vouch) domain.Saathi {
	fraction := p.Fraction
	if fraction <= 0 || fraction > 10_000 {
		fraction = 10_000
	}
	return domain.Saathi(int64(v.Stake) * int64(fraction) / 10_000)
}

// Service orchestrates the vouch registry.
type Service struct {
	store    Store
	ledger   Ledger
	circles  CircleRegistry
	policy   SlashPolicy
	observer TrustObserver
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithSlashPolicy(policy SlashPolicy) Option {
	return func(s *Service) {
		s.policy = policy
	}
}

func WithTrustObserver(o TrustObserver) Option {
	return func(s *Service) {
		s.observer = o
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(store Store, ledger Ledger, circles CircleRegistry, opts ...Option) *Service {
	s := &Service{
		store:   store,
		ledger:  ledger,
		circles: circles,
		policy:  ProportionalSlash{Fraction: 10_000},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateVouch stakes the voucher's tokens behind the vouchee. Both must be
// members of the circle and the stake must fall inside the level's band.
func (s *Service) CreateVouch(ctx context.Context, voucherID, voucheeID domain.MemberID, circleID domain.CircleID, level models.Level, stake domain.Saathi) (*models.Vouch, error) {
	if voucherID.IsNil() || voucheeID.IsNil() || circleID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "voucher, vouchee, and circle IDs required")
	}
	if voucherID == voucheeID {
		return nil, dErrors.New(dErrors.CodeValidation, "cannot vouch for yourself")
	}
	band, ok := models.BandFor(level)
	if !ok {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown vouch level")
	}
	if !band.Contains(stake) {
		return nil, dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("stake for level %q must be between %d and %d", level, band.Min, band.Max))
	}
	if err := s.circles.RequireMember(ctx, circleID, voucherID); err != nil {
		return nil, err
	}
	if err := s.circles.RequireMember(ctx, circleID, voucheeID); err != nil {
		return nil, err
	}

	hold, err := s.ledger.Stake(ctx, voucherID, stake, "vouch stake")
	if err != nil {
		return nil, err
	}

	vouch := &models.Vouch{
		ID:        domain.VouchID(uuid.New()),
		VoucherID: voucherID,
		VoucheeID: voucheeID,
		CircleID:  circleID,
		Level:     level,
		Stake:     stake,
		HoldID:    hold.ID,
		Active:    true,
		CreatedAt: s.now(),
	}
	if err := s.store.Create(ctx, vouch); err != nil {
		// Return the stake before surfacing the failure.
		if _, unstakeErr := s.ledger.Unstake(ctx, hold.ID); unstakeErr != nil {
			s.logError(ctx, "failed to unwind stake after vouch create failure", unstakeErr)
		}
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.New(dErrors.CodeConflict, "already vouching for this member in this circle")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create vouch")
	}

	s.logAudit(ctx, "vouch_created",
		"vouch_id", vouch.ID,
		"voucher_id", voucherID,
		"vouchee_id", voucheeID,
		"level", string(level),
		"stake", int64(stake),
	)
	s.notify(ctx, voucheeID, voucherID)
	return vouch, nil
}

// RevokeVouch deactivates the vouch and returns the stake, unless a live
// loan still counts it.
func (s *Service) RevokeVouch(ctx context.Context, actor domain.MemberID, vouchID domain.VouchID) error {
	vouch, err := s.store.FindByID(ctx, vouchID)
	if err != nil {
		return wrapVouchErr(err, "failed to load vouch")
	}
	if vouch.VoucherID != actor {
		return dErrors.New(dErrors.CodeNotAuthorized, "only the voucher can revoke")
	}
	if !vouch.Active {
		return dErrors.New(dErrors.CodeStateConflict, "vouch already revoked")
	}

	locked, err := s.store.IsLocked(ctx, vouchID)
	if err != nil {
		return wrapVouchErr(err, "failed to check loan locks")
	}
	if locked {
		return dErrors.New(dErrors.CodeStateConflict, "vouch is backing an active loan")
	}

	if err := s.store.Deactivate(ctx, vouchID, s.now()); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return dErrors.New(dErrors.CodeStateConflict, "vouch already revoked")
		}
		return wrapVouchErr(err, "failed to revoke vouch")
	}
	returned, err := s.ledger.Unstake(ctx, vouch.HoldID)
	if err != nil {
		return err
	}

	s.logAudit(ctx, "vouch_revoked",
		"vouch_id", vouchID,
		"voucher_id", vouch.VoucherID,
		"vouchee_id", vouch.VoucheeID,
		"returned", int64(returned),
	)
	s.notify(ctx, vouch.VoucheeID, vouch.VoucherID)
	return nil
}

// ActiveFor returns the active vouches backing a member.
func (s *Service) ActiveFor(ctx context.Context, voucheeID domain.MemberID) ([]models.Vouch, error) {
	vouches, err := s.store.ActiveByVouchee(ctx, voucheeID)
	if err != nil {
		return nil, wrapVouchErr(err, "failed to load vouches")
	}
	return vouches, nil
}

// GivenBy returns the active vouches a member has given.
func (s *Service) GivenBy(ctx context.Context, voucherID domain.MemberID) ([]models.Vouch, error) {
	vouches, err := s.store.ActiveByVoucher(ctx, voucherID)
	if err != nil {
		return nil, wrapVouchErr(err, "failed to load vouches")
	}
	return vouches, nil
}

// StrengthFor sums the active stake backing a member; a trust score input.
func (s *Service) StrengthFor(ctx context.Context, voucheeID domain.MemberID) (domain.Saathi, int, error) {
	vouches, err := s.store.ActiveByVouchee(ctx, voucheeID)
	if err != nil {
		return 0, 0, wrapVouchErr(err, "failed to load vouches")
	}
	var total domain.Saathi
	for _, v := range vouches {
		total += v.Stake
	}
	return total, len(vouches), nil
}

// LockForLoan pins the borrower's active vouches to the loan so revocation
// cannot retroactively invalidate an already-approved loan. Returns the
// vouches that were counted.
func (s *Service) LockForLoan(ctx context.Context, loanID domain.LoanID, borrowerID domain.MemberID) ([]models.Vouch, error) {
	vouches, err := s.store.ActiveByVouchee(ctx, borrowerID)
	if err != nil {
		return nil, wrapVouchErr(err, "failed to load vouches")
	}
	if len(vouches) == 0 {
		return nil, nil
	}
	now := s.now()
	locks := make([]models.LoanLock, len(vouches))
	for i, v := range vouches {
		locks[i] = models.LoanLock{LoanID: loanID, VouchID: v.ID, CreatedAt: now}
	}
	if err := s.store.LockForLoan(ctx, locks); err != nil {
		return nil, wrapVouchErr(err, "failed to lock vouches")
	}
	s.logAudit(ctx, "vouches_locked", "loan_id", loanID, "count", len(locks))
	return vouches, nil
}

// ReleaseForLoan drops the loan's locks; the vouches stay active and
// revocable again.
func (s *Service) ReleaseForLoan(ctx context.Context, loanID domain.LoanID) error {
	if err := s.store.ReleaseLoan(ctx, loanID); err != nil {
		return wrapVouchErr(err, "failed to release vouch locks")
	}
	s.logAudit(ctx, "vouches_released", "loan_id", loanID)
	return nil
}

// SlashForLoan burns the locked stakes backing a defaulted loan. The slash
// policy decides each vouch's share; any remainder is returned to the voucher
// and the vouch ends either way.
func (s *Service) SlashForLoan(ctx context.Context, loanID domain.LoanID, desc string) error {
	locks, err := s.store.LocksFor(ctx, loanID)
	if err != nil {
		return wrapVouchErr(err, "failed to load vouch locks")
	}

	for _, lock := range locks {
		vouch, err := s.store.FindByID(ctx, lock.VouchID)
		if err != nil {
			return wrapVouchErr(err, "failed to load locked vouch")
		}
		if !vouch.Active {
			continue
		}

		share := s.policy.Share(vouch)
		if share > 0 {
			if err := s.ledger.Slash(ctx, vouch.HoldID, share, desc); err != nil {
				return err
			}
		}
		if share < vouch.Stake {
			if _, err := s.ledger.Unstake(ctx, vouch.HoldID); err != nil {
				return err
			}
		}
		if err := s.store.Deactivate(ctx, vouch.ID, s.now()); err != nil && !errors.Is(err, sentinel.ErrInvalidState) {
			return wrapVouchErr(err, "failed to end slashed vouch")
		}

		s.logAudit(ctx, "vouch_slashed",
			"vouch_id", vouch.ID,
			"loan_id", loanID,
			"voucher_id", vouch.VoucherID,
			"amount", int64(share),
		)
		s.notify(ctx, vouch.VoucheeID, vouch.VoucherID)
	}

	if err := s.store.ReleaseLoan(ctx, loanID); err != nil {
		return wrapVouchErr(err, "failed to clear vouch locks")
	}
	return nil
}

func (s *Service) notify(ctx context.Context, voucheeID, voucherID domain.MemberID) {
	if s.observer != nil {
		s.observer.VouchChanged(ctx, voucheeID, voucherID)
	}
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

func (s *Service) logError(ctx context.Context, msg string, err error) {
	if s.logger == nil {
		return
	}
	s.logger.ErrorContext(ctx, msg, "error", err, "request_id", requestcontext.RequestID(ctx))
}

func wrapVouchErr(err error, action string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "vouch not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, action)
}
