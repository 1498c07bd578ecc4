// Package service implements the SAATHI token ledger. Every mutating
// operation appends exactly one typed transaction and updates the cached
// balance atomically via the store.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"bharosa/internal/sentinel"
	tokenmetrics "bharosa/internal/token/metrics"
	"bharosa/internal/token/models"
	"bharosa/pkg/domain"
	dErrors "bharosa/pkg/domain-errors"
	"bharosa/pkg/requestcontext"
)

// Store persists balances, holds, and the append-only transaction log.
// Each mutating method is a single atomic unit; partial states must never
// be observable. Shortfalls surface as sentinel.ErrInsufficient.
type Store interface {
	Balance(ctx context.Context, memberID domain.MemberID) (models.Balance, error)
	CreditAvailable(ctx context.Context, tx *models.Transaction) error
	DebitAvailable(ctx context.Context, tx *models.Transaction) error
	CreateHold(ctx context.Context, hold *models.Hold, tx *models.Transaction) error
	FindHold(ctx context.Context, holdID domain.HoldID) (*models.Hold, error)
	ReleaseHold(ctx context.Context, holdID domain.HoldID, tx *models.Transaction) (domain.Saathi, error)
	BurnHold(ctx context.Context, holdID domain.HoldID, amount domain.Saathi, tx *models.Transaction) error
	AccruePending(ctx context.Context, memberID domain.MemberID, amount domain.Saathi) error
	SettlePending(ctx context.Context, memberID domain.MemberID, tx *models.Transaction) (domain.Saathi, error)
	History(ctx context.Context, memberID domain.MemberID, limit int) ([]models.Transaction, error)
}

// Service is the token ledger.
type Service struct {
	store   Store
	logger  *slog.Logger
	metrics *tokenmetrics.Metrics
	now     func() time.Time
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *tokenmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(store Store, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Credit adds SAATHI to a member's available balance. Only earn and reward
// entries may be credited; everything else is a programming error surfaced
// as validation.
func (s *Service) Credit(ctx context.Context, memberID domain.MemberID, amount domain.Saathi, txType models.TxType, desc string) (*models.Transaction, error) {
	if err := validateMemberAmount(memberID, amount); err != nil {
		return nil, err
	}
	if txType != models.TxEarn && txType != models.TxReward {
		return nil, dErrors.New(dErrors.CodeValidation, "credit requires an earn or reward transaction type")
	}

	tx := s.newTx(memberID, txType, amount, desc)
	if err := s.store.CreditAvailable(ctx, tx); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to credit balance")
	}
	s.logAudit(ctx, "saathi_credited", "member_id", memberID, "amount", int64(amount), "type", string(txType))
	s.observe(txType, amount)
	return tx, nil
}

// Debit spends SAATHI from a member's available balance.
func (s *Service) Debit(ctx context.Context, memberID domain.MemberID, amount domain.Saathi, desc string) (*models.Transaction, error) {
	if err := validateMemberAmount(memberID, amount); err != nil {
		return nil, err
	}

	tx := s.newTx(memberID, models.TxSpend, amount, desc)
	if err := s.store.DebitAvailable(ctx, tx); err != nil {
		if errors.Is(err, sentinel.ErrInsufficient) {
			return nil, dErrors.New(dErrors.CodeInsufficientFunds, "available balance cannot cover debit")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to debit balance")
	}
	s.logAudit(ctx, "saathi_debited", "member_id", memberID, "amount", int64(amount))
	s.observe(models.TxSpend, amount)
	return tx, nil
}

// Stake moves SAATHI from available to staked under a named hold.
// The hold is the unit later unstaked or slashed.
func (s *Service) Stake(ctx context.Context, memberID domain.MemberID, amount domain.Saathi, reason string) (*models.Hold, error) {
	if err := validateMemberAmount(memberID, amount); err != nil {
		return nil, err
	}

	hold := &models.Hold{
		ID:        domain.HoldID(uuid.New()),
		MemberID:  memberID,
		Amount:    amount,
		Remaining: amount,
		Reason:    reason,
		CreatedAt: s.now(),
	}
	tx := s.newTx(memberID, models.TxStake, amount, reason)
	if err := s.store.CreateHold(ctx, hold, tx); err != nil {
		if errors.Is(err, sentinel.ErrInsufficient) {
			return nil, dErrors.New(dErrors.CodeInsufficientFunds, "available balance cannot cover stake")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to stake")
	}
	s.logAudit(ctx, "saathi_staked", "member_id", memberID, "hold_id", hold.ID, "amount", int64(amount))
	s.observe(models.TxStake, amount)
	return hold, nil
}

// Unstake releases a hold's remaining stake back to available.
func (s *Service) Unstake(ctx context.Context, holdID domain.HoldID) (domain.Saathi, error) {
	if holdID.IsNil() {
		return 0, dErrors.New(dErrors.CodeBadRequest, "hold ID required")
	}
	hold, err := s.store.FindHold(ctx, holdID)
	if err != nil {
		return 0, wrapHoldErr(err, "failed to load hold")
	}

	tx := s.newTx(hold.MemberID, models.TxUnstake, hold.Remaining, hold.Reason)
	released, err := s.store.ReleaseHold(ctx, holdID, tx)
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return 0, dErrors.New(dErrors.CodeStateConflict, "hold is already released")
		}
		return 0, wrapHoldErr(err, "failed to release hold")
	}
	s.logAudit(ctx, "saathi_unstaked", "member_id", hold.MemberID, "hold_id", holdID, "amount", int64(released))
	s.observe(models.TxUnstake, released)
	return released, nil
}

// Slash permanently burns part of a staked hold. Slashed tokens never return
// to the voucher; the loss is recorded as a slash transaction.
func (s *Service) Slash(ctx context.Context, holdID domain.HoldID, amount domain.Saathi, desc string) error {
	if holdID.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "hold ID required")
	}
	if amount <= 0 {
		return dErrors.New(dErrors.CodeValidation, "slash amount must be positive")
	}
	hold, err := s.store.FindHold(ctx, holdID)
	if err != nil {
		return wrapHoldErr(err, "failed to load hold")
	}

	tx := s.newTx(hold.MemberID, models.TxSlash, amount, desc)
	if err := s.store.BurnHold(ctx, holdID, amount, tx); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return dErrors.New(dErrors.CodeStateConflict, "hold cannot cover slash")
		}
		return wrapHoldErr(err, "failed to slash hold")
	}
	s.logAudit(ctx, "saathi_slashed", "member_id", hold.MemberID, "hold_id", holdID, "amount", int64(amount))
	s.observe(models.TxSlash, amount)
	if s.metrics != nil {
		s.metrics.IncrementSlashes()
	}
	return nil
}

// AccruePending adds to a member's provisional reward pot. No ledger entry
// is written until the pot is realized or forfeited.
func (s *Service) AccruePending(ctx context.Context, memberID domain.MemberID, amount domain.Saathi) error {
	if err := validateMemberAmount(memberID, amount); err != nil {
		return err
	}
	if err := s.store.AccruePending(ctx, memberID, amount); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to accrue pending reward")
	}
	return nil
}

// RealizePending converts the member's pending rewards into available
// balance with a single reward transaction. A zero pot is a no-op.
func (s *Service) RealizePending(ctx context.Context, memberID domain.MemberID, desc string) (domain.Saathi, error) {
	if memberID.IsNil() {
		return 0, dErrors.New(dErrors.CodeBadRequest, "member ID required")
	}
	tx := s.newTx(memberID, models.TxReward, 0, desc)
	realized, err := s.store.SettlePending(ctx, memberID, tx)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to realize pending rewards")
	}
	if realized > 0 {
		s.logAudit(ctx, "saathi_rewards_realized", "member_id", memberID, "amount", int64(realized))
		s.observe(models.TxReward, realized)
	}
	return realized, nil
}

// ForfeitPending discards the member's pending rewards, used on default.
func (s *Service) ForfeitPending(ctx context.Context, memberID domain.MemberID) (domain.Saathi, error) {
	if memberID.IsNil() {
		return 0, dErrors.New(dErrors.CodeBadRequest, "member ID required")
	}
	forfeited, err := s.store.SettlePending(ctx, memberID, nil)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to forfeit pending rewards")
	}
	if forfeited > 0 {
		s.logAudit(ctx, "saathi_rewards_forfeited", "member_id", memberID, "amount", int64(forfeited))
	}
	return forfeited, nil
}

// BalanceOf returns the member's cached balance.
func (s *Service) BalanceOf(ctx context.Context, memberID domain.MemberID) (models.Balance, error) {
	if memberID.IsNil() {
		return models.Balance{}, dErrors.New(dErrors.CodeBadRequest, "member ID required")
	}
	balance, err := s.store.Balance(ctx, memberID)
	if err != nil {
		return models.Balance{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load balance")
	}
	return balance, nil
}

// History returns the member's ledger entries, most recent first.
func (s *Service) History(ctx context.Context, memberID domain.MemberID, limit int) ([]models.Transaction, error) {
	if memberID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "member ID required")
	}
	entries, err := s.store.History(ctx, memberID, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load transaction history")
	}
	return entries, nil
}

func (s *Service) newTx(memberID domain.MemberID, txType models.TxType, amount domain.Saathi, desc string) *models.Transaction {
	return &models.Transaction{
		ID:          uuid.New(),
		MemberID:    memberID,
		Type:        txType,
		Amount:      amount,
		Description: desc,
		CreatedAt:   s.now(),
	}
}

func (s *Service) observe(txType models.TxType, amount domain.Saathi) {
	if s.metrics != nil {
		s.metrics.ObserveTransaction(string(txType), int64(amount))
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

func validateMemberAmount(memberID domain.MemberID, amount domain.Saathi) error {
	if memberID.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "member ID required")
	}
	if amount <= 0 {
		return dErrors.New(dErrors.CodeValidation, "amount must be positive")
	}
	return nil
}

func wrapHoldErr(err error, action string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "hold not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, action)
}
