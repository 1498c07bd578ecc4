// Package service implements member registration, login, and profile reads.
package service

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"bharosa/internal/member/models"
	"bharosa/internal/sentinel"
	tokenmodels "bharosa/internal/token/models"
	trustmodels "bharosa/internal/trust/models"
	"bharosa/pkg/domain"
	dErrors "bharosa/pkg/domain-errors"
	"bharosa/pkg/requestcontext"
	"bharosa/pkg/secrets"
)

const (
	signupBonus   = domain.Saathi(100)
	minPINLength  = 4
	maxPINLength  = 6
	maxNameLength = 64

	// scoreTTL bounds how stale a cached trust score can get before a
	// profile read triggers a recompute.
	scoreTTL = 24 * time.Hour
)

// Indian mobile numbers in E.164 form.
var phonePattern = regexp.MustCompile(`^\+91[6-9]\d{9}$`)

// Store persists member records.
type Store interface {
	Create(ctx context.Context, m *models.Member) error
	FindByID(ctx context.Context, memberID domain.MemberID) (*models.Member, error)
	FindByPhone(ctx context.Context, phone string) (*models.Member, error)
	SaveScore(ctx context.Context, memberID domain.MemberID, score int, at time.Time) error
	IncrementDiary(ctx context.Context, memberID domain.MemberID) (int, error)
}

// TokenIssuer mints session tokens after a successful login.
type TokenIssuer interface {
	Issue(memberID domain.MemberID) (string, error)
}

// Ledger is the token ledger surface used for the signup bonus and balances.
type Ledger interface {
	Credit(ctx context.Context, memberID domain.MemberID, amount domain.Saathi, txType tokenmodels.TxType, desc string) (*tokenmodels.Transaction, error)
	BalanceOf(ctx context.Context, memberID domain.MemberID) (tokenmodels.Balance, error)
}

// ScoreSource computes a fresh trust score on demand.
type ScoreSource interface {
	ComputeScore(ctx context.Context, memberID domain.MemberID) (*trustmodels.Score, error)
}

// Profile is a member's own view of their account.
type Profile struct {
	Member  models.Member
	Balance tokenmodels.Balance
}

// Session is the result of a successful registration or login.
type Session struct {
	Member models.Member
	Token  string
}

// Service orchestrates member accounts.
type Service struct {
	store  Store
	tokens TokenIssuer
	ledger Ledger
	scores ScoreSource
	logger *slog.Logger
	now    func() time.Time
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithScoreSource(scores ScoreSource) Option {
	return func(s *Service) {
		s.scores = scores
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(store Store, tokens TokenIssuer, ledger Ledger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		tokens: tokens,
		ledger: ledger,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a member account, credits the signup bonus, and returns a
// logged-in session. New members start at the neutral trust midpoint.
func (s *Service) Register(ctx context.Context, phone, name, pin string) (*Session, error) {
	phone = strings.TrimSpace(phone)
	name = strings.TrimSpace(name)
	if !phonePattern.MatchString(phone) {
		return nil, dErrors.New(dErrors.CodeValidation, "phone must be an Indian mobile number in +91 format")
	}
	if name == "" || len(name) > maxNameLength {
		return nil, dErrors.New(dErrors.CodeValidation, "name must be 1-64 characters")
	}
	if err := validatePIN(pin); err != nil {
		return nil, err
	}

	hash, err := secrets.HashPIN(pin)
	if err != nil {
		return nil, err
	}

	now := s.now()
	member := &models.Member{
		ID:             domain.MemberID(uuid.New()),
		Phone:          phone,
		Name:           name,
		PINHash:        hash,
		TrustScore:     trustmodels.NeutralFactor,
		ScoreUpdatedAt: now,
		CreatedAt:      now,
	}
	if err := s.store.Create(ctx, member); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.New(dErrors.CodeConflict, "phone number already registered")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create member")
	}

	// The bonus is best-effort: a ledger hiccup should not strand a created
	// account behind a registration error.
	if _, err := s.ledger.Credit(ctx, member.ID, signupBonus, tokenmodels.TxEarn, "signup bonus"); err != nil {
		s.logger.ErrorContext(ctx, "signup bonus credit failed",
			"error", err,
			"member_id", member.ID,
		)
	}

	token, err := s.tokens.Issue(member.ID)
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "member_registered", "member_id", member.ID)
	return &Session{Member: *member, Token: token}, nil
}

// Login verifies the phone/PIN pair and mints a session token. Unknown phone
// and wrong PIN produce the same error so the endpoint cannot be used to
// probe for registered numbers.
func (s *Service) Login(ctx context.Context, phone, pin string) (*Session, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" || pin == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "phone and pin are required")
	}

	member, err := s.store.FindByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotAuthorized, "invalid phone or pin")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load member")
	}
	if err := secrets.VerifyPIN(pin, member.PINHash); err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotAuthorized) {
			s.logAudit(ctx, "login_rejected", "member_id", member.ID)
			return nil, dErrors.New(dErrors.CodeNotAuthorized, "invalid phone or pin")
		}
		return nil, err
	}

	token, err := s.tokens.Issue(member.ID)
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "member_logged_in", "member_id", member.ID)
	return &Session{Member: *member, Token: token}, nil
}

// GetProfile returns the member's record and SAATHI balance. A cached trust
// score past its TTL is recomputed inline; if the recompute fails the stale
// value is served.
func (s *Service) GetProfile(ctx context.Context, memberID domain.MemberID) (*Profile, error) {
	member, err := s.loadMember(ctx, memberID)
	if err != nil {
		return nil, err
	}

	if s.scores != nil && s.now().Sub(member.ScoreUpdatedAt) > scoreTTL {
		if score, err := s.scores.ComputeScore(ctx, memberID); err == nil {
			member.TrustScore = score.Value
			member.ScoreUpdatedAt = s.now()
		}
	}

	balance, err := s.ledger.BalanceOf(ctx, memberID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load balance")
	}
	return &Profile{Member: *member, Balance: balance}, nil
}

// RecordDiaryEntry bumps the financial diary counter and refreshes the trust
// score, since diary activity is one of its inputs.
func (s *Service) RecordDiaryEntry(ctx context.Context, memberID domain.MemberID) (int, error) {
	count, err := s.store.IncrementDiary(ctx, memberID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return 0, dErrors.New(dErrors.CodeNotFound, "member not found")
		}
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record diary entry")
	}

	if s.scores != nil {
		if _, err := s.scores.ComputeScore(ctx, memberID); err != nil {
			s.logger.WarnContext(ctx, "diary trust recompute failed",
				"error", err,
				"member_id", memberID,
			)
		}
	}

	s.logAudit(ctx, "diary_entry_recorded", "member_id", memberID, "entries", count)
	return count, nil
}

// MemberSince reports when the member registered; a trust score input.
func (s *Service) MemberSince(ctx context.Context, memberID domain.MemberID) (time.Time, error) {
	member, err := s.loadMember(ctx, memberID)
	if err != nil {
		return time.Time{}, err
	}
	return member.CreatedAt, nil
}

// DiaryEntryCount reports the member's diary activity; a trust score input.
func (s *Service) DiaryEntryCount(ctx context.Context, memberID domain.MemberID) (int, error) {
	member, err := s.loadMember(ctx, memberID)
	if err != nil {
		return 0, err
	}
	return member.DiaryEntries, nil
}

// SaveScore caches a freshly computed trust score. Satisfies the trust
// calculator's score writer.
func (s *Service) SaveScore(ctx context.Context, memberID domain.MemberID, score int) error {
	if err := s.store.SaveScore(ctx, memberID, score, s.now()); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "member not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to cache score")
	}
	return nil
}

func (s *Service) loadMember(ctx context.Context, memberID domain.MemberID) (*models.Member, error) {
	if memberID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "member ID required")
	}
	member, err := s.store.FindByID(ctx, memberID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "member not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load member")
	}
	return member, nil
}

func validatePIN(pin string) error {
	if len(pin) < minPINLength || len(pin) > maxPINLength {
		return dErrors.New(dErrors.CodeValidation, "pin must be 4-6 digits")
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return dErrors.New(dErrors.CodeValidation, "pin must be 4-6 digits")
		}
	}
	return nil
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
