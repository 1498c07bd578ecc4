// Package service implements the circle registry: membership, invite codes,
// roles, and the pooled fund that loans draw from.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"bharosa/internal/circle/models"
	"bharosa/internal/sentinel"
	"bharosa/pkg/domain"
	dErrors "bharosa/pkg/domain-errors"
	"bharosa/pkg/requestcontext"
	"bharosa/pkg/secrets"
)

const (
	maxNameLength   = 64
	minContribution = domain.Paise(1_000) // 10 rupees
)

// Store persists circles, rosters, and pool entries.
type Store interface {
	Create(ctx context.Context, c *models.Circle, admin models.Membership) error
	FindByID(ctx context.Context, circleID domain.CircleID) (*models.Circle, error)
	FindByInviteCode(ctx context.Context, code string) (*models.Circle, error)
	AddMember(ctx context.Context, m models.Membership) error
	Roster(ctx context.Context, circleID domain.CircleID) ([]models.Membership, error)
	IsMember(ctx context.Context, circleID domain.CircleID, memberID domain.MemberID) (bool, error)
	Membership(ctx context.Context, circleID domain.CircleID, memberID domain.MemberID) (*models.Membership, error)
	CirclesFor(ctx context.Context, memberID domain.MemberID) ([]models.Circle, error)
	AddPoolEntry(ctx context.Context, entry models.PoolEntry) (bool, error)
	AdjustPool(ctx context.Context, circleID domain.CircleID, delta domain.Paise) error
}

// MembershipObserver is notified after roster changes so the trust score
// can pick up circle-standing movement.
type MembershipObserver interface {
	MembershipChanged(ctx context.Context, memberID domain.MemberID)
}

// Service orchestrates circle management.
type Service struct {
	store    Store
	logger   *slog.Logger
	observer MembershipObserver
	now      func() time.Time
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMembershipObserver(o MembershipObserver) Option {
	return func(s *Service) {
		s.observer = o
	}
}

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

// CreateCircle registers a circle; the creator holds the admin role for the
// circle's lifetime.
func (s *Service) CreateCircle(ctx context.Context, creator domain.MemberID, name string) (*models.Circle, error) {
	if creator.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "member ID required")
	}
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxNameLength {
		return nil, dErrors.New(dErrors.CodeValidation, "circle name must be 1-64 characters")
	}

	code, err := secrets.GenerateInviteCode()
	if err != nil {
		return nil, err
	}

	circle := &models.Circle{
		ID:         domain.CircleID(uuid.New()),
		Name:       name,
		InviteCode: code,
		CreatedAt:  s.now(),
	}
	admin := models.Membership{
		CircleID: circle.ID,
		MemberID: creator,
		Role:     models.RoleAdmin,
		JoinedAt: circle.CreatedAt,
	}
	if err := s.store.Create(ctx, circle, admin); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			// Invite codes are random; a collision is retryable.
			return nil, dErrors.New(dErrors.CodeConflict, "invite code collision, retry")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create circle")
	}

	s.logAudit(ctx, "circle_created", "circle_id", circle.ID, "member_id", creator)
	s.notifyMembership(ctx, creator)
	return circle, nil
}

// JoinCircle adds the member to the circle matching the invite code.
func (s *Service) JoinCircle(ctx context.Context, memberID domain.MemberID, inviteCode string) (*models.Circle, error) {
	if memberID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "member ID required")
	}
	inviteCode = strings.TrimSpace(inviteCode)
	if len(inviteCode) != secrets.InviteCodeLength {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid invite code")
	}

	circle, err := s.store.FindByInviteCode(ctx, inviteCode)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no circle for invite code")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve invite code")
	}

	seat := models.Membership{
		CircleID: circle.ID,
		MemberID: memberID,
		Role:     models.RoleMember,
		JoinedAt: s.now(),
	}
	if err := s.store.AddMember(ctx, seat); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.New(dErrors.CodeConflict, "already a member of this circle")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to join circle")
	}

	s.logAudit(ctx, "circle_joined", "circle_id", circle.ID, "member_id", memberID)
	s.notifyMembership(ctx, memberID)
	return circle, nil
}

// GetCircle returns circle details with the roster, for members only.
func (s *Service) GetCircle(ctx context.Context, actor domain.MemberID, circleID domain.CircleID) (*models.Details, error) {
	if circleID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "circle ID required")
	}
	if err := s.RequireMember(ctx, circleID, actor); err != nil {
		return nil, err
	}
	circle, err := s.store.FindByID(ctx, circleID)
	if err != nil {
		return nil, wrapCircleErr(err, "failed to load circle")
	}
	roster, err := s.store.Roster(ctx, circleID)
	if err != nil {
		return nil, wrapCircleErr(err, "failed to load roster")
	}
	return &models.Details{
		Circle:      *circle,
		MemberCount: len(roster),
		Roster:      roster,
	}, nil
}

// Contribute records a confirmed pool contribution. The external reference
// comes from the payment collaborator; replaying a confirmation is absorbed.
func (s *Service) Contribute(ctx context.Context, memberID domain.MemberID, circleID domain.CircleID, amount domain.Paise, externalRef string) error {
	if memberID.IsNil() || circleID.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "member and circle IDs required")
	}
	if amount < minContribution {
		return dErrors.New(dErrors.CodeValidation, "contribution below minimum")
	}
	externalRef = strings.TrimSpace(externalRef)
	if externalRef == "" {
		return dErrors.New(dErrors.CodeValidation, "external payment reference required")
	}
	if err := s.RequireMember(ctx, circleID, memberID); err != nil {
		return err
	}

	applied, err := s.store.AddPoolEntry(ctx, models.PoolEntry{
		CircleID:    circleID,
		MemberID:    memberID,
		Amount:      amount,
		ExternalRef: externalRef,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return wrapCircleErr(err, "failed to record contribution")
	}
	if applied {
		s.logAudit(ctx, "pool_contribution", "circle_id", circleID, "member_id", memberID, "amount", int64(amount))
	}
	return nil
}

// DebitPool withdraws a disbursement from the pool.
func (s *Service) DebitPool(ctx context.Context, circleID domain.CircleID, amount domain.Paise) error {
	if amount <= 0 {
		return dErrors.New(dErrors.CodeValidation, "debit must be positive")
	}
	if err := s.store.AdjustPool(ctx, circleID, -amount); err != nil {
		if errors.Is(err, sentinel.ErrInsufficient) {
			return dErrors.New(dErrors.CodeInsufficientPool, "circle pool cannot cover disbursement")
		}
		return wrapCircleErr(err, "failed to debit pool")
	}
	return nil
}

// CreditPool returns repayment inflow to the pool.
func (s *Service) CreditPool(ctx context.Context, circleID domain.CircleID, amount domain.Paise) error {
	if amount <= 0 {
		return dErrors.New(dErrors.CodeValidation, "credit must be positive")
	}
	if err := s.store.AdjustPool(ctx, circleID, amount); err != nil {
		return wrapCircleErr(err, "failed to credit pool")
	}
	return nil
}

// RecordInflow credits the pool exactly once per external reference. Loan
// repayments flow back through here so a replayed confirmation cannot
// double-credit the pool.
func (s *Service) RecordInflow(ctx context.Context, circleID domain.CircleID, memberID domain.MemberID, amount domain.Paise, externalRef string) error {
	if amount <= 0 {
		return dErrors.New(dErrors.CodeValidation, "credit must be positive")
	}
	applied, err := s.store.AddPoolEntry(ctx, models.PoolEntry{
		CircleID:    circleID,
		MemberID:    memberID,
		Amount:      amount,
		ExternalRef: externalRef,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return wrapCircleErr(err, "failed to record pool inflow")
	}
	if applied {
		s.logAudit(ctx, "pool_inflow", "circle_id", circleID, "member_id", memberID, "amount", int64(amount))
	}
	return nil
}

// RequireMember verifies the actor holds a seat in the circle.
func (s *Service) RequireMember(ctx context.Context, circleID domain.CircleID, memberID domain.MemberID) error {
	ok, err := s.store.IsMember(ctx, circleID, memberID)
	if err != nil {
		return wrapCircleErr(err, "failed to check membership")
	}
	if !ok {
		return dErrors.New(dErrors.CodeNotAuthorized, "not a member of this circle")
	}
	return nil
}

// MemberJoinedAt reports when the member took their seat in the circle.
// Non-members are rejected the same way RequireMember rejects them.
func (s *Service) MemberJoinedAt(ctx context.Context, circleID domain.CircleID, memberID domain.MemberID) (time.Time, error) {
	seat, err := s.store.Membership(ctx, circleID, memberID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return time.Time{}, dErrors.New(dErrors.CodeNotAuthorized, "not a member of this circle")
		}
		return time.Time{}, wrapCircleErr(err, "failed to load membership")
	}
	return seat.JoinedAt, nil
}

// EligibleVoters returns the members who may vote on a loan by the given
// borrower: every seat except the borrower's.
func (s *Service) EligibleVoters(ctx context.Context, circleID domain.CircleID, borrower domain.MemberID) ([]domain.MemberID, error) {
	roster, err := s.store.Roster(ctx, circleID)
	if err != nil {
		return nil, wrapCircleErr(err, "failed to load roster")
	}
	var voters []domain.MemberID
	for _, seat := range roster {
		if seat.MemberID != borrower {
			voters = append(voters, seat.MemberID)
		}
	}
	return voters, nil
}

// CircleCountFor reports how many circles the member belongs to; a trust
// score input.
func (s *Service) CircleCountFor(ctx context.Context, memberID domain.MemberID) (int, error) {
	circles, err := s.store.CirclesFor(ctx, memberID)
	if err != nil {
		return 0, wrapCircleErr(err, "failed to load circles")
	}
	return len(circles), nil
}

func (s *Service) notifyMembership(ctx context.Context, memberID domain.MemberID) {
	if s.observer != nil {
		s.observer.MembershipChanged(ctx, memberID)
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

func wrapCircleErr(err error, action string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "circle not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, action)
}
