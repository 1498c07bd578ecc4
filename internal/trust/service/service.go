// Package service computes trust scores from repayment history, vouch
// strength, circle standing, account age, and diary activity.
package service

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"bharosa/internal/trust/models"
	"bharosa/pkg/domain"
	dErrors "bharosa/pkg/domain-errors"
	"bharosa/pkg/requestcontext"
)

const factGatherTimeout = 5 * time.Second

// RepaymentFacts reports a member's borrowing record.
type RepaymentFacts interface {
	RepaymentRecord(ctx context.Context, memberID domain.MemberID) (completed, defaulted int, err error)
}

// VouchFacts reports the stake actively backing a member.
type VouchFacts interface {
	StrengthFor(ctx context.Context, voucheeID domain.MemberID) (domain.Saathi, int, error)
}

// CircleFacts reports how many circles a member belongs to.
type CircleFacts interface {
	CircleCountFor(ctx context.Context, memberID domain.MemberID) (int, error)
}

// MemberFacts reports registration time and diary activity.
type MemberFacts interface {
	MemberSince(ctx context.Context, memberID domain.MemberID) (time.Time, error)
	DiaryEntryCount(ctx context.Context, memberID domain.MemberID) (int, error)
}

// ScoreWriter caches the computed score on the member record.
type ScoreWriter interface {
	SaveScore(ctx context.Context, memberID domain.MemberID, score int) error
}

// Metrics records score computations.
type Metrics interface {
	ObserveScore(score int)
}

// Service derives the 0-100 trust score. Computation never fails: any factor
// whose facts cannot be gathered falls back to the neutral midpoint.
type Service struct {
	repayments RepaymentFacts
	vouches    VouchFacts
	circles    CircleFacts
	members    MemberFacts
	writer     ScoreWriter
	metrics    Metrics
	logger     *slog.Logger
	now        func() time.Time
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

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithRepaymentFacts breaks the construction cycle with the loan engine: the
// engine needs the calculator for recomputes, and the calculator needs the
// engine's repayment record.
func WithRepaymentFacts(r RepaymentFacts) Option {
	return func(s *Service) {
		s.repayments = r
	}
}

func New(vouches VouchFacts, circles CircleFacts, members MemberFacts, writer ScoreWriter, opts ...Option) *Service {
	s := &Service{
		vouches: vouches,
		circles: circles,
		members: members,
		writer:  writer,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// factGatherResult holds per-factor outcomes. Each goroutine writes to its
// own field, avoiding data races.
type factGatherResult struct {
	repayment int
	vouch     int
	circle    int
	age       int
	diary     int
}

// ComputeScore gathers the five factors in parallel, combines them by the
// fixed weights, and caches the result on the member record.
func (s *Service) ComputeScore(ctx context.Context, memberID domain.MemberID) (*models.Score, error) {
	ctx, cancel := context.WithTimeout(ctx, factGatherTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	result := factGatherResult{
		repayment: models.NeutralFactor,
		vouch:     models.NeutralFactor,
		circle:    models.NeutralFactor,
		age:       models.NeutralFactor,
		diary:     models.NeutralFactor,
	}

	g.Go(func() error {
		if s.repayments == nil {
			return nil
		}
		completed, defaulted, err := s.repayments.RepaymentRecord(gctx, memberID)
		if err != nil {
			s.logFactMiss(gctx, "repayment_history", err)
			return nil
		}
		result.repayment = repaymentFactor(completed, defaulted)
		return nil
	})
	g.Go(func() error {
		stake, count, err := s.vouches.StrengthFor(gctx, memberID)
		if err != nil {
			s.logFactMiss(gctx, "vouch_strength", err)
			return nil
		}
		result.vouch = vouchFactor(stake, count)
		return nil
	})
	g.Go(func() error {
		count, err := s.circles.CircleCountFor(gctx, memberID)
		if err != nil {
			s.logFactMiss(gctx, "circle_standing", err)
			return nil
		}
		result.circle = circleFactor(count)
		return nil
	})
	g.Go(func() error {
		since, err := s.members.MemberSince(gctx, memberID)
		if err != nil {
			s.logFactMiss(gctx, "account_age", err)
			return nil
		}
		result.age = ageFactor(s.now().Sub(since))
		return nil
	})
	g.Go(func() error {
		count, err := s.members.DiaryEntryCount(gctx, memberID)
		if err != nil {
			s.logFactMiss(gctx, "financial_diary", err)
			return nil
		}
		result.diary = diaryFactor(count)
		return nil
	})
	// Goroutines swallow their errors; per-factor misses degrade to the
	// neutral defaults instead of failing the computation.
	_ = g.Wait()

	// A dead context means the gather was cut short, not that facts were
	// missing. Writing an all-neutral score here would poison the cache.
	if err := ctx.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "trust fact gathering cut short")
	}

	factors := models.Factors{
		RepaymentHistory: result.repayment,
		VouchStrength:    result.vouch,
		CircleStanding:   result.circle,
		AccountAge:       result.age,
		FinancialDiary:   result.diary,
	}
	score := &models.Score{
		MemberID:   memberID,
		Value:      factors.Combine(),
		Factors:    factors,
		ComputedAt: s.now(),
	}

	if err := s.writer.SaveScore(ctx, memberID, score.Value); err != nil {
		// The score is still valid; the stale cache heals on the next trigger.
		s.logFactMiss(ctx, "score_cache", err)
	}
	if s.metrics != nil {
		s.metrics.ObserveScore(score.Value)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "trust score computed",
			"member_id", memberID,
			"score", score.Value,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return score, nil
}

// MembershipChanged recomputes after a circle roster change.
func (s *Service) MembershipChanged(ctx context.Context, memberID domain.MemberID) {
	_, _ = s.ComputeScore(ctx, memberID)
}

// VouchChanged recomputes both sides of a vouch change.
func (s *Service) VouchChanged(ctx context.Context, voucheeID, voucherID domain.MemberID) {
	_, _ = s.ComputeScore(ctx, voucheeID)
	_, _ = s.ComputeScore(ctx, voucherID)
}

// repaymentFactor starts every borrower at the midpoint, rewards each
// completed loan, and punishes defaults far harder.
func repaymentFactor(completed, defaulted int) int {
	return models.Clamp(models.NeutralFactor + completed*10 - defaulted*30)
}

// vouchFactor scales with total stake; 500 SAATHI backing saturates it.
func vouchFactor(stake domain.Saathi, count int) int {
	if count == 0 {
		return 0
	}
	return models.Clamp(int(stake) / 5)
}

// circleFactor rewards belonging to up to four circles.
func circleFactor(count int) int {
	return models.Clamp(count * 25)
}

// ageFactor saturates after a year of membership.
func ageFactor(age time.Duration) int {
	days := int(age.Hours() / 24)
	return models.Clamp(days * 100 / 365)
}

// diaryFactor rewards steady diary habits; twenty entries saturate it.
func diaryFactor(count int) int {
	return models.Clamp(count * 5)
}

func (s *Service) logFactMiss(ctx context.Context, factor string, err error) {
	if s.logger == nil {
		return
	}
	s.logger.WarnContext(ctx, "trust factor unavailable, using neutral midpoint",
		"factor", factor,
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
	)
}
