package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bharosa/internal/trust/models"
	"bharosa/pkg/domain"
	dErrors "bharosa/pkg/domain-errors"
)

type stubFacts struct {
	completed int
	defaulted int
	stake     domain.Saathi
	vouchers  int
	circles   int
	since     time.Time
	diary     int

	err error
}

func (f *stubFacts) RepaymentRecord(context.Context, domain.MemberID) (int, int, error) {
	return f.completed, f.defaulted, f.err
}

func (f *stubFacts) StrengthFor(context.Context, domain.MemberID) (domain.Saathi, int, error) {
	return f.stake, f.vouchers, f.err
}

func (f *stubFacts) CircleCountFor(context.Context, domain.MemberID) (int, error) {
	return f.circles, f.err
}

func (f *stubFacts) MemberSince(context.Context, domain.MemberID) (time.Time, error) {
	return f.since, f.err
}

func (f *stubFacts) DiaryEntryCount(context.Context, domain.MemberID) (int, error) {
	return f.diary, f.err
}

type scoreRecorder struct {
	saved map[string]int
	err   error
}

func (r *scoreRecorder) SaveScore(_ context.Context, memberID domain.MemberID, score int) error {
	if r.err != nil {
		return r.err
	}
	if r.saved == nil {
		r.saved = make(map[string]int)
	}
	r.saved[memberID.String()] = score
	return nil
}

func newService(facts *stubFacts, writer *scoreRecorder, now time.Time) *Service {
	return New(facts, facts, facts, writer,
		WithRepaymentFacts(facts),
		WithClock(func() time.Time { return now }),
	)
}

func TestComputeScoreCombinesWeightedFactors(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	facts := &stubFacts{
		completed: 3,                        // repayment 50 + 30 = 80
		stake:     domain.Saathi(250),       // vouch 250/5 = 50
		vouchers:  2,
		circles:   2,                        // circle 50
		since:     now.AddDate(-1, 0, 0),    // age saturated at 100
		diary:     10,                       // diary 50
	}
	writer := &scoreRecorder{}
	svc := newService(facts, writer, now)
	memberID := domain.MemberID(uuid.New())

	score, err := svc.ComputeScore(context.Background(), memberID)
	require.NoError(t, err)

	assert.Equal(t, models.Factors{
		RepaymentHistory: 80,
		VouchStrength:    50,
		CircleStanding:   50,
		AccountAge:       100,
		FinancialDiary:   50,
	}, score.Factors)
	// 80*30 + 50*25 + 50*20 + 100*15 + 50*10 = 6650 -> 66
	assert.Equal(t, 66, score.Value)
	assert.Equal(t, 66, writer.saved[memberID.String()])
}

func TestComputeScoreNeutralOnMissingFacts(t *testing.T) {
	now := time.Now()
	facts := &stubFacts{err: errors.New("facts store down")}
	svc := newService(facts, &scoreRecorder{}, now)

	score, err := svc.ComputeScore(context.Background(), domain.MemberID(uuid.New()))
	require.NoError(t, err)
	assert.Equal(t, models.NeutralFactor, score.Value)
	assert.Equal(t, models.NeutralFactor, score.Factors.RepaymentHistory)
	assert.Equal(t, models.NeutralFactor, score.Factors.VouchStrength)
}

func TestComputeScoreSurvivesCacheWriteFailure(t *testing.T) {
	now := time.Now()
	facts := &stubFacts{circles: 1, since: now}
	svc := newService(facts, &scoreRecorder{err: errors.New("db down")}, now)

	score, err := svc.ComputeScore(context.Background(), domain.MemberID(uuid.New()))
	require.NoError(t, err)
	assert.NotNil(t, score)
}

func TestRepaymentFactorPunishesDefaults(t *testing.T) {
	assert.Equal(t, 50, repaymentFactor(0, 0))
	assert.Equal(t, 100, repaymentFactor(5, 0))
	assert.Equal(t, 20, repaymentFactor(0, 1))
	assert.Equal(t, 0, repaymentFactor(1, 2))
}

func TestVouchFactorZeroWithoutBackers(t *testing.T) {
	assert.Equal(t, 0, vouchFactor(0, 0))
	assert.Equal(t, 10, vouchFactor(50, 1))
	assert.Equal(t, 100, vouchFactor(600, 3))
}

func TestAgeFactorSaturatesAfterAYear(t *testing.T) {
	assert.Equal(t, 0, ageFactor(12*time.Hour))
	assert.Equal(t, 50, ageFactor(183*24*time.Hour))
	assert.Equal(t, 100, ageFactor(400*24*time.Hour))
}

func TestDefaultDropsScore(t *testing.T) {
	now := time.Now()
	facts := &stubFacts{completed: 2, stake: 100, vouchers: 1, circles: 1, since: now.AddDate(-1, 0, 0), diary: 4}
	writer := &scoreRecorder{}
	svc := newService(facts, writer, now)
	memberID := domain.MemberID(uuid.New())

	before, err := svc.ComputeScore(context.Background(), memberID)
	require.NoError(t, err)

	facts.defaulted = 1
	after, err := svc.ComputeScore(context.Background(), memberID)
	require.NoError(t, err)

	assert.Less(t, after.Value, before.Value)
}

func TestComputeScoreFailsWhenContextIsDead(t *testing.T) {
	now := time.Now()
	facts := &stubFacts{circles: 1}
	svc := newService(facts, &scoreRecorder{}, now)

	ctx, cancel := context.WithDeadline(context.Background(), now.Add(-time.Second))
	defer cancel()

	_, err := svc.ComputeScore(ctx, domain.MemberID(uuid.New()))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))
}
