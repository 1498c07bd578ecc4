package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bharosa/internal/member/store"
	tokenservice "bharosa/internal/token/service"
	tokenstore "bharosa/internal/token/store"
	trustmodels "bharosa/internal/trust/models"
	"bharosa/pkg/domain"
	dErrors "bharosa/pkg/domain-errors"
)

type stubIssuer struct{ issued int }

func (s *stubIssuer) Issue(domain.MemberID) (string, error) {
	s.issued++
	return "token", nil
}

type stubScores struct {
	value int
	calls int
	err   error
}

func (s *stubScores) ComputeScore(_ context.Context, memberID domain.MemberID) (*trustmodels.Score, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &trustmodels.Score{MemberID: memberID, Value: s.value}, nil
}

func newService(t *testing.T, opts ...Option) (*Service, *stubIssuer) {
	t.Helper()
	issuer := &stubIssuer{}
	ledger := tokenservice.New(tokenstore.NewInMemory())
	return New(store.NewInMemory(), issuer, ledger, opts...), issuer
}

func TestRegister(t *testing.T) {
	svc, issuer := newService(t)

	sess, err := svc.Register(context.Background(), " +919876543210 ", " Asha ", "1234")
	require.NoError(t, err)
	assert.Equal(t, "token", sess.Token)
	assert.Equal(t, 1, issuer.issued)
	assert.Equal(t, "+919876543210", sess.Member.Phone)
	assert.Equal(t, "Asha", sess.Member.Name)
	assert.Equal(t, trustmodels.NeutralFactor, sess.Member.TrustScore)
	assert.Empty(t, sess.Member.DiaryEntries)

	profile, err := svc.GetProfile(context.Background(), sess.Member.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Saathi(100), profile.Balance.Available)
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newService(t)

	tests := []struct {
		name  string
		phone string
		pin   string
	}{
		{"landline phone", "+911123456789", "1234"},
		{"missing country code", "9876543210", "1234"},
		{"short pin", "+919876543210", "12"},
		{"long pin", "+919876543210", "1234567"},
		{"alpha pin", "+919876543210", "12ab"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tc.phone, "Asha", tc.pin)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}
}

func TestRegisterDuplicatePhone(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Register(context.Background(), "+919876543210", "Asha", "1234")
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), "+919876543210", "Meena", "5678")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
}

func TestLogin(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Register(context.Background(), "+919876543210", "Asha", "1234")
	require.NoError(t, err)

	t.Run("correct pin", func(t *testing.T) {
		sess, err := svc.Login(context.Background(), "+919876543210", "1234")
		require.NoError(t, err)
		assert.Equal(t, "token", sess.Token)
	})

	t.Run("wrong pin", func(t *testing.T) {
		_, err := svc.Login(context.Background(), "+919876543210", "9999")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotAuthorized))
	})

	t.Run("unknown phone gets the same error as a wrong pin", func(t *testing.T) {
		_, err := svc.Login(context.Background(), "+919812345678", "1234")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotAuthorized))
		assert.EqualError(t, err, "invalid phone or pin")
	})
}

func TestDiaryEntryTriggersRecompute(t *testing.T) {
	scores := &stubScores{value: 61}
	svc, _ := newService(t, WithScoreSource(scores))
	sess, err := svc.Register(context.Background(), "+919876543210", "Asha", "1234")
	require.NoError(t, err)

	count, err := svc.RecordDiaryEntry(context.Background(), sess.Member.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, scores.calls)

	n, err := svc.DiaryEntryCount(context.Background(), sess.Member.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestProfileRecomputesStaleScore(t *testing.T) {
	now := time.Now()
	scores := &stubScores{value: 72}
	svc, _ := newService(t,
		WithScoreSource(scores),
		WithClock(func() time.Time { return now }),
	)
	sess, err := svc.Register(context.Background(), "+919876543210", "Asha", "1234")
	require.NoError(t, err)

	// Fresh cache: no recompute on read.
	profile, err := svc.GetProfile(context.Background(), sess.Member.ID)
	require.NoError(t, err)
	assert.Equal(t, trustmodels.NeutralFactor, profile.Member.TrustScore)
	assert.Zero(t, scores.calls)

	now = now.Add(25 * time.Hour)
	profile, err = svc.GetProfile(context.Background(), sess.Member.ID)
	require.NoError(t, err)
	assert.Equal(t, 72, profile.Member.TrustScore)
	assert.Equal(t, 1, scores.calls)
}

func TestSaveScore(t *testing.T) {
	svc, _ := newService(t)
	sess, err := svc.Register(context.Background(), "+919876543210", "Asha", "1234")
	require.NoError(t, err)

	require.NoError(t, svc.SaveScore(context.Background(), sess.Member.ID, 83))

	profile, err := svc.GetProfile(context.Background(), sess.Member.ID)
	require.NoError(t, err)
	assert.Equal(t, 83, profile.Member.TrustScore)

	since, err := svc.MemberSince(context.Background(), sess.Member.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.Member.CreatedAt, since)
}
