package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bharosa/internal/circle/store"
	"bharosa/pkg/domain"
	dErrors "bharosa/pkg/domain-errors"
)

func newMember() domain.MemberID {
	return domain.MemberID(uuid.New())
}

func TestCreateCircle(t *testing.T) {
	svc := New(store.NewInMemory())
	creator := newMember()

	circle, err := svc.CreateCircle(context.Background(), creator, "  Mahila Mandal  ")
	require.NoError(t, err)
	assert.Equal(t, "Mahila Mandal", circle.Name)
	assert.Len(t, circle.InviteCode, 8)

	details, err := svc.GetCircle(context.Background(), creator, circle.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, details.MemberCount)
	assert.Equal(t, creator, details.Roster[0].MemberID)
	assert.Equal(t, "admin", string(details.Roster[0].Role))
}

func TestCreateCircleValidation(t *testing.T) {
	svc := New(store.NewInMemory())

	_, err := svc.CreateCircle(context.Background(), newMember(), "")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	long := make([]byte, 65)
	for i := range long {
		long[i] = 'x'
	}
	_, err = svc.CreateCircle(context.Background(), newMember(), string(long))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestJoinCircle(t *testing.T) {
	svc := New(store.NewInMemory())
	creator, joiner := newMember(), newMember()
	circle, err := svc.CreateCircle(context.Background(), creator, "Savings")
	require.NoError(t, err)

	t.Run("joins by invite code", func(t *testing.T) {
		joined, err := svc.JoinCircle(context.Background(), joiner, circle.InviteCode)
		require.NoError(t, err)
		assert.Equal(t, circle.ID, joined.ID)
	})

	t.Run("duplicate join conflicts", func(t *testing.T) {
		_, err := svc.JoinCircle(context.Background(), joiner, circle.InviteCode)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	})

	t.Run("unknown code not found", func(t *testing.T) {
		_, err := svc.JoinCircle(context.Background(), newMember(), "ZZZZZZZZ")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	t.Run("non-member cannot view circle", func(t *testing.T) {
		_, err := svc.GetCircle(context.Background(), newMember(), circle.ID)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotAuthorized))
	})
}

func TestPool(t *testing.T) {
	svc := New(store.NewInMemory())
	creator := newMember()
	circle, err := svc.CreateCircle(context.Background(), creator, "Savings")
	require.NoError(t, err)

	t.Run("contribution grows pool once per external ref", func(t *testing.T) {
		require.NoError(t, svc.Contribute(context.Background(), creator, circle.ID, 50_000, "pay-1"))
		// Replay of the same confirmation is absorbed.
		require.NoError(t, svc.Contribute(context.Background(), creator, circle.ID, 50_000, "pay-1"))

		details, err := svc.GetCircle(context.Background(), creator, circle.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.Paise(50_000), details.Circle.TotalPool)
	})

	t.Run("non-member cannot contribute", func(t *testing.T) {
		err := svc.Contribute(context.Background(), newMember(), circle.ID, 50_000, "pay-2")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotAuthorized))
	})

	t.Run("pool debit beyond balance fails with insufficient_pool", func(t *testing.T) {
		err := svc.DebitPool(context.Background(), circle.ID, 90_000)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInsufficientPool))

		require.NoError(t, svc.DebitPool(context.Background(), circle.ID, 30_000))
		require.NoError(t, svc.CreditPool(context.Background(), circle.ID, 10_000))

		details, err := svc.GetCircle(context.Background(), creator, circle.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.Paise(30_000), details.Circle.TotalPool)
	})
}

func TestEligibleVoters(t *testing.T) {
	svc := New(store.NewInMemory())
	creator := newMember()
	circle, err := svc.CreateCircle(context.Background(), creator, "Savings")
	require.NoError(t, err)

	var joiners []domain.MemberID
	for n := 0; n < 4; n++ {
		m := newMember()
		_, err := svc.JoinCircle(context.Background(), m, circle.InviteCode)
		require.NoError(t, err)
		joiners = append(joiners, m)
	}

	voters, err := svc.EligibleVoters(context.Background(), circle.ID, joiners[0])
	require.NoError(t, err)
	assert.Len(t, voters, 4)
	assert.NotContains(t, voters, joiners[0])
}

func TestMemberJoinedAt(t *testing.T) {
	clock := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	svc := New(store.NewInMemory(), WithClock(func() time.Time { return clock }))
	creator, joiner := newMember(), newMember()

	circle, err := svc.CreateCircle(context.Background(), creator, "Savings")
	require.NoError(t, err)

	clock = clock.Add(48 * time.Hour)
	_, err = svc.JoinCircle(context.Background(), joiner, circle.InviteCode)
	require.NoError(t, err)

	founded, err := svc.MemberJoinedAt(context.Background(), circle.ID, creator)
	require.NoError(t, err)
	joined, err := svc.MemberJoinedAt(context.Background(), circle.ID, joiner)
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, joined.Sub(founded))

	_, err = svc.MemberJoinedAt(context.Background(), circle.ID, newMember())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotAuthorized))
}

func TestRecordInflowDedupsOnReference(t *testing.T) {
	svc := New(store.NewInMemory())
	creator := newMember()
	circle, err := svc.CreateCircle(context.Background(), creator, "Savings")
	require.NoError(t, err)

	require.NoError(t, svc.RecordInflow(context.Background(), circle.ID, creator, 5_000, "loan:abc:pay-1"))
	require.NoError(t, svc.RecordInflow(context.Background(), circle.ID, creator, 5_000, "loan:abc:pay-1"))

	details, err := svc.GetCircle(context.Background(), creator, circle.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Paise(5_000), details.Circle.TotalPool)
}
