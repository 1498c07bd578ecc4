package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	circleservice "bharosa/internal/circle/service"
	circlestore "bharosa/internal/circle/store"
	tokenmodels "bharosa/internal/token/models"
	tokenservice "bharosa/internal/token/service"
	tokenstore "bharosa/internal/token/store"
	"bharosa/internal/vouch/models"
	"bharosa/internal/vouch/store"
	"bharosa/pkg/domain"
	dErrors "bharosa/pkg/domain-errors"
)

type VouchSuite struct {
	suite.Suite
	ctx     context.Context
	svc     *Service
	ledger  *tokenservice.Service
	circles *circleservice.Service

	circleID domain.CircleID
	voucher  domain.MemberID
	vouchee  domain.MemberID
}

func TestVouchSuite(t *testing.T) {
	suite.Run(t, new(VouchSuite))
}

func (s *VouchSuite) SetupTest() {
	s.ctx = context.Background()
	s.ledger = tokenservice.New(tokenstore.NewInMemory())
	s.circles = circleservice.New(circlestore.NewInMemory())
	s.svc = New(store.NewInMemory(), s.ledger, s.circles)

	s.voucher = domain.MemberID(uuid.New())
	s.vouchee = domain.MemberID(uuid.New())

	circle, err := s.circles.CreateCircle(s.ctx, s.voucher, "Bachat Gat")
	s.Require().NoError(err)
	s.circleID = circle.ID
	_, err = s.circles.JoinCircle(s.ctx, s.vouchee, circle.InviteCode)
	s.Require().NoError(err)

	_, err = s.ledger.Credit(s.ctx, s.voucher, 500, tokenmodels.TxEarn, "signup bonus")
	s.Require().NoError(err)
}

func (s *VouchSuite) TestCreateVouchStakesTokens() {
	vouch, err := s.svc.CreateVouch(s.ctx, s.voucher, s.vouchee, s.circleID, models.LevelStrong, 150)
	s.Require().NoError(err)
	s.True(vouch.Active)
	s.False(vouch.HoldID.IsNil())

	balance, err := s.ledger.BalanceOf(s.ctx, s.voucher)
	s.Require().NoError(err)
	s.Equal(domain.Saathi(350), balance.Available)
	s.Equal(domain.Saathi(150), balance.Staked)
}

func (s *VouchSuite) TestCreateVouchValidation() {
	s.Run("self vouch", func() {
		_, err := s.svc.CreateVouch(s.ctx, s.voucher, s.voucher, s.circleID, models.LevelBasic, 20)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("stake outside level band", func() {
		_, err := s.svc.CreateVouch(s.ctx, s.voucher, s.vouchee, s.circleID, models.LevelStrong, 300)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("unknown level", func() {
		_, err := s.svc.CreateVouch(s.ctx, s.voucher, s.vouchee, s.circleID, models.Level("heroic"), 100)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("vouchee outside circle", func() {
		outsider := domain.MemberID(uuid.New())
		_, err := s.svc.CreateVouch(s.ctx, s.voucher, outsider, s.circleID, models.LevelBasic, 20)
		s.True(dErrors.HasCode(err, dErrors.CodeNotAuthorized))
	})

	s.Run("insufficient balance", func() {
		_, err := s.svc.CreateVouch(s.ctx, s.voucher, s.vouchee, s.circleID, models.LevelMaximum, 501)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		_, err = s.svc.CreateVouch(s.ctx, s.vouchee, s.voucher, s.circleID, models.LevelBasic, 20)
		s.True(dErrors.HasCode(err, dErrors.CodeInsufficientFunds))
	})
}

func (s *VouchSuite) TestDuplicateVouchUnwindsStake() {
	_, err := s.svc.CreateVouch(s.ctx, s.voucher, s.vouchee, s.circleID, models.LevelBasic, 20)
	s.Require().NoError(err)

	_, err = s.svc.CreateVouch(s.ctx, s.voucher, s.vouchee, s.circleID, models.LevelBasic, 30)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	balance, err := s.ledger.BalanceOf(s.ctx, s.voucher)
	s.Require().NoError(err)
	s.Equal(domain.Saathi(480), balance.Available)
	s.Equal(domain.Saathi(20), balance.Staked)
}

func (s *VouchSuite) TestRevokeReturnsStake() {
	vouch, err := s.svc.CreateVouch(s.ctx, s.voucher, s.vouchee, s.circleID, models.LevelStrong, 100)
	s.Require().NoError(err)

	s.Run("only the voucher can revoke", func() {
		err := s.svc.RevokeVouch(s.ctx, s.vouchee, vouch.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotAuthorized))
	})

	s.Require().NoError(s.svc.RevokeVouch(s.ctx, s.voucher, vouch.ID))

	balance, err := s.ledger.BalanceOf(s.ctx, s.voucher)
	s.Require().NoError(err)
	s.Equal(domain.Saathi(500), balance.Available)
	s.Equal(domain.Saathi(0), balance.Staked)

	s.Run("second revoke conflicts", func() {
		err := s.svc.RevokeVouch(s.ctx, s.voucher, vouch.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeStateConflict))
	})
}

func (s *VouchSuite) TestLockBlocksRevocation() {
	vouch, err := s.svc.CreateVouch(s.ctx, s.voucher, s.vouchee, s.circleID, models.LevelBasic, 30)
	s.Require().NoError(err)

	loanID := domain.LoanID(uuid.New())
	locked, err := s.svc.LockForLoan(s.ctx, loanID, s.vouchee)
	s.Require().NoError(err)
	s.Len(locked, 1)

	err = s.svc.RevokeVouch(s.ctx, s.voucher, vouch.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeStateConflict))

	s.Require().NoError(s.svc.ReleaseForLoan(s.ctx, loanID))
	s.Require().NoError(s.svc.RevokeVouch(s.ctx, s.voucher, vouch.ID))
}

func (s *VouchSuite) TestSlashForLoanBurnsFullStake() {
	vouch, err := s.svc.CreateVouch(s.ctx, s.voucher, s.vouchee, s.circleID, models.LevelStrong, 100)
	s.Require().NoError(err)

	loanID := domain.LoanID(uuid.New())
	_, err = s.svc.LockForLoan(s.ctx, loanID, s.vouchee)
	s.Require().NoError(err)

	s.Require().NoError(s.svc.SlashForLoan(s.ctx, loanID, "loan default"))

	balance, err := s.ledger.BalanceOf(s.ctx, s.voucher)
	s.Require().NoError(err)
	s.Equal(domain.Saathi(400), balance.Available)
	s.Equal(domain.Saathi(0), balance.Staked)

	got, err := s.svc.ActiveFor(s.ctx, s.vouchee)
	s.Require().NoError(err)
	s.Empty(got)

	// The slashed vouch cannot be revoked afterwards.
	err = s.svc.RevokeVouch(s.ctx, s.voucher, vouch.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeStateConflict))
}

func (s *VouchSuite) TestPartialSlashReturnsRemainder() {
	svc := New(s.svc.store, s.ledger, s.circles, WithSlashPolicy(ProportionalSlash{Fraction: 5_000}))

	_, err := svc.CreateVouch(s.ctx, s.voucher, s.vouchee, s.circleID, models.LevelStrong, 100)
	s.Require().NoError(err)

	loanID := domain.LoanID(uuid.New())
	_, err = svc.LockForLoan(s.ctx, loanID, s.vouchee)
	s.Require().NoError(err)

	s.Require().NoError(svc.SlashForLoan(s.ctx, loanID, "loan default"))

	balance, err := s.ledger.BalanceOf(s.ctx, s.voucher)
	s.Require().NoError(err)
	s.Equal(domain.Saathi(450), balance.Available)
	s.Equal(domain.Saathi(0), balance.Staked)
}

func (s *VouchSuite) TestStrengthFor() {
	third := domain.MemberID(uuid.New())
	_, err := s.circles.JoinCircle(s.ctx, third, mustInviteCode(s))
	s.Require().NoError(err)
	_, err = s.ledger.Credit(s.ctx, third, 100, tokenmodels.TxEarn, "signup bonus")
	s.Require().NoError(err)

	_, err = s.svc.CreateVouch(s.ctx, s.voucher, s.vouchee, s.circleID, models.LevelStrong, 150)
	s.Require().NoError(err)
	_, err = s.svc.CreateVouch(s.ctx, third, s.vouchee, s.circleID, models.LevelBasic, 25)
	s.Require().NoError(err)

	total, count, err := s.svc.StrengthFor(s.ctx, s.vouchee)
	s.Require().NoError(err)
	s.Equal(domain.Saathi(175), total)
	s.Equal(2, count)
}

func mustInviteCode(s *VouchSuite) string {
	details, err := s.circles.GetCircle(s.ctx, s.voucher, s.circleID)
	s.Require().NoError(err)
	return details.Circle.InviteCode
}
