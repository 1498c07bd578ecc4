package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	circleservice "bharosa/internal/circle/service"
	circlestore "bharosa/internal/circle/store"
	"bharosa/internal/loan/models"
	"bharosa/internal/loan/store"
	tokenmodels "bharosa/internal/token/models"
	tokenservice "bharosa/internal/token/service"
	tokenstore "bharosa/internal/token/store"
	trustmodels "bharosa/internal/trust/models"
	vouchmodels "bharosa/internal/vouch/models"
	vouchservice "bharosa/internal/vouch/service"
	vouchstore "bharosa/internal/vouch/store"
	"bharosa/pkg/domain"
	dErrors "bharosa/pkg/domain-errors"
)

// stubTrust returns a fixed score and records recompute calls.
type stubTrust struct {
	score int
	calls []domain.MemberID
}

func (t *stubTrust) ComputeScore(_ context.Context, memberID domain.MemberID) (*trustmodels.Score, error) {
	t.calls = append(t.calls, memberID)
	return &trustmodels.Score{MemberID: memberID, Value: t.score}, nil
}

// flakyStore drops a configurable number of loan writes to exercise the
// recovery paths.
type flakyStore struct {
	Store
	failUpdates int
}

func (f *flakyStore) Update(ctx context.Context, loan *models.Loan) error {
	if f.failUpdates > 0 {
		f.failUpdates--
		return errors.New("store offline")
	}
	return f.Store.Update(ctx, loan)
}

type LoanSuite struct {
	suite.Suite
	ctx     context.Context
	clock   time.Time
	svc     *Service
	loans   *flakyStore
	ledger  *tokenservice.Service
	circles *circleservice.Service
	vouches *vouchservice.Service
	trust   *stubTrust

	circleID domain.CircleID
	invite   string
	borrower domain.MemberID
	voters   []domain.MemberID
}

func TestLoanSuite(t *testing.T) {
	suite.Run(t, new(LoanSuite))
}

func (s *LoanSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = time.Date(2026, 4, 6, 9, 0, 0, 0, time.UTC)
	now := func() time.Time { return s.clock }

	s.ledger = tokenservice.New(tokenstore.NewInMemory(), tokenservice.WithClock(now))
	s.circles = circleservice.New(circlestore.NewInMemory(), circleservice.WithClock(now))
	s.vouches = vouchservice.New(vouchstore.NewInMemory(), s.ledger, s.circles, vouchservice.WithClock(now))
	s.trust = &stubTrust{score: 80}
	s.loans = &flakyStore{Store: store.NewInMemory()}
	s.svc = New(s.loans, s.circles, s.ledger, s.vouches, s.trust, WithClock(now))

	s.borrower = domain.MemberID(uuid.New())
	circle, err := s.circles.CreateCircle(s.ctx, s.borrower, "Seva Circle")
	s.Require().NoError(err)
	s.circleID = circle.ID
	s.invite = circle.InviteCode

	s.voters = nil
	for n := 0; n < 4; n++ {
		voter := domain.MemberID(uuid.New())
		_, err := s.circles.JoinCircle(s.ctx, voter, circle.InviteCode)
		s.Require().NoError(err)
		s.voters = append(s.voters, voter)
	}

	// Fund the pool well past the default test loan of 2,000 rupees.
	s.Require().NoError(s.circles.Contribute(s.ctx, s.voters[0], s.circleID, 300_000, "seed-contribution"))
}

func (s *LoanSuite) apply() *models.Loan {
	loan, err := s.svc.Apply(s.ctx, s.borrower, s.circleID, 200_000, 28, "sewing machine")
	s.Require().NoError(err)
	return loan
}

func (s *LoanSuite) approve(loanID domain.LoanID) *models.Loan {
	var loan *models.Loan
	var err error
	for _, voter := range s.voters[:3] {
		loan, err = s.svc.Vote(s.ctx, voter, loanID, models.ChoiceApprove)
		s.Require().NoError(err)
	}
	return loan
}

func (s *LoanSuite) poolTotal() domain.Paise {
	details, err := s.circles.GetCircle(s.ctx, s.borrower, s.circleID)
	s.Require().NoError(err)
	return details.Circle.TotalPool
}

func (s *LoanSuite) TestApplySnapshotsRateAndFreezesVoters() {
	loan := s.apply()

	s.Equal(models.StatusVoting, loan.Status)
	s.Equal(domain.BasisPoints(200), loan.InterestRate)
	s.Equal(4, loan.VotesTotal)
	// 200,000 at 2% over 4 weeks: ceil(204000/4) = 51000.
	s.Equal(domain.Paise(51_000), loan.EMIAmount)
}

func (s *LoanSuite) TestApplyUsesPoorScoreTier() {
	s.trust.score = 30
	loan := s.apply()
	s.Equal(domain.BasisPoints(400), loan.InterestRate)
}

func (s *LoanSuite) TestApplyValidation() {
	s.Run("amount below minimum", func() {
		_, err := s.svc.Apply(s.ctx, s.borrower, s.circleID, 50_000, 28, "seeds")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
	s.Run("tenure not weekly", func() {
		_, err := s.svc.Apply(s.ctx, s.borrower, s.circleID, 200_000, 30, "seeds")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
	s.Run("tenure too long", func() {
		_, err := s.svc.Apply(s.ctx, s.borrower, s.circleID, 200_000, 371, "seeds")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
	s.Run("empty purpose", func() {
		_, err := s.svc.Apply(s.ctx, s.borrower, s.circleID, 200_000, 28, "   ")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
	s.Run("non-member", func() {
		_, err := s.svc.Apply(s.ctx, domain.MemberID(uuid.New()), s.circleID, 200_000, 28, "seeds")
		s.True(dErrors.HasCode(err, dErrors.CodeNotAuthorized))
	})
}

func (s *LoanSuite) TestApplyRejectsSecondOpenLoan() {
	s.apply()

	_, err := s.svc.Apply(s.ctx, s.borrower, s.circleID, 200_000, 28, "second loan")
	s.True(dErrors.HasCode(err, dErrors.CodeStateConflict))
}

func (s *LoanSuite) TestEarlyMajorityApprovesAndDisburses() {
	loan := s.apply()

	// Two approvals out of four voters: no majority yet.
	partial, err := s.svc.Vote(s.ctx, s.voters[0], loan.ID, models.ChoiceApprove)
	s.Require().NoError(err)
	s.Equal(models.StatusVoting, partial.Status)

	partial, err = s.svc.Vote(s.ctx, s.voters[1], loan.ID, models.ChoiceApprove)
	s.Require().NoError(err)
	s.Equal(models.StatusVoting, partial.Status)

	// Third approval crosses half of four: approved and disbursed at once.
	resolved, err := s.svc.Vote(s.ctx, s.voters[2], loan.ID, models.ChoiceApprove)
	s.Require().NoError(err)
	s.Equal(models.StatusDisbursed, resolved.Status)
	s.Require().NotNil(resolved.NextEMIDate)
	s.Equal(s.clock.Add(7*24*time.Hour), *resolved.NextEMIDate)
	s.Equal(domain.Paise(100_000), s.poolTotal())
}

func (s *LoanSuite) TestEarlyMajorityRejects() {
	loan := s.apply()
	for _, voter := range s.voters[:3] {
		resolved, err := s.svc.Vote(s.ctx, voter, loan.ID, models.ChoiceReject)
		s.Require().NoError(err)
		if voter == s.voters[2] {
			s.Equal(models.StatusRejected, resolved.Status)
		}
	}
	s.Equal(domain.Paise(300_000), s.poolTotal())

	_, err := s.svc.Vote(s.ctx, s.voters[3], loan.ID, models.ChoiceApprove)
	s.True(dErrors.HasCode(err, dErrors.CodeStateConflict))
}

func (s *LoanSuite) TestRevoteOverwrites() {
	loan := s.apply()

	_, err := s.svc.Vote(s.ctx, s.voters[0], loan.ID, models.ChoiceApprove)
	s.Require().NoError(err)
	_, err = s.svc.Vote(s.ctx, s.voters[1], loan.ID, models.ChoiceApprove)
	s.Require().NoError(err)

	// The first voter flips; counts move, they do not duplicate.
	flipped, err := s.svc.Vote(s.ctx, s.voters[0], loan.ID, models.ChoiceReject)
	s.Require().NoError(err)
	s.Equal(1, flipped.VotesFor)
	s.Equal(1, flipped.VotesAgainst)
	s.Equal(models.StatusVoting, flipped.Status)

	// Re-casting the same choice changes nothing.
	same, err := s.svc.Vote(s.ctx, s.voters[0], loan.ID, models.ChoiceReject)
	s.Require().NoError(err)
	s.Equal(1, same.VotesFor)
	s.Equal(1, same.VotesAgainst)
}

func (s *LoanSuite) TestNewcomerCannotVoteOnOpenLoan() {
	loan := s.apply()
	for _, voter := range s.voters[:2] {
		_, err := s.svc.Vote(s.ctx, voter, loan.ID, models.ChoiceApprove)
		s.Require().NoError(err)
	}

	s.clock = s.clock.Add(time.Hour)
	newcomer := domain.MemberID(uuid.New())
	_, err := s.circles.JoinCircle(s.ctx, newcomer, s.invite)
	s.Require().NoError(err)

	// The newcomer holds a seat but not a ballot: the electorate froze with
	// four voters when the loan was created.
	_, err = s.svc.Vote(s.ctx, newcomer, loan.ID, models.ChoiceApprove)
	s.True(dErrors.HasCode(err, dErrors.CodeNotAuthorized))

	current, err := s.svc.GetLoan(s.ctx, s.borrower, loan.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusVoting, current.Status)
	s.Equal(2, current.VotesFor)
	s.Equal(4, current.VotesTotal)
}

func (s *LoanSuite) TestVoteTurnFailureMovesNoMoney() {
	loan := s.apply()
	for _, voter := range s.voters[:2] {
		_, err := s.svc.Vote(s.ctx, voter, loan.ID, models.ChoiceApprove)
		s.Require().NoError(err)
	}

	// The decisive ballot commits, then the loan write is lost. No approval
	// is durable, so nothing may leave the pool.
	s.loans.failUpdates = 1
	_, err := s.svc.Vote(s.ctx, s.voters[2], loan.ID, models.ChoiceApprove)
	s.Require().Error(err)
	s.Equal(domain.Paise(300_000), s.poolTotal())

	// The retry recounts the committed ballots and resolves.
	resolved, err := s.svc.Vote(s.ctx, s.voters[2], loan.ID, models.ChoiceApprove)
	s.Require().NoError(err)
	s.Equal(3, resolved.VotesFor)
	s.Equal(models.StatusDisbursed, resolved.Status)
	s.Equal(domain.Paise(100_000), s.poolTotal())
}

func (s *LoanSuite) TestRepaymentHealsLostWrite() {
	loan := s.apply()
	s.approve(loan.ID)

	s.loans.failUpdates = 1
	_, err := s.svc.ConfirmRepayment(s.ctx, loan.ID, 51_000, "upi", "pay-1")
	s.Require().Error(err)

	// The installment row was committed; replaying the confirmation repairs
	// the loan and credits the pool exactly once.
	healed, err := s.svc.ConfirmRepayment(s.ctx, loan.ID, 51_000, "upi", "pay-1")
	s.Require().NoError(err)
	s.Equal(domain.Paise(51_000), healed.TotalRepaid)
	s.Equal(models.StatusRepaying, healed.Status)
	s.Equal(domain.Paise(151_000), s.poolTotal())
}

func (s *LoanSuite) TestBorrowerAndOutsidersCannotVote() {
	loan := s.apply()

	_, err := s.svc.Vote(s.ctx, s.borrower, loan.ID, models.ChoiceApprove)
	s.True(dErrors.HasCode(err, dErrors.CodeNotAuthorized))

	_, err = s.svc.Vote(s.ctx, domain.MemberID(uuid.New()), loan.ID, models.ChoiceApprove)
	s.True(dErrors.HasCode(err, dErrors.CodeNotAuthorized))
}

func (s *LoanSuite) TestUnderfundedPoolDefersDisbursement() {
	loan, err := s.svc.Apply(s.ctx, s.borrower, s.circleID, 350_000, 28, "buffalo")
	s.Require().NoError(err)

	resolved := s.approve(loan.ID)
	s.Equal(models.StatusApproved, resolved.Status)
	s.Equal(domain.Paise(300_000), s.poolTotal())

	_, err = s.svc.RetryDisbursement(s.ctx, loan.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeInsufficientPool))

	s.Require().NoError(s.circles.Contribute(s.ctx, s.voters[1], s.circleID, 100_000, "top-up"))
	retried, err := s.svc.RetryDisbursement(s.ctx, loan.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusDisbursed, retried.Status)
	s.Equal(domain.Paise(50_000), s.poolTotal())

	// Replaying the retry on a disbursed loan debits nothing.
	again, err := s.svc.RetryDisbursement(s.ctx, loan.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusDisbursed, again.Status)
	s.Equal(domain.Paise(50_000), s.poolTotal())
}

func (s *LoanSuite) TestRepaymentLifecycle() {
	loan := s.apply()
	s.approve(loan.ID)

	s.Run("first installment moves to repaying", func() {
		updated, err := s.svc.ConfirmRepayment(s.ctx, loan.ID, 51_000, "upi", "pay-1")
		s.Require().NoError(err)
		s.Equal(models.StatusRepaying, updated.Status)
		s.Equal(domain.Paise(51_000), updated.TotalRepaid)
	})

	s.Run("replayed confirmation is absorbed", func() {
		updated, err := s.svc.ConfirmRepayment(s.ctx, loan.ID, 51_000, "upi", "pay-1")
		s.Require().NoError(err)
		s.Equal(domain.Paise(51_000), updated.TotalRepaid)
	})

	s.Run("overpayment rejected", func() {
		_, err := s.svc.ConfirmRepayment(s.ctx, loan.ID, 200_000, "upi", "pay-2")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("final installment completes and rewards", func() {
		for i, amount := range []domain.Paise{51_000, 51_000, 51_000} {
			updated, err := s.svc.ConfirmRepayment(s.ctx, loan.ID, amount, "upi", "pay-final-"+string(rune('a'+i)))
			s.Require().NoError(err)
			if i == 2 {
				s.Equal(models.StatusCompleted, updated.Status)
				s.Nil(updated.NextEMIDate)
			}
		}

		// Four confirmed installments each accrued 5 SAATHI, realized on completion.
		balance, err := s.ledger.BalanceOf(s.ctx, s.borrower)
		s.Require().NoError(err)
		s.Equal(domain.Saathi(20), balance.Available)
		s.Equal(domain.Saathi(0), balance.PendingRewards)

		// The full repayment flowed back into the pool.
		s.Equal(domain.Paise(304_000), s.poolTotal())

		// Completion recomputed the borrower's score.
		s.Contains(s.trust.calls, s.borrower)
	})
}

func (s *LoanSuite) TestDefaultSlashesVouchesAndForfeitsRewards() {
	// A voter stakes behind the borrower before the loan.
	_, err := s.ledger.Credit(s.ctx, s.voters[0], 200, tokenmodels.TxEarn, "signup bonus")
	s.Require().NoError(err)
	vouch, err := s.vouches.CreateVouch(s.ctx, s.voters[0], s.borrower, s.circleID, vouchmodels.LevelStrong, 100)
	s.Require().NoError(err)

	loan := s.apply()
	s.approve(loan.ID)

	_, err = s.svc.ConfirmRepayment(s.ctx, loan.ID, 51_000, "upi", "pay-1")
	s.Require().NoError(err)

	s.Run("inside grace window nothing defaults", func() {
		_, err := s.svc.MarkOverdue(s.ctx, loan.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeStateConflict))
	})

	// Locked vouches cannot be revoked mid-loan.
	err = s.vouches.RevokeVouch(s.ctx, s.voters[0], vouch.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeStateConflict))

	s.clock = s.clock.Add(15 * 24 * time.Hour)

	defaulted, err := s.svc.MarkOverdue(s.ctx, loan.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusDefaulted, defaulted.Status)

	// The voucher's full stake burned.
	balance, err := s.ledger.BalanceOf(s.ctx, s.voters[0])
	s.Require().NoError(err)
	s.Equal(domain.Saathi(100), balance.Available)
	s.Equal(domain.Saathi(0), balance.Staked)

	// The borrower's provisional rewards are gone.
	borrowerBalance, err := s.ledger.BalanceOf(s.ctx, s.borrower)
	s.Require().NoError(err)
	s.Equal(domain.Saathi(0), borrowerBalance.PendingRewards)

	s.Run("second call is idempotent", func() {
		again, err := s.svc.MarkOverdue(s.ctx, loan.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusDefaulted, again.Status)
	})
}

func (s *LoanSuite) TestSweepExpiresStaleVoting() {
	loan := s.apply()
	_, err := s.svc.Vote(s.ctx, s.voters[0], loan.ID, models.ChoiceApprove)
	s.Require().NoError(err)

	s.clock = s.clock.Add(73 * time.Hour)
	s.Require().NoError(s.svc.SweepDeadlines(s.ctx))

	expired, err := s.svc.GetLoan(s.ctx, s.borrower, loan.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusRejected, expired.Status)
}

func (s *LoanSuite) TestRecordAnchor() {
	loan := s.apply()
	s.approve(loan.ID)

	anchored, err := s.svc.RecordAnchor(s.ctx, loan.ID, "0xabc123")
	s.Require().NoError(err)
	s.Equal("0xabc123", anchored.AnchorTxHash)

	// Replaying the same hash is fine.
	_, err = s.svc.RecordAnchor(s.ctx, loan.ID, "0xabc123")
	s.Require().NoError(err)

	// A different hash conflicts.
	_, err = s.svc.RecordAnchor(s.ctx, loan.ID, "0xdef456")
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *LoanSuite) TestRepaymentRecordCountsTerminalLoans() {
	loan := s.apply()
	s.approve(loan.ID)
	for i := 0; i < 4; i++ {
		_, err := s.svc.ConfirmRepayment(s.ctx, loan.ID, 51_000, "upi", "pay-"+string(rune('a'+i)))
		s.Require().NoError(err)
	}

	completed, defaulted, err := s.svc.RepaymentRecord(s.ctx, s.borrower)
	s.Require().NoError(err)
	s.Equal(1, completed)
	s.Equal(0, defaulted)
}
