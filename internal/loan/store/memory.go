package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"bharosa/internal/loan/models"
	"bharosa/internal/sentinel"
	"bharosa/pkg/domain"
)

// InMemory stores loans, votes, and repayments in memory.
type InMemory struct {
	mu         sync.RWMutex
	loans      map[string]*models.Loan
	votes      map[string]map[string]models.Vote     // loan -> voter -> vote
	repayments map[string]map[string]models.Repayment // loan -> external ref -> repayment
	order      map[string][]string                    // loan -> external refs in arrival order
}

// NewInMemory creates an in-memory loan store.
func NewInMemory() *InMemory {
	return &InMemory{
		loans:      make(map[string]*models.Loan),
		votes:      make(map[string]map[string]models.Vote),
		repayments: make(map[string]map[string]models.Repayment),
		order:      make(map[string][]string),
	}
}

// Create records a new loan.
func (s *InMemory) Create(_ context.Context, loan *models.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := loan.ID.String()
	if _, exists := s.loans[key]; exists {
		return fmt.Errorf("loan exists: %w", sentinel.ErrAlreadyUsed)
	}
	cp := *loan
	s.loans[key] = &cp
	return nil
}

// FindByID retrieves a loan by ID.
func (s *InMemory) FindByID(_ context.Context, loanID domain.LoanID) (*models.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if l, ok := s.loans[loanID.String()]; ok {
		cp := *l
		return &cp, nil
	}
	return nil, sentinel.ErrNotFound
}

// Update overwrites the loan row.
func (s *InMemory) Update(_ context.Context, loan *models.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := loan.ID.String()
	if _, ok := s.loans[key]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *loan
	s.loans[key] = &cp
	return nil
}

// ByBorrower returns the member's loans, newest first.
func (s *InMemory) ByBorrower(_ context.Context, borrowerID domain.MemberID) ([]models.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Loan
	for _, l := range s.loans {
		if l.BorrowerID == borrowerID {
			out = append(out, *l)
		}
	}
	sortLoansNewestFirst(out)
	return out, nil
}

// ByCircle returns the circle's loans, newest first.
func (s *InMemory) ByCircle(_ context.Context, circleID domain.CircleID) ([]models.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Loan
	for _, l := range s.loans {
		if l.CircleID == circleID {
			out = append(out, *l)
		}
	}
	sortLoansNewestFirst(out)
	return out, nil
}

// UpsertVote records the voter's position, returning the previous choice if
// the voter had already voted.
func (s *InMemory) UpsertVote(_ context.Context, vote models.Vote) (*models.Choice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := vote.LoanID.String()
	if _, ok := s.loans[key]; !ok {
		return nil, sentinel.ErrNotFound
	}
	byVoter := s.votes[key]
	if byVoter == nil {
		byVoter = make(map[string]models.Vote)
		s.votes[key] = byVoter
	}
	var previous *models.Choice
	if old, voted := byVoter[vote.VoterID.String()]; voted {
		c := old.Choice
		previous = &c
	}
	byVoter[vote.VoterID.String()] = vote
	return previous, nil
}

// Votes returns the loan's current votes.
func (s *InMemory) Votes(_ context.Context, loanID domain.LoanID) ([]models.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Vote
	for _, v := range s.votes[loanID.String()] {
		out = append(out, v)
	}
	return out, nil
}

// AddRepayment appends a repayment, absorbing replays of the same external
// reference. Returns whether the record was applied.
func (s *InMemory) AddRepayment(_ context.Context, rep models.Repayment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rep.LoanID.String()
	if _, ok := s.loans[key]; !ok {
		return false, sentinel.ErrNotFound
	}
	refs := s.repayments[key]
	if refs == nil {
		refs = make(map[string]models.Repayment)
		s.repayments[key] = refs
	}
	if _, seen := refs[rep.ExternalRef]; seen {
		return false, nil
	}
	refs[rep.ExternalRef] = rep
	s.order[key] = append(s.order[key], rep.ExternalRef)
	return true, nil
}

// Repayments returns the loan's repayments in arrival order.
func (s *InMemory) Repayments(_ context.Context, loanID domain.LoanID) ([]models.Repayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := loanID.String()
	out := make([]models.Repayment, 0, len(s.order[key]))
	for _, ref := range s.order[key] {
		out = append(out, s.repayments[key][ref])
	}
	return out, nil
}

// RepaymentRecord counts the member's completed and defaulted loans.
func (s *InMemory) RepaymentRecord(_ context.Context, memberID domain.MemberID) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var completed, defaulted int
	for _, l := range s.loans {
		if l.BorrowerID != memberID {
			continue
		}
		switch l.Status {
		case models.StatusCompleted:
			completed++
		case models.StatusDefaulted:
			defaulted++
		}
	}
	return completed, defaulted, nil
}

// VotingOlderThan returns loans still in voting that were created before the
// cutoff.
func (s *InMemory) VotingOlderThan(_ context.Context, cutoff time.Time) ([]models.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Loan
	for _, l := range s.loans {
		if l.Status == models.StatusVoting && l.CreatedAt.Before(cutoff) {
			out = append(out, *l)
		}
	}
	return out, nil
}

// RepayingDueBefore returns disbursed or repaying loans whose next
// installment date has passed the cutoff.
func (s *InMemory) RepayingDueBefore(_ context.Context, cutoff time.Time) ([]models.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Loan
	for _, l := range s.loans {
		live := l.Status == models.StatusRepaying || l.Status == models.StatusDisbursed
		if live && l.NextEMIDate != nil && l.NextEMIDate.Before(cutoff) {
			out = append(out, *l)
		}
	}
	return out, nil
}

// Approved returns loans approved but not yet disbursed, oldest first.
func (s *InMemory) Approved(_ context.Context) ([]models.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Loan
	for _, l := range s.loans {
		if l.Status == models.StatusApproved {
			out = append(out, *l)
		}
	}
	sortLoansNewestFirst(out)
	// Oldest first so stuck disbursements retry in arrival order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func sortLoansNewestFirst(loans []models.Loan) {
	sort.Slice(loans, func(i, j int) bool {
		return loans[i].CreatedAt.After(loans[j].CreatedAt)
	})
}
