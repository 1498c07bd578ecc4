package store

import (
	"context"
	"fmt"
	"sync"

	"bharosa/internal/sentinel"
	"bharosa/internal/token/models"
	"bharosa/pkg/domain"
)

// InMemory keeps balances, holds, and the transaction log in memory.
// Every mutating method updates the cached balance and appends the ledger
// entry under one lock, so no partial state is ever observable.
type InMemory struct {
	mu       sync.RWMutex
	balances map[string]models.Balance
	holds    map[string]*models.Hold
	log      []models.Transaction
}

// NewInMemory creates an in-memory token ledger store.
func NewInMemory() *InMemory {
	return &InMemory{
		balances: make(map[string]models.Balance),
		holds:    make(map[string]*models.Hold),
	}
}

// Balance returns the member's cached balance, zero-valued if unknown.
func (s *InMemory) Balance(_ context.Context, memberID domain.MemberID) (models.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b := s.balances[memberID.String()]
	b.MemberID = memberID
	return b, nil
}

// CreditAvailable adds the transaction amount to the member's available
// balance and appends the ledger entry.
func (s *InMemory) CreditAvailable(_ context.Context, tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.balances[tx.MemberID.String()]
	b.MemberID = tx.MemberID
	b.Available += tx.Amount
	s.balances[tx.MemberID.String()] = b
	s.log = append(s.log, *tx)
	return nil
}

// DebitAvailable subtracts the transaction amount from the member's available
// balance, failing without mutation if the balance cannot cover it.
func (s *InMemory) DebitAvailable(_ context.Context, tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.balances[tx.MemberID.String()]
	if b.Available < tx.Amount {
		return fmt.Errorf("available %d below %d: %w", b.Available, tx.Amount, sentinel.ErrInsufficient)
	}
	b.MemberID = tx.MemberID
	b.Available -= tx.Amount
	s.balances[tx.MemberID.String()] = b
	s.log = append(s.log, *tx)
	return nil
}

// CreateHold moves the hold amount from available to staked, records the
// hold, and appends the stake transaction as one unit.
func (s *InMemory) CreateHold(_ context.Context, hold *models.Hold, tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.balances[hold.MemberID.String()]
	if b.Available < hold.Amount {
		return fmt.Errorf("available %d below stake %d: %w", b.Available, hold.Amount, sentinel.ErrInsufficient)
	}
	b.MemberID = hold.MemberID
	b.Available -= hold.Amount
	b.Staked += hold.Amount
	s.balances[hold.MemberID.String()] = b
	cp := *hold
	s.holds[hold.ID.String()] = &cp
	s.log = append(s.log, *tx)
	return nil
}

// FindHold retrieves a hold by ID.
func (s *InMemory) FindHold(_ context.Context, holdID domain.HoldID) (*models.Hold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if h, ok := s.holds[holdID.String()]; ok {
		cp := *h
		return &cp, nil
	}
	return nil, sentinel.ErrNotFound
}

// ReleaseHold returns the hold's remaining stake to available and appends
// the unstake transaction. Releasing an already released hold fails.
func (s *InMemory) ReleaseHold(_ context.Context, holdID domain.HoldID, tx *models.Transaction) (domain.Saathi, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[holdID.String()]
	if !ok {
		return 0, sentinel.ErrNotFound
	}
	if h.Released {
		return 0, fmt.Errorf("hold already released: %w", sentinel.ErrInvalidState)
	}
	released := h.Remaining
	b := s.balances[h.MemberID.String()]
	b.MemberID = h.MemberID
	b.Staked -= released
	b.Available += released
	s.balances[h.MemberID.String()] = b
	h.Remaining = 0
	h.Released = true
	tx.Amount = released
	s.log = append(s.log, *tx)
	return released, nil
}

// BurnHold permanently removes the given amount from the hold and the
// member's staked balance. Burned tokens return to no one.
func (s *InMemory) BurnHold(_ context.Context, holdID domain.HoldID, amount domain.Saathi, tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[holdID.String()]
	if !ok {
		return sentinel.ErrNotFound
	}
	if h.Released || h.Remaining < amount {
		return fmt.Errorf("hold cannot cover slash of %d: %w", amount, sentinel.ErrInvalidState)
	}
	b := s.balances[h.MemberID.String()]
	b.MemberID = h.MemberID
	b.Staked -= amount
	s.balances[h.MemberID.String()] = b
	h.Remaining -= amount
	if h.Remaining == 0 {
		h.Released = true
	}
	s.log = append(s.log, *tx)
	return nil
}

// AccruePending adds to the member's provisional reward pot.
func (s *InMemory) AccruePending(_ context.Context, memberID domain.MemberID, amount domain.Saathi) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.balances[memberID.String()]
	b.MemberID = memberID
	b.PendingRewards += amount
	s.balances[memberID.String()] = b
	return nil
}

// SettlePending zeroes the pending pot and returns what it held. When the
// caller realizes the rewards it moves the returned amount to available via
// the supplied transaction; forfeits pass a nil transaction.
func (s *InMemory) SettlePending(_ context.Context, memberID domain.MemberID, tx *models.Transaction) (domain.Saathi, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.balances[memberID.String()]
	pending := b.PendingRewards
	b.MemberID = memberID
	b.PendingRewards = 0
	if tx != nil {
		b.Available += pending
		tx.Amount = pending
		s.log = append(s.log, *tx)
	}
	s.balances[memberID.String()] = b
	return pending, nil
}

// History returns the member's ledger entries, most recent first.
func (s *InMemory) History(_ context.Context, memberID domain.MemberID, limit int) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Transaction
	for i := len(s.log) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.log[i].MemberID == memberID {
			out = append(out, s.log[i])
		}
	}
	return out, nil
}
