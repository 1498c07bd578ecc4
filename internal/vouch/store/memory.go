package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bharosa/internal/sentinel"
	"bharosa/internal/vouch/models"
	"bharosa/pkg/domain"
)

// InMemory stores vouches and their loan locks in memory.
type InMemory struct {
	mu      sync.RWMutex
	vouches map[string]*models.Vouch
	locks   map[string][]models.LoanLock // loan ID -> locks
}

// NewInMemory creates an in-memory vouch store.
func NewInMemory() *InMemory {
	return &InMemory{
		vouches: make(map[string]*models.Vouch),
		locks:   make(map[string][]models.LoanLock),
	}
}

// Create records a vouch, failing if the voucher already actively vouches
// for the same member in the same circle.
func (s *InMemory) Create(_ context.Context, v *models.Vouch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.vouches {
		if existing.Active &&
			existing.VoucherID == v.VoucherID &&
			existing.VoucheeID == v.VoucheeID &&
			existing.CircleID == v.CircleID {
			return fmt.Errorf("active vouch exists: %w", sentinel.ErrAlreadyUsed)
		}
	}
	cp := *v
	s.vouches[v.ID.String()] = &cp
	return nil
}

// FindByID retrieves a vouch by ID.
func (s *InMemory) FindByID(_ context.Context, vouchID domain.VouchID) (*models.Vouch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.vouches[vouchID.String()]; ok {
		cp := *v
		return &cp, nil
	}
	return nil, sentinel.ErrNotFound
}

// ActiveByVouchee returns the active vouches backing a member.
func (s *InMemory) ActiveByVouchee(_ context.Context, voucheeID domain.MemberID) ([]models.Vouch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Vouch
	for _, v := range s.vouches {
		if v.Active && v.VoucheeID == voucheeID {
			out = append(out, *v)
		}
	}
	return out, nil
}

// ActiveByVoucher returns the active vouches a member has given.
func (s *InMemory) ActiveByVoucher(_ context.Context, voucherID domain.MemberID) ([]models.Vouch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Vouch
	for _, v := range s.vouches {
		if v.Active && v.VoucherID == voucherID {
			out = append(out, *v)
		}
	}
	return out, nil
}

// Deactivate marks the vouch inactive, failing if it already is.
func (s *InMemory) Deactivate(_ context.Context, vouchID domain.VouchID, revokedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vouches[vouchID.String()]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !v.Active {
		return fmt.Errorf("vouch already inactive: %w", sentinel.ErrInvalidState)
	}
	v.Active = false
	v.RevokedAt = &revokedAt
	return nil
}

// LockForLoan records which vouches a loan's approval counted. Re-locking an
// already-locked pair is absorbed so a retried disbursement cannot duplicate.
func (s *InMemory) LockForLoan(_ context.Context, locks []models.LoanLock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range locks {
		key := l.LoanID.String()
		if hasLock(s.locks[key], l.VouchID) {
			continue
		}
		s.locks[key] = append(s.locks[key], l)
	}
	return nil
}

func hasLock(locks []models.LoanLock, vouchID domain.VouchID) bool {
	for _, l := range locks {
		if l.VouchID == vouchID {
			return true
		}
	}
	return false
}

// LocksFor returns the vouches locked to a loan.
func (s *InMemory) LocksFor(_ context.Context, loanID domain.LoanID) ([]models.LoanLock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	locks := s.locks[loanID.String()]
	out := make([]models.LoanLock, len(locks))
	copy(out, locks)
	return out, nil
}

// ReleaseLoan removes every lock held by the loan.
func (s *InMemory) ReleaseLoan(_ context.Context, loanID domain.LoanID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, loanID.String())
	return nil
}

// IsLocked reports whether any loan still depends on the vouch.
func (s *InMemory) IsLocked(_ context.Context, vouchID domain.VouchID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, locks := range s.locks {
		for _, l := range locks {
			if l.VouchID == vouchID {
				return true, nil
			}
		}
	}
	return false, nil
}
