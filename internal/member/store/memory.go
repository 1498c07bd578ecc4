package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bharosa/internal/member/models"
	"bharosa/internal/sentinel"
	"bharosa/pkg/domain"
)

// InMemory stores member records in memory.
type InMemory struct {
	mu       sync.RWMutex
	members  map[string]*models.Member
	phoneIdx map[string]string
}

// NewInMemory creates an in-memory member store.
func NewInMemory() *InMemory {
	return &InMemory{
		members:  make(map[string]*models.Member),
		phoneIdx: make(map[string]string),
	}
}

// Create records a new member, failing if the phone number is already registered.
func (s *InMemory) Create(_ context.Context, m *models.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.phoneIdx[m.Phone]; exists {
		return fmt.Errorf("phone registered: %w", sentinel.ErrAlreadyUsed)
	}
	key := m.ID.String()
	cp := *m
	s.members[key] = &cp
	s.phoneIdx[m.Phone] = key
	return nil
}

// FindByID retrieves a member by UUID.
func (s *InMemory) FindByID(_ context.Context, memberID domain.MemberID) (*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.members[memberID.String()]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, sentinel.ErrNotFound
}

// FindByPhone retrieves a member by phone number.
func (s *InMemory) FindByPhone(_ context.Context, phone string) (*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if key, ok := s.phoneIdx[phone]; ok {
		cp := *s.members[key]
		return &cp, nil
	}
	return nil, sentinel.ErrNotFound
}

// SaveScore caches a freshly computed trust score on the member record.
func (s *InMemory) SaveScore(_ context.Context, memberID domain.MemberID, score int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberID.String()]
	if !ok {
		return sentinel.ErrNotFound
	}
	m.TrustScore = score
	m.ScoreUpdatedAt = at
	return nil
}

// IncrementDiary bumps the financial diary counter and returns the new count.
func (s *InMemory) IncrementDiary(_ context.Context, memberID domain.MemberID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberID.String()]
	if !ok {
		return 0, sentinel.ErrNotFound
	}
	m.DiaryEntries++
	return m.DiaryEntries, nil
}
