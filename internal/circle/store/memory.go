package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"bharosa/internal/circle/models"
	"bharosa/internal/sentinel"
	"bharosa/pkg/domain"
)

// InMemory stores circles, rosters, and pool entries in memory.
type InMemory struct {
	mu        sync.RWMutex
	circles   map[string]*models.Circle
	inviteIdx map[string]string
	rosters   map[string][]models.Membership
	entries   map[string]map[string]models.PoolEntry // circle -> external ref -> entry
}

// NewInMemory creates an in-memory circle store.
func NewInMemory() *InMemory {
	return &InMemory{
		circles:   make(map[string]*models.Circle),
		inviteIdx: make(map[string]string),
		rosters:   make(map[string][]models.Membership),
		entries:   make(map[string]map[string]models.PoolEntry),
	}
}

// Create atomically records the circle and its founding admin seat,
// failing if the invite code is already taken.
func (s *InMemory) Create(_ context.Context, c *models.Circle, admin models.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	code := strings.ToUpper(c.InviteCode)
	if _, exists := s.inviteIdx[code]; exists {
		return fmt.Errorf("invite code taken: %w", sentinel.ErrAlreadyUsed)
	}
	key := c.ID.String()
	cp := *c
	s.circles[key] = &cp
	s.inviteIdx[code] = key
	s.rosters[key] = []models.Membership{admin}
	return nil
}

// FindByID retrieves a circle by its UUID.
func (s *InMemory) FindByID(_ context.Context, circleID domain.CircleID) (*models.Circle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.circles[circleID.String()]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, sentinel.ErrNotFound
}

// FindByInviteCode retrieves a circle by invite code (case-insensitive).
func (s *InMemory) FindByInviteCode(_ context.Context, code string) (*models.Circle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if key, ok := s.inviteIdx[strings.ToUpper(code)]; ok {
		cp := *s.circles[key]
		return &cp, nil
	}
	return nil, sentinel.ErrNotFound
}

// AddMember appends a seat to the roster, failing if the member already sits in it.
func (s *InMemory) AddMember(_ context.Context, m models.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := m.CircleID.String()
	if _, ok := s.circles[key]; !ok {
		return sentinel.ErrNotFound
	}
	for _, seat := range s.rosters[key] {
		if seat.MemberID == m.MemberID {
			return fmt.Errorf("already a member: %w", sentinel.ErrAlreadyUsed)
		}
	}
	s.rosters[key] = append(s.rosters[key], m)
	return nil
}

// Roster returns the circle's seats in join order.
func (s *InMemory) Roster(_ context.Context, circleID domain.CircleID) ([]models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roster, ok := s.rosters[circleID.String()]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := make([]models.Membership, len(roster))
	copy(out, roster)
	return out, nil
}

// IsMember reports whether the member holds a seat in the circle.
func (s *InMemory) IsMember(_ context.Context, circleID domain.CircleID, memberID domain.MemberID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, seat := range s.rosters[circleID.String()] {
		if seat.MemberID == memberID {
			return true, nil
		}
	}
	return false, nil
}

// Membership returns the member's seat in the circle.
func (s *InMemory) Membership(_ context.Context, circleID domain.CircleID, memberID domain.MemberID) (*models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, seat := range s.rosters[circleID.String()] {
		if seat.MemberID == memberID {
			cp := seat
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// CirclesFor returns every circle the member belongs to.
func (s *InMemory) CirclesFor(_ context.Context, memberID domain.MemberID) ([]models.Circle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Circle
	for key, roster := range s.rosters {
		for _, seat := range roster {
			if seat.MemberID == memberID {
				out = append(out, *s.circles[key])
				break
			}
		}
	}
	return out, nil
}

// AddPoolEntry records a confirmed contribution and grows the pool.
// Replays of the same external reference are absorbed without double-crediting.
func (s *InMemory) AddPoolEntry(_ context.Context, entry models.PoolEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := entry.CircleID.String()
	c, ok := s.circles[key]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	refs := s.entries[key]
	if refs == nil {
		refs = make(map[string]models.PoolEntry)
		s.entries[key] = refs
	}
	if _, seen := refs[entry.ExternalRef]; seen {
		return false, nil
	}
	refs[entry.ExternalRef] = entry
	c.TotalPool += entry.Amount
	return true, nil
}

// AdjustPool applies a signed delta to the pool, failing when a debit would
// push it negative.
func (s *InMemory) AdjustPool(_ context.Context, circleID domain.CircleID, delta domain.Paise) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.circles[circleID.String()]
	if !ok {
		return sentinel.ErrNotFound
	}
	if c.TotalPool+delta < 0 {
		return fmt.Errorf("pool %d cannot absorb %d: %w", c.TotalPool, delta, sentinel.ErrInsufficient)
	}
	c.TotalPool += delta
	return nil
}
