package memory

import (
	"context"
	"sync"
	"time"

	"live-quiz-service/internal/domain"
)

// ProfileStore is an in-memory implementation of app.ProfileStore.
type ProfileStore struct {
	mu       sync.Mutex
	profiles map[string]*domain.Profile
	// grant ids already applied to a balance
	credited map[string]struct{}
}

func NewProfileStore() *ProfileStore {
	return &ProfileStore{
		profiles: make(map[string]*domain.Profile),
		credited: make(map[string]struct{}),
	}
}

func (s *ProfileStore) GetProfile(_ context.Context, userID string) (domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyProfile(s.ensureLocked(userID)), nil
}

func (s *ProfileStore) IncrementBalance(_ context.Context, userID string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.ensureLocked(userID)
	p.Balance += delta
	return p.Balance, nil
}

func (s *ProfileStore) Credit(_ context.Context, grant domain.RewardGrant) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.ensureLocked(grant.ParticipantID)
	if _, ok := s.credited[grant.ID]; ok {
		return p.Balance, false, nil
	}
	s.credited[grant.ID] = struct{}{}
	p.Balance += grant.Amount
	return p.Balance, true, nil
}

func (s *ProfileStore) SetSelectedItem(_ context.Context, userID, item string) (domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.ensureLocked(userID)
	if !p.Owns(item) {
		return domain.Profile{}, domain.ErrItemLocked
	}
	p.SelectedItem = item
	return copyProfile(p), nil
}

func (s *ProfileStore) AddUnlockedItem(_ context.Context, userID, item string) (domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.ensureLocked(userID)
	if !p.Owns(item) {
		p.Unlocked = append(p.Unlocked, item)
	}
	return copyProfile(p), nil
}

func (s *ProfileStore) ClaimSpin(_ context.Context, userID string, now time.Time, cooldown time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.ensureLocked(userID)
	if !p.LastSpin.IsZero() {
		if next := p.LastSpin.Add(cooldown); now.Before(next) {
			return domain.Cooldown(next.Sub(now))
		}
	}
	p.LastSpin = now
	return nil
}

func (s *ProfileStore) Purchase(_ context.Context, userID string, cost int, item string) (domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.ensureLocked(userID)
	if p.Balance < cost {
		return domain.Profile{}, domain.ErrInsufficientFunds
	}
	if p.Owns(item) {
		return domain.Profile{}, domain.ErrItemOwned
	}
	p.Balance -= cost
	p.Unlocked = append(p.Unlocked, item)
	return copyProfile(p), nil
}

func (s *ProfileStore) ensureLocked(userID string) *domain.Profile {
	p, ok := s.profiles[userID]
	if !ok {
		fresh := domain.NewProfile(userID)
		p = &fresh
		s.profiles[userID] = p
	}
	return p
}

func copyProfile(p *domain.Profile) domain.Profile {
	out := *p
	out.Unlocked = append([]string(nil), p.Unlocked...)
	return out
}
