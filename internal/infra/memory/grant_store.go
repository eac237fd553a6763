package memory

import (
	"context"
	"sync"

	"live-quiz-service/internal/domain"
)

// GrantStore is an in-memory, append-only reward ledger.
type GrantStore struct {
	mu         sync.Mutex
	grants     []domain.RewardGrant
	byID       map[string]int
	completion map[completionKey]int
}

type completionKey struct {
	session     string
	participant string
}

func NewGrantStore() *GrantStore {
	return &GrantStore{
		byID:       make(map[string]int),
		completion: make(map[completionKey]int),
	}
}

func (s *GrantStore) Record(_ context.Context, grant domain.RewardGrant) (domain.RewardGrant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i, ok := s.byID[grant.ID]; ok {
		return s.grants[i], false, nil
	}
	key := completionKey{session: grant.SessionID, participant: grant.ParticipantID}
	if grant.Source == domain.GrantCompletion {
		if i, ok := s.completion[key]; ok {
			return s.grants[i], false, nil
		}
	}

	s.grants = append(s.grants, grant)
	i := len(s.grants) - 1
	s.byID[grant.ID] = i
	if grant.Source == domain.GrantCompletion {
		s.completion[key] = i
	}
	return grant, true, nil
}

func (s *GrantStore) List(_ context.Context, participantID string) ([]domain.RewardGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RewardGrant, 0)
	for _, g := range s.grants {
		if g.ParticipantID == participantID {
			out = append(out, g)
		}
	}
	return out, nil
}
