package memory

import (
	"context"
	"sort"
	"sync"

	"live-quiz-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionStore. A single mutex
// serializes commits, so every Mutate is trivially a check-and-set.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*entry
}

type entry struct {
	session     domain.Session
	subscribers map[chan domain.Session]struct{}
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*entry),
	}
}

func (s *SessionStore) Create(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[session.Code]; ok && existing.session.State() != domain.StateFinished {
		return domain.ErrCodeTaken
	}
	stored := session.Clone()
	stored.Version = 1
	e := &entry{session: stored, subscribers: make(map[chan domain.Session]struct{})}
	if old, ok := s.sessions[session.Code]; ok {
		// Watchers of the finished session keep following the code.
		e.subscribers = old.subscribers
	}
	s.sessions[session.Code] = e
	e.broadcastLocked()
	return nil
}

func (s *SessionStore) Get(_ context.Context, code string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[code]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return e.session.Clone(), nil
}

func (s *SessionStore) Mutate(_ context.Context, code string, patch func(*domain.Session) error) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[code]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	next := e.session.Clone()
	if err := patch(&next); err != nil {
		return domain.Session{}, err
	}
	next.Version = e.session.Version + 1
	e.session = next
	e.broadcastLocked()
	return next.Clone(), nil
}

func (s *SessionStore) Subscribe(_ context.Context, code string) (<-chan domain.Session, func(), error) {
	ch := make(chan domain.Session, 8)

	s.mu.Lock()
	e, ok := s.sessions[code]
	if !ok {
		s.mu.Unlock()
		return nil, nil, domain.ErrSessionNotFound
	}
	e.subscribers[ch] = struct{}{}
	ch <- e.session.Clone()
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if cur, ok := s.sessions[code]; ok {
				if _, ok := cur.subscribers[ch]; ok {
					delete(cur.subscribers, ch)
					close(ch)
				}
			}
		})
	}
	return ch, cancel, nil
}

func (s *SessionStore) ListActive(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	codes := make([]string, 0)
	for code, e := range s.sessions {
		if e.session.State() == domain.StateActive {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes, nil
}

// broadcastLocked fans the committed snapshot out; a full subscriber loses its oldest
// pending snapshot instead of blocking the writer.
func (e *entry) broadcastLocked() {
	for ch := range e.subscribers {
		snapshot := e.session.Clone()
		select {
		case ch <- snapshot:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snapshot
		}
	}
}
