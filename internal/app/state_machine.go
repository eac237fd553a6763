package app

import (
	"context"
	"errors"
	"time"

	"live-quiz-service/internal/domain"
)

// StateMachine owns lifecycle transitions: Created -> Active -> Finished.
// The current index is the single source of truth for which question is live;
// answered markers are scoped by index, so advancing never has to reset them.
type StateMachine struct {
	sessions    SessionStore
	now         func() time.Time
	revealGrace time.Duration
}

func NewStateMachine(sessions SessionStore, now func() time.Time, revealGrace time.Duration) *StateMachine {
	if now == nil {
		now = time.Now
	}
	return &StateMachine{sessions: sessions, now: now, revealGrace: revealGrace}
}

// Start moves a Created session to its first question. Creator only.
func (m *StateMachine) Start(ctx context.Context, code, callerID string) (domain.Session, error) {
	return m.sessions.Mutate(ctx, code, func(s *domain.Session) error {
		if s.CreatorID != callerID {
			return domain.ErrNotCreator
		}
		if s.State() != domain.StateCreated {
			return domain.Wrap(domain.CodeInvalidState, "session is not waiting in the lobby", nil)
		}
		if len(s.Questions) == 0 {
			return domain.Wrap(domain.CodeInvalidState, "session has no questions", nil)
		}
		s.Started = true
		s.CurrentIndex = 0
		s.QuestionStartedAt = m.now()
		return nil
	})
}

// Advance moves to the next question, finishing the session after the last one. Creator only.
func (m *StateMachine) Advance(ctx context.Context, code, callerID string) (domain.Session, error) {
	return m.sessions.Mutate(ctx, code, func(s *domain.Session) error {
		if s.CreatorID != callerID {
			return domain.ErrNotCreator
		}
		if s.State() != domain.StateActive {
			return domain.Wrap(domain.CodeInvalidState, "session has no live question", nil)
		}
		m.step(s)
		return nil
	})
}

// AdvanceIfExpired advances on behalf of the server when the live question is still
// expectedIndex and its deadline plus the reveal grace has passed. It reports whether
// it advanced; a session that moved on in the meantime is not an error.
func (m *StateMachine) AdvanceIfExpired(ctx context.Context, code string, expectedIndex int) (domain.Session, bool, error) {
	advanced := false
	errNotDue := errors.New("not due")
	s, err := m.sessions.Mutate(ctx, code, func(s *domain.Session) error {
		advanced = false
		if s.State() != domain.StateActive || s.CurrentIndex != expectedIndex {
			return errNotDue
		}
		deadline := s.Deadline()
		if deadline.IsZero() || m.now().Before(deadline.Add(m.revealGrace)) {
			return errNotDue
		}
		m.step(s)
		advanced = true
		return nil
	})
	if errors.Is(err, errNotDue) {
		return domain.Session{}, false, nil
	}
	if err != nil {
		return domain.Session{}, false, err
	}
	return s, advanced, nil
}

func (m *StateMachine) step(s *domain.Session) {
	if s.CurrentIndex+1 >= len(s.Questions) {
		s.Ended = true
		s.CurrentIndex = len(s.Questions)
		s.QuestionStartedAt = time.Time{}
		return
	}
	s.CurrentIndex++
	s.QuestionStartedAt = m.now()
}

// Join adds a participant while the session is in the lobby. Joining again is an
// idempotent no-op (the display name is refreshed) in any state.
func (m *StateMachine) Join(ctx context.Context, code string, who domain.Identity) (domain.Session, bool, error) {
	already := false
	s, err := m.sessions.Mutate(ctx, code, func(s *domain.Session) error {
		already = false
		if p, ok := s.Participants[who.ID]; ok {
			already = true
			if who.DisplayName != "" {
				p.DisplayName = who.DisplayName
			}
			s.Participants[who.ID] = p
			return nil
		}
		if s.State() != domain.StateCreated {
			return domain.ErrAlreadyStarted
		}
		if s.Participants == nil {
			s.Participants = make(map[string]domain.Participant)
		}
		s.Participants[who.ID] = domain.Participant{
			ID:          who.ID,
			DisplayName: who.DisplayName,
			JoinedAt:    m.now(),
		}
		return nil
	})
	if errors.Is(err, domain.ErrSessionNotFound) {
		return domain.Session{}, false, domain.Wrap(domain.CodeForbidden, domain.ErrUnknownSessionCode.Message, err)
	}
	return s, already, err
}
