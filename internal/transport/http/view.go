package http

import (
	"time"

	"live-quiz-service/internal/domain"
)

type questionView struct {
	Index   int      `json:"index"`
	Text    string   `json:"text"`
	Options []string `json:"options"`
	Correct *int     `json:"correct,omitempty"`
}

// sessionView is what clients see of a session. Non-creators only see questions that
// have been opened, and never the correct option before the session finishes.
type sessionView struct {
	Code              string                    `json:"code"`
	Title             string                    `json:"title"`
	CreatorID         string                    `json:"creatorId"`
	State             domain.State              `json:"state"`
	CurrentIndex      int                       `json:"currentIndex"`
	QuestionCount     int                       `json:"questionCount"`
	Questions         []questionView            `json:"questions"`
	QuestionStartedAt *time.Time                `json:"questionStartedAt,omitempty"`
	Deadline          *time.Time                `json:"deadline,omitempty"`
	Leaderboard       []domain.LeaderboardEntry `json:"leaderboard"`
	Version           int64                     `json:"version"`
	JoinURL           string                    `json:"joinUrl"`
}

func newSessionView(s domain.Session, viewer domain.Identity, joinURL string) sessionView {
	state := s.State()
	isCreator := viewer.ID == s.CreatorID

	visible := len(s.Questions)
	if !isCreator && state != domain.StateFinished {
		visible = s.CurrentIndex + 1
		if visible < 0 {
			visible = 0
		}
	}
	questions := make([]questionView, 0, visible)
	for i := 0; i < visible && i < len(s.Questions); i++ {
		q := s.Questions[i]
		qv := questionView{Index: i, Text: q.Text, Options: append([]string(nil), q.Options...)}
		if isCreator || state == domain.StateFinished {
			correct := q.Correct
			qv.Correct = &correct
		}
		questions = append(questions, qv)
	}

	view := sessionView{
		Code:          s.Code,
		Title:         s.Title,
		CreatorID:     s.CreatorID,
		State:         state,
		CurrentIndex:  s.CurrentIndex,
		QuestionCount: len(s.Questions),
		Questions:     questions,
		Leaderboard:   s.Leaderboard().Entries,
		Version:       s.Version,
		JoinURL:       joinURL,
	}
	if state == domain.StateActive {
		started := s.QuestionStartedAt
		view.QuestionStartedAt = &started
	}
	if deadline := s.Deadline(); !deadline.IsZero() {
		view.Deadline = &deadline
	}
	return view
}
