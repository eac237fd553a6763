package app

import (
	"context"
	"time"

	"live-quiz-service/internal/domain"
)

// DefaultPointsPerCorrect is the fixed award for a correct answer.
const DefaultPointsPerCorrect = 10

// Verdict is the outcome of scoring one answer.
type Verdict struct {
	QuestionIndex int  `json:"questionIndex"`
	Option        int  `json:"option"`
	Correct       bool `json:"correct"`
	Awarded       int  `json:"awarded"`
	TotalScore    int  `json:"totalScore"`
	CompletedAll  bool `json:"completedAll"`
}

// AnswerProcessor validates and scores answers. The per-(participant, question) answer
// marker is written in the same check-and-set as the score, so a question scores at most once.
type AnswerProcessor struct {
	sessions SessionStore
	now      func() time.Time
	points   int
}

func NewAnswerProcessor(sessions SessionStore, now func() time.Time, points int) *AnswerProcessor {
	if now == nil {
		now = time.Now
	}
	if points <= 0 {
		points = DefaultPointsPerCorrect
	}
	return &AnswerProcessor{sessions: sessions, now: now, points: points}
}

// Submit records participantID's answer to questionIndex. On domain.ErrAlreadyAnswered the
// returned verdict describes the answer already on record.
func (a *AnswerProcessor) Submit(ctx context.Context, code, participantID string, questionIndex, option int) (Verdict, error) {
	var verdict Verdict
	_, err := a.sessions.Mutate(ctx, code, func(s *domain.Session) error {
		verdict = Verdict{QuestionIndex: questionIndex, Option: option}
		p, ok := s.Participants[participantID]
		if !ok {
			return domain.ErrParticipantNotFound
		}
		if s.State() == domain.StateCreated {
			return domain.Wrap(domain.CodeInvalidState, "session has not started", nil)
		}
		if questionIndex != s.CurrentIndex || s.State() != domain.StateActive {
			return domain.ErrStaleQuestion
		}
		if prior, answered := p.Answers[questionIndex]; answered {
			verdict.Option = prior
			verdict.Correct = s.Questions[questionIndex].IsCorrect(prior)
			verdict.TotalScore = p.Score
			verdict.CompletedAll = p.CompletedAll
			return domain.ErrAlreadyAnswered
		}
		question := s.Questions[questionIndex]
		if option < 0 || option >= len(question.Options) {
			return domain.Wrap(domain.CodeInvalidArgument, "option out of range", nil)
		}
		if deadline := s.Deadline(); !deadline.IsZero() && a.now().After(deadline) {
			return domain.Wrap(domain.CodeStaleQuestion, "time limit elapsed", nil)
		}

		if p.Answers == nil {
			p.Answers = make(map[int]int)
		}
		p.Answers[questionIndex] = option
		p.LastCorrect = question.IsCorrect(option)
		if p.LastCorrect {
			p.Score += a.points
			p.CorrectCount++
			verdict.Awarded = a.points
		}
		if questionIndex == len(s.Questions)-1 {
			p.CompletedAll = true
		}
		s.Participants[participantID] = p

		verdict.Correct = p.LastCorrect
		verdict.TotalScore = p.Score
		verdict.CompletedAll = p.CompletedAll
		return nil
	})
	return verdict, err
}
