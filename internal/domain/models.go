package domain

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a session, derived from its index and flags.
type State string

const (
	StateCreated  State = "created"
	StateActive   State = "active"
	StateFinished State = "finished"
)

// Question is a prompt with a fixed set of options and exactly one correct option.
type Question struct {
	Text    string   `json:"text"`
	Options []string `json:"options"`
	Correct int      `json:"correct"`
}

// IsCorrect reports whether option is the correct choice. Scoring has no partial credit.
func (q Question) IsCorrect(option int) bool {
	return option == q.Correct
}

// Participant is a player's standing within one session.
type Participant struct {
	ID           string      `json:"id"`
	DisplayName  string      `json:"displayName"`
	Score        int         `json:"score"`
	CorrectCount int         `json:"correctCount"`
	Answers      map[int]int `json:"answers,omitempty"` // question index -> chosen option
	LastCorrect  bool        `json:"lastCorrect"`
	RewardGiven  bool        `json:"rewardGiven"`
	CompletedAll bool        `json:"completedAll"`
	JoinedAt     time.Time   `json:"joinedAt"`
}

// HasAnswered reports whether an answer is recorded for the question index.
func (p Participant) HasAnswered(index int) bool {
	_, ok := p.Answers[index]
	return ok
}

// Session is one live quiz instance keyed by its short code. A code is reused once its
// session finishes; ID tells the instances apart.
type Session struct {
	ID                string                 `json:"id"`
	Code              string                 `json:"code"`
	Title             string                 `json:"title"`
	Questions         []Question             `json:"questions"`
	CreatorID         string                 `json:"creatorId"`
	CreatedAt         time.Time              `json:"createdAt"`
	CurrentIndex      int                    `json:"currentIndex"`
	Started           bool                   `json:"started"`
	Ended             bool                   `json:"ended"`
	QuestionStartedAt time.Time              `json:"questionStartedAt"`
	QuestionDuration  time.Duration          `json:"questionDuration"`
	Participants      map[string]Participant `json:"participants"`
	Version           int64                  `json:"version"`
}

// NewSession builds a session in the Created state.
func NewSession(code, title, creatorID string, questions []Question, questionDuration time.Duration, now time.Time) Session {
	return Session{
		ID:               uuid.NewString(),
		Code:             code,
		Title:            title,
		Questions:        questions,
		CreatorID:        creatorID,
		CreatedAt:        now,
		CurrentIndex:     -1,
		QuestionDuration: questionDuration,
		Participants:     make(map[string]Participant),
	}
}

// InstanceID identifies this session instance. Sessions stored without an ID fall back
// to their code.
func (s Session) InstanceID() string {
	if s.ID != "" {
		return s.ID
	}
	return s.Code
}

// State derives the lifecycle state.
func (s Session) State() State {
	switch {
	case s.Ended || (s.Started && s.CurrentIndex >= len(s.Questions)):
		return StateFinished
	case !s.Started || s.CurrentIndex < 0:
		return StateCreated
	default:
		return StateActive
	}
}

// Deadline is the instant the live question stops accepting answers.
// The zero time means there is no limit or no live question.
func (s Session) Deadline() time.Time {
	if s.State() != StateActive || s.QuestionDuration <= 0 {
		return time.Time{}
	}
	return s.QuestionStartedAt.Add(s.QuestionDuration)
}

// CurrentQuestion returns the live question, if any.
func (s Session) CurrentQuestion() (Question, bool) {
	if s.State() != StateActive {
		return Question{}, false
	}
	return s.Questions[s.CurrentIndex], true
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s Session) Clone() Session {
	out := s
	out.Questions = make([]Question, len(s.Questions))
	for i, q := range s.Questions {
		q.Options = append([]string(nil), q.Options...)
		out.Questions[i] = q
	}
	out.Participants = make(map[string]Participant, len(s.Participants))
	for id, p := range s.Participants {
		out.Participants[id] = p.clone()
	}
	return out
}

func (p Participant) clone() Participant {
	if p.Answers == nil {
		return p
	}
	answers := make(map[int]int, len(p.Answers))
	for k, v := range p.Answers {
		answers[k] = v
	}
	p.Answers = answers
	return p
}

// GrantSource names why currency was granted.
type GrantSource string

const (
	GrantCompletion GrantSource = "completion"
	GrantWheel      GrantSource = "wheel"
)

// RewardGrant is an append-only ledger entry.
type RewardGrant struct {
	ID            string      `json:"id"`
	ParticipantID string      `json:"participantId"`
	SessionID     string      `json:"sessionId,omitempty"`
	SessionCode   string      `json:"sessionCode,omitempty"`
	Amount        int         `json:"amount"`
	Source        GrantSource `json:"source"`
	GrantedAt     time.Time   `json:"grantedAt"`
}

// DefaultItem is unlocked and selected for every new profile.
const DefaultItem = "default"

// Profile is the user record owned by the profile collaborator.
type Profile struct {
	UserID       string    `json:"userId"`
	Balance      int       `json:"balance"`
	Unlocked     []string  `json:"unlocked"`
	SelectedItem string    `json:"selectedItem"`
	LastSpin     time.Time `json:"lastSpin,omitempty"`
}

// NewProfile returns the initial profile for a user.
func NewProfile(userID string) Profile {
	return Profile{
		UserID:       userID,
		Unlocked:     []string{DefaultItem},
		SelectedItem: DefaultItem,
	}
}

// Owns reports whether the item is unlocked.
func (p Profile) Owns(item string) bool {
	for _, it := range p.Unlocked {
		if it == item {
			return true
		}
	}
	return false
}

// Quiz is a saved question set in its creator's library. Hosting it again copies the
// questions into a fresh session.
type Quiz struct {
	ID        string     `json:"id"`
	CreatorID string     `json:"creatorId"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
	LastCode  string     `json:"lastCode,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}
