package domain

import (
	"errors"
	"testing"
	"time"
)

func TestSessionStateDerivation(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewSession("ABC123", "t", "host", []Question{
		{Text: "a", Options: []string{"x", "y"}, Correct: 1},
		{Text: "b", Options: []string{"x", "y"}, Correct: 0},
	}, 20*time.Second, now)

	if s.State() != StateCreated {
		t.Fatalf("expected created, got %s", s.State())
	}
	if !s.Deadline().IsZero() {
		t.Fatalf("expected no deadline before start")
	}

	s.Started = true
	s.CurrentIndex = 0
	s.QuestionStartedAt = now
	if s.State() != StateActive {
		t.Fatalf("expected active, got %s", s.State())
	}
	if got := s.Deadline(); !got.Equal(now.Add(20 * time.Second)) {
		t.Fatalf("unexpected deadline %v", got)
	}

	s.CurrentIndex = 2
	if s.State() != StateFinished {
		t.Fatalf("expected finished past last index, got %s", s.State())
	}
	s.CurrentIndex = 1
	s.Ended = true
	if s.State() != StateFinished {
		t.Fatalf("expected finished on ended flag, got %s", s.State())
	}
}

func TestSessionInstanceID(t *testing.T) {
	a := NewSession("ABC234", "t", "host", nil, 0, time.Now())
	b := NewSession("ABC234", "t", "host", nil, 0, time.Now())
	if a.InstanceID() == "" || a.InstanceID() == b.InstanceID() {
		t.Fatalf("expected distinct instance ids, got %q and %q", a.InstanceID(), b.InstanceID())
	}
	legacy := Session{Code: "ABC234"}
	if legacy.InstanceID() != "ABC234" {
		t.Fatalf("expected code fallback, got %q", legacy.InstanceID())
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := NewSession("ABC123", "t", "host", []Question{{Text: "a", Options: []string{"x", "y"}}}, 0, time.Now())
	s.Participants["u1"] = Participant{ID: "u1", Answers: map[int]int{0: 1}}

	c := s.Clone()
	p := c.Participants["u1"]
	p.Answers[1] = 0
	c.Participants["u1"] = p
	c.Questions[0].Options[0] = "changed"

	if s.Participants["u1"].HasAnswered(1) {
		t.Fatalf("clone shares answers map")
	}
	if s.Questions[0].Options[0] != "x" {
		t.Fatalf("clone shares options")
	}
}

func TestErrorsMatchByCode(t *testing.T) {
	err := Wrap(CodeStaleQuestion, "time limit elapsed", nil)
	if !errors.Is(err, ErrStaleQuestion) {
		t.Fatalf("expected stale question match")
	}
	if errors.Is(err, ErrAlreadyAnswered) {
		t.Fatalf("unexpected match across codes")
	}
	if CodeOf(errors.New("plain")) != CodeInternal {
		t.Fatalf("expected internal code for plain errors")
	}
	cd := Cooldown(time.Hour)
	if !errors.Is(cd, ErrCooldownActive) || cd.RetryAfter != time.Hour {
		t.Fatalf("unexpected cooldown error %+v", cd)
	}
}
