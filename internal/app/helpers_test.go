package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fixedRandom always returns the same draw, clamped to n.
type fixedRandom int

func (r fixedRandom) Intn(n int) int {
	if int(r) >= n {
		return n - 1
	}
	return int(r)
}

type fixture struct {
	coordinator *app.Coordinator
	sessions    *memory.SessionStore
	profiles    *memory.ProfileStore
	grants      *memory.GrantStore
	quizzes     *memory.QuizLibrary
	clock       *fakeClock
}

var (
	host  = domain.Identity{ID: "host-1", DisplayName: "Host"}
	alice = domain.Identity{ID: "u1", DisplayName: "Alice"}
	bob   = domain.Identity{ID: "u2", DisplayName: "Bob"}
)

func newFixture(t *testing.T, rnd app.Random) *fixture {
	t.Helper()
	f := &fixture{
		sessions: memory.NewSessionStore(),
		profiles: memory.NewProfileStore(),
		grants:   memory.NewGrantStore(),
		quizzes:  memory.NewQuizLibrary(),
		clock:    newFakeClock(),
	}
	opts := app.DefaultOptions()
	opts.PublicURL = "https://quiz.example.com/"
	f.coordinator = app.NewCoordinator(app.Deps{
		Sessions: f.sessions,
		Profiles: f.profiles,
		Grants:   f.grants,
		Quizzes:  f.quizzes,
		Clock:    f.clock.Now,
		Random:   rnd,
	}, opts)
	return f
}

func twoQuestions() app.CreateSessionRequest {
	return app.CreateSessionRequest{
		Title: "Capitals",
		Questions: []domain.Question{
			{Text: "Capital of France?", Options: []string{"Paris", "Rome"}, Correct: 0},
			{Text: "Capital of Italy?", Options: []string{"Paris", "Rome"}, Correct: 1},
		},
	}
}

// lobby creates a two-question session and joins the given players.
func (f *fixture) lobby(t *testing.T, players ...domain.Identity) domain.Session {
	t.Helper()
	s, err := f.coordinator.CreateSession(testCtx, host, twoQuestions())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	for _, p := range players {
		if _, err := f.coordinator.JoinSession(testCtx, p, s.Code, p.DisplayName); err != nil {
			t.Fatalf("join %s: %v", p.ID, err)
		}
	}
	return s
}

// fastRetry gives up on a store that stays down within a few milliseconds.
var fastRetry = app.RetryPolicy{InitialInterval: time.Millisecond, MaxElapsed: 20 * time.Millisecond}

// outages fails the next calls of an operation with domain.ErrUnavailable and counts
// every call.
type outages struct {
	mu      sync.Mutex
	pending map[string]int
	calls   map[string]int
}

func newOutages() *outages {
	return &outages{pending: make(map[string]int), calls: make(map[string]int)}
}

// fail makes the next n calls of op fail. n < 0 fails until restore.
func (o *outages) fail(op string, n int) {
	o.mu.Lock()
	o.pending[op] = n
	o.mu.Unlock()
}

func (o *outages) restore(op string) {
	o.fail(op, 0)
}

func (o *outages) count(op string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[op]
}

func (o *outages) hit(op string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls[op]++
	switch n := o.pending[op]; {
	case n < 0:
		return domain.ErrUnavailable
	case n > 0:
		o.pending[op] = n - 1
		return domain.ErrUnavailable
	}
	return nil
}

type flakyProfiles struct {
	app.ProfileStore
	*outages
}

func (f flakyProfiles) Credit(ctx context.Context, grant domain.RewardGrant) (int, bool, error) {
	if err := f.hit("Credit"); err != nil {
		return 0, false, err
	}
	return f.ProfileStore.Credit(ctx, grant)
}

func (f flakyProfiles) ClaimSpin(ctx context.Context, userID string, now time.Time, cooldown time.Duration) error {
	if err := f.hit("ClaimSpin"); err != nil {
		return err
	}
	return f.ProfileStore.ClaimSpin(ctx, userID, now, cooldown)
}

func (f flakyProfiles) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	if err := f.hit("GetProfile"); err != nil {
		return domain.Profile{}, err
	}
	return f.ProfileStore.GetProfile(ctx, userID)
}

type flakySessions struct {
	app.SessionStore
	*outages
}

func (f flakySessions) Get(ctx context.Context, code string) (domain.Session, error) {
	if err := f.hit("Get"); err != nil {
		return domain.Session{}, err
	}
	return f.SessionStore.Get(ctx, code)
}

func (f flakySessions) Mutate(ctx context.Context, code string, patch func(*domain.Session) error) (domain.Session, error) {
	if err := f.hit("Mutate"); err != nil {
		return domain.Session{}, err
	}
	return f.SessionStore.Mutate(ctx, code, patch)
}

// newFlakyFixture is newFixture with store outages injected and a short retry budget.
func newFlakyFixture(t *testing.T, rnd app.Random) (*fixture, *outages) {
	t.Helper()
	f := newFixture(t, rnd)
	o := newOutages()
	opts := app.DefaultOptions()
	opts.PublicURL = "https://quiz.example.com/"
	opts.Retry = fastRetry
	f.coordinator = app.NewCoordinator(app.Deps{
		Sessions: flakySessions{SessionStore: f.sessions, outages: o},
		Profiles: flakyProfiles{ProfileStore: f.profiles, outages: o},
		Grants:   f.grants,
		Quizzes:  f.quizzes,
		Clock:    f.clock.Now,
		Random:   rnd,
	}, opts)
	return f, o
}

// finished plays a two-question session to the end with the given players answering
// every question correctly.
func (f *fixture) finished(t *testing.T, players ...domain.Identity) domain.Session {
	t.Helper()
	s := f.lobby(t, players...)
	if _, err := f.coordinator.StartSession(testCtx, host, s.Code); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i, correct := range []int{0, 1} {
		for _, p := range players {
			if _, err := f.coordinator.SubmitAnswer(testCtx, p, s.Code, i, correct); err != nil {
				t.Fatalf("answer %d: %v", i, err)
			}
		}
		if _, err := f.coordinator.AdvanceQuestion(testCtx, host, s.Code); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}
	return s
}
