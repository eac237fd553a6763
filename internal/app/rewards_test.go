package app_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

func TestSettleCompletionOnce(t *testing.T) {
	f := newFixture(t, fixedRandom(0))
	s := f.lobby(t, alice)
	_, _ = f.coordinator.StartSession(testCtx, host, s.Code)
	_, _ = f.coordinator.SubmitAnswer(testCtx, alice, s.Code, 0, 0)

	if _, err := f.coordinator.SettleCompletion(testCtx, alice, s.Code); domain.CodeOf(err) != domain.CodeInvalidState {
		t.Fatalf("expected invalid state before completion, got %v", err)
	}

	_, _ = f.coordinator.AdvanceQuestion(testCtx, host, s.Code)
	_, _ = f.coordinator.SubmitAnswer(testCtx, alice, s.Code, 1, 1)

	first, err := f.coordinator.SettleCompletion(testCtx, alice, s.Code)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if first.Duplicate || first.Grant.Amount != 20 {
		t.Fatalf("unexpected first settlement %+v", first)
	}
	second, err := f.coordinator.SettleCompletion(testCtx, alice, s.Code)
	if err != nil {
		t.Fatalf("settle again: %v", err)
	}
	if !second.Duplicate || second.Grant.ID != first.Grant.ID {
		t.Fatalf("expected duplicate settlement, got %+v", second)
	}

	profile, _ := f.profiles.GetProfile(testCtx, alice.ID)
	if profile.Balance != 20 {
		t.Fatalf("expected balance 20, got %d", profile.Balance)
	}
	session, _ := f.sessions.Get(testCtx, s.Code)
	if !session.Participants[alice.ID].RewardGiven {
		t.Fatalf("expected reward flag set")
	}
}

func TestConcurrentCompletionGrants(t *testing.T) {
	profiles := memory.NewProfileStore()
	ledger := app.NewRewardLedger(memory.NewGrantStore(), profiles, memory.NewSessionStore(),
		app.DefaultRewardPolicy(), app.RetryPolicy{}, nil, fixedRandom(0))
	session := domain.NewSession("ABC234", "t", "host", nil, 0, time.Now())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := ledger.GrantCompletionBonus(testCtx, session, "u1", 3); err != nil {
				t.Errorf("grant: %v", err)
			}
		}()
	}
	wg.Wait()

	profile, _ := profiles.GetProfile(testCtx, "u1")
	if profile.Balance != 30 {
		t.Fatalf("expected one grant of 30, balance %d", profile.Balance)
	}
}

func TestCompletionAmountModes(t *testing.T) {
	policy := app.DefaultRewardPolicy()
	if got := policy.CompletionAmount(3); got != 30 {
		t.Fatalf("per-correct: expected 30, got %d", got)
	}
	policy.Mode = app.CompletionFlat
	if got := policy.CompletionAmount(0); got != 10 {
		t.Fatalf("flat: expected 10, got %d", got)
	}
}

func TestSpinWheelCooldown(t *testing.T) {
	f := newFixture(t, fixedRandom(10)) // slot 10 is the 1000 prize

	res, err := f.coordinator.SpinPrizeWheel(testCtx, alice)
	if err != nil {
		t.Fatalf("spin: %v", err)
	}
	if res.Prize != 1000 || res.Balance != 1000 || !res.NextSpinAt.Equal(f.clock.Now().Add(5*time.Hour)) {
		t.Fatalf("unexpected spin %+v", res)
	}

	f.clock.Advance(time.Hour)
	_, err = f.coordinator.SpinPrizeWheel(testCtx, alice)
	if !errors.Is(err, domain.ErrCooldownActive) {
		t.Fatalf("expected cooldown, got %v", err)
	}
	var de *domain.Error
	if !errors.As(err, &de) || de.RetryAfter != 4*time.Hour {
		t.Fatalf("expected 4h remaining, got %v", err)
	}

	f.clock.Advance(4 * time.Hour)
	if _, err := f.coordinator.SpinPrizeWheel(testCtx, alice); err != nil {
		t.Fatalf("spin after cooldown: %v", err)
	}
	profile, _ := f.profiles.GetProfile(testCtx, alice.ID)
	if profile.Balance != 2000 {
		t.Fatalf("expected 2000, got %d", profile.Balance)
	}
}

func TestConcurrentSpinsApplyOnce(t *testing.T) {
	f := newFixture(t, fixedRandom(11)) // 5000

	const tabs = 6
	errs := make([]error, tabs)
	var wg sync.WaitGroup
	for i := 0; i < tabs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.coordinator.SpinPrizeWheel(testCtx, alice)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, domain.ErrCooldownActive):
			t.Fatalf("unexpected error %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected one successful spin, got %d", ok)
	}
	profile, _ := f.profiles.GetProfile(testCtx, alice.ID)
	if profile.Balance != 5000 {
		t.Fatalf("expected 5000, got %d", profile.Balance)
	}
}

func TestZeroPrizeIsRecorded(t *testing.T) {
	f := newFixture(t, fixedRandom(0))

	res, err := f.coordinator.SpinPrizeWheel(testCtx, alice)
	if err != nil {
		t.Fatalf("spin: %v", err)
	}
	if res.Prize != 0 || res.Balance != 0 {
		t.Fatalf("unexpected spin %+v", res)
	}
	grants, _ := f.coordinator.Grants(testCtx, alice)
	if len(grants) != 1 || grants[0].Source != domain.GrantWheel {
		t.Fatalf("expected one wheel grant, got %+v", grants)
	}
}

func TestSettleCompletionRecoversFromFailedCredit(t *testing.T) {
	f, outage := newFlakyFixture(t, fixedRandom(0))
	s := f.finished(t, alice)

	outage.fail("Credit", -1)
	if _, err := f.coordinator.SettleCompletion(testCtx, alice, s.Code); !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("expected unavailable while the profile store is down, got %v", err)
	}
	if outage.count("Credit") < 2 {
		t.Fatalf("expected the credit to be retried, got %d calls", outage.count("Credit"))
	}
	session, _ := f.sessions.Get(testCtx, s.Code)
	if session.Participants[alice.ID].RewardGiven {
		t.Fatalf("reward flag set although nothing was paid")
	}
	if p, _ := f.profiles.GetProfile(testCtx, alice.ID); p.Balance != 0 {
		t.Fatalf("expected no credit yet, balance %d", p.Balance)
	}

	outage.restore("Credit")
	res, err := f.coordinator.SettleCompletion(testCtx, alice, s.Code)
	if err != nil {
		t.Fatalf("settle after recovery: %v", err)
	}
	if res.Duplicate || res.Grant.Amount != 20 {
		t.Fatalf("expected the pending grant to be paid now, got %+v", res)
	}
	again, err := f.coordinator.SettleCompletion(testCtx, alice, s.Code)
	if err != nil || !again.Duplicate || again.Grant.ID != res.Grant.ID {
		t.Fatalf("expected duplicate afterwards, got %+v err=%v", again, err)
	}

	p, _ := f.profiles.GetProfile(testCtx, alice.ID)
	if p.Balance != 20 {
		t.Fatalf("expected balance 20, got %d", p.Balance)
	}
	grants, _ := f.grants.List(testCtx, alice.ID)
	if len(grants) != 1 {
		t.Fatalf("expected one ledger entry, got %d", len(grants))
	}
	session, _ = f.sessions.Get(testCtx, s.Code)
	if !session.Participants[alice.ID].RewardGiven {
		t.Fatalf("expected reward flag set once paid")
	}
}

func TestCompletionPerSessionInstance(t *testing.T) {
	sessions := memory.NewSessionStore()
	profiles := memory.NewProfileStore()
	ledger := app.NewRewardLedger(memory.NewGrantStore(), profiles, sessions,
		app.DefaultRewardPolicy(), app.RetryPolicy{}, nil, fixedRandom(0))

	play := func() domain.Session {
		s := domain.NewSession("ABCDEF", "t", "host", twoQuestions().Questions, 0, time.Now())
		s.Started, s.Ended, s.CurrentIndex = true, true, len(s.Questions)
		s.Participants[alice.ID] = domain.Participant{ID: alice.ID, CorrectCount: 2}
		if err := sessions.Create(testCtx, s); err != nil {
			t.Fatalf("create: %v", err)
		}
		return s
	}

	first := play()
	if res, err := ledger.SettleCompletion(testCtx, first.Code, alice.ID); err != nil || res.Duplicate {
		t.Fatalf("first session: %+v err=%v", res, err)
	}
	second := play()
	res, err := ledger.SettleCompletion(testCtx, second.Code, alice.ID)
	if err != nil || res.Duplicate {
		t.Fatalf("second session under the same code: %+v err=%v", res, err)
	}
	if res.Grant.SessionID != second.ID || res.Grant.SessionCode != "ABCDEF" {
		t.Fatalf("grant not keyed on the new session: %+v", res.Grant)
	}
	if p, _ := profiles.GetProfile(testCtx, alice.ID); p.Balance != 40 {
		t.Fatalf("expected 40, got %d", p.Balance)
	}
}

func TestSpinRecoversFromFailedCredit(t *testing.T) {
	f, outage := newFlakyFixture(t, fixedRandom(10)) // 1000
	claimedAt := f.clock.Now()

	outage.fail("Credit", -1)
	if _, err := f.coordinator.SpinPrizeWheel(testCtx, alice); !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if p, _ := f.profiles.GetProfile(testCtx, alice.ID); p.LastSpin.IsZero() || p.Balance != 0 {
		t.Fatalf("expected a claimed but unpaid spin, got %+v", p)
	}

	outage.restore("Credit")
	f.clock.Advance(time.Minute)
	res, err := f.coordinator.SpinPrizeWheel(testCtx, alice)
	if err != nil {
		t.Fatalf("spin after recovery: %v", err)
	}
	if res.Prize != 1000 || res.Balance != 1000 || !res.NextSpinAt.Equal(claimedAt.Add(5*time.Hour)) {
		t.Fatalf("unexpected resumed spin %+v", res)
	}

	_, err = f.coordinator.SpinPrizeWheel(testCtx, alice)
	var de *domain.Error
	if !errors.As(err, &de) || de.Code != domain.CodeCooldownActive || de.RetryAfter != 5*time.Hour-time.Minute {
		t.Fatalf("expected cooldown once paid, got %v", err)
	}
	grants, _ := f.grants.List(testCtx, alice.ID)
	if len(grants) != 1 {
		t.Fatalf("expected one wheel grant, got %+v", grants)
	}
}

func TestSpinRetriesTransientClaimFailure(t *testing.T) {
	f, outage := newFlakyFixture(t, fixedRandom(11)) // 5000

	outage.fail("ClaimSpin", 2)
	res, err := f.coordinator.SpinPrizeWheel(testCtx, alice)
	if err != nil {
		t.Fatalf("spin: %v", err)
	}
	if outage.count("ClaimSpin") != 3 || res.Balance != 5000 {
		t.Fatalf("expected success on the third claim, got %d calls and %+v", outage.count("ClaimSpin"), res)
	}
}
