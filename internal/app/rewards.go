package app

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"live-quiz-service/internal/domain"
)

// CompletionMode selects how the completion bonus is computed.
type CompletionMode string

const (
	// CompletionPerCorrect grants CoinsPerCorrect for every correct answer.
	CompletionPerCorrect CompletionMode = "per_correct"
	// CompletionFlat grants FlatBonus regardless of correctness.
	CompletionFlat CompletionMode = "flat"
)

// RewardPolicy holds the tunable reward parameters.
type RewardPolicy struct {
	Mode            CompletionMode
	CoinsPerCorrect int
	FlatBonus       int
	WheelCooldown   time.Duration
	WheelPrizes     []int
}

// DefaultWheelPrizes is a 12-slot wheel: ten empty slots, one 1000 and one 5000.
var DefaultWheelPrizes = []int{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1000, 5000}

// DefaultRewardPolicy matches the shipped game rules.
func DefaultRewardPolicy() RewardPolicy {
	return RewardPolicy{
		Mode:            CompletionPerCorrect,
		CoinsPerCorrect: 10,
		FlatBonus:       10,
		WheelCooldown:   5 * time.Hour,
		WheelPrizes:     append([]int(nil), DefaultWheelPrizes...),
	}
}

// CompletionAmount computes the bonus for a participant with correctCount correct answers.
func (p RewardPolicy) CompletionAmount(correctCount int) int {
	if p.Mode == CompletionFlat {
		return p.FlatBonus
	}
	return correctCount * p.CoinsPerCorrect
}

// CompletionResult is the outcome of settling a participant's completion bonus.
type CompletionResult struct {
	Grant     domain.RewardGrant `json:"grant"`
	Duplicate bool               `json:"duplicate"`
}

// SpinResult is the outcome of a prize-wheel spin.
type SpinResult struct {
	Grant      domain.RewardGrant `json:"grant"`
	Prize      int                `json:"prize"`
	Balance    int                `json:"balance"`
	NextSpinAt time.Time          `json:"nextSpinAt"`
}

// RewardLedger computes and applies currency grants. Exactly-once delivery of the
// completion bonus rests on the ledger's unique completion key and the profile store's
// once-per-grant credit, not on the participant flag.
type RewardLedger struct {
	grants   GrantStore
	profiles ProfileStore
	sessions SessionStore
	policy   RewardPolicy
	retry    RetryPolicy
	now      func() time.Time
	rnd      Random
}

func NewRewardLedger(grants GrantStore, profiles ProfileStore, sessions SessionStore, policy RewardPolicy, retry RetryPolicy, now func() time.Time, rnd Random) *RewardLedger {
	if now == nil {
		now = time.Now
	}
	if rnd == nil {
		rnd = NewRandom()
	}
	if len(policy.WheelPrizes) == 0 {
		policy.WheelPrizes = append([]int(nil), DefaultWheelPrizes...)
	}
	return &RewardLedger{
		grants:   grants,
		profiles: profiles,
		sessions: sessions,
		policy:   policy,
		retry:    retry,
		now:      now,
		rnd:      rnd,
	}
}

// GrantCompletionBonus records and applies the completion bonus for a participant in a
// session instance. The grant is written first and credited second; both steps are
// idempotent, so a call that failed half way is finished by the next one. duplicate is
// true when an earlier call already paid the grant.
func (l *RewardLedger) GrantCompletionBonus(ctx context.Context, session domain.Session, participantID string, correctCount int) (domain.RewardGrant, bool, error) {
	stored, _, err := l.record(ctx, domain.RewardGrant{
		ID:            uuid.NewString(),
		ParticipantID: participantID,
		SessionID:     session.InstanceID(),
		SessionCode:   session.Code,
		Amount:        l.policy.CompletionAmount(correctCount),
		Source:        domain.GrantCompletion,
		GrantedAt:     l.now(),
	})
	if err != nil {
		return domain.RewardGrant{}, false, err
	}
	_, applied, err := l.credit(ctx, stored)
	if err != nil {
		return domain.RewardGrant{}, false, err
	}
	return stored, !applied, nil
}

// SettleCompletion grants the completion bonus to a participant who finished the session
// (or answered every question) and marks them rewarded once the credit is applied.
func (l *RewardLedger) SettleCompletion(ctx context.Context, code, participantID string) (CompletionResult, error) {
	session, err := withRetry(ctx, l.retry, func() (domain.Session, error) {
		return l.sessions.Get(ctx, code)
	})
	if err != nil {
		return CompletionResult{}, err
	}
	p, ok := session.Participants[participantID]
	if !ok {
		return CompletionResult{}, domain.ErrParticipantNotFound
	}
	if session.State() != domain.StateFinished && !p.CompletedAll {
		return CompletionResult{}, domain.Wrap(domain.CodeInvalidState, "participant has not completed the quiz", nil)
	}

	grant, duplicate, err := l.GrantCompletionBonus(ctx, session, participantID, p.CorrectCount)
	if err != nil {
		return CompletionResult{}, err
	}

	if !p.RewardGiven {
		_, err := withRetry(ctx, l.retry, func() (domain.Session, error) {
			return l.sessions.Mutate(ctx, code, func(s *domain.Session) error {
				if s.InstanceID() != session.InstanceID() {
					return domain.ErrSessionNotFound
				}
				current, ok := s.Participants[participantID]
				if !ok {
					return domain.ErrParticipantNotFound
				}
				current.RewardGiven = true
				s.Participants[participantID] = current
				return nil
			})
		})
		if err != nil {
			return CompletionResult{}, err
		}
	}
	return CompletionResult{Grant: grant, Duplicate: duplicate}, nil
}

// SpinWheel draws a prize for userID if the cooldown has elapsed. The profile store's
// conditional spin claim is the serialization point, so concurrent spins apply once.
// Each claim owns one grant ID derived from the claim time; a spin that failed after
// its claim is finished by the next call instead of being refused by the cooldown.
func (l *RewardLedger) SpinWheel(ctx context.Context, userID string) (SpinResult, error) {
	now := l.now().Truncate(time.Microsecond)
	_, err := withRetry(ctx, l.retry, func() (struct{}, error) {
		return struct{}{}, l.profiles.ClaimSpin(ctx, userID, now, l.policy.WheelCooldown)
	})
	switch {
	case errors.Is(err, domain.ErrCooldownActive):
		return l.resumeSpin(ctx, userID, err)
	case err != nil:
		return SpinResult{}, err
	}

	res, applied, err := l.payoutSpin(ctx, userID, now, nil)
	if err != nil {
		return SpinResult{}, err
	}
	if !applied {
		// a concurrent caller finished this spin first
		return SpinResult{}, domain.Cooldown(res.NextSpinAt.Sub(l.now()))
	}
	return res, nil
}

// resumeSpin pays out the last claimed spin if it was never credited, else returns
// the cooldown error unchanged.
func (l *RewardLedger) resumeSpin(ctx context.Context, userID string, cooldown error) (SpinResult, error) {
	profile, err := withRetry(ctx, l.retry, func() (domain.Profile, error) {
		return l.profiles.GetProfile(ctx, userID)
	})
	if err != nil {
		return SpinResult{}, err
	}
	if profile.LastSpin.IsZero() {
		return SpinResult{}, cooldown
	}
	claimed := profile.LastSpin.Truncate(time.Microsecond)
	grants, err := withRetry(ctx, l.retry, func() ([]domain.RewardGrant, error) {
		return l.grants.List(ctx, userID)
	})
	if err != nil {
		return SpinResult{}, err
	}

	var existing *domain.RewardGrant
	id := spinGrantID(userID, claimed)
	for i, g := range grants {
		if g.ID == id || (g.Source == domain.GrantWheel && g.GrantedAt.Equal(claimed)) {
			existing = &grants[i]
			break
		}
	}
	res, applied, err := l.payoutSpin(ctx, userID, claimed, existing)
	if err != nil {
		return SpinResult{}, err
	}
	if !applied {
		return SpinResult{}, cooldown
	}
	return res, nil
}

// payoutSpin records the grant of the spin claimed at claimed (unless it exists) and
// credits it. applied reports whether this call was the one that paid.
func (l *RewardLedger) payoutSpin(ctx context.Context, userID string, claimed time.Time, existing *domain.RewardGrant) (SpinResult, bool, error) {
	var grant domain.RewardGrant
	if existing != nil {
		grant = *existing
	} else {
		var err error
		grant, _, err = l.record(ctx, domain.RewardGrant{
			ID:            spinGrantID(userID, claimed),
			ParticipantID: userID,
			Amount:        l.policy.WheelPrizes[l.rnd.Intn(len(l.policy.WheelPrizes))],
			Source:        domain.GrantWheel,
			GrantedAt:     claimed,
		})
		if err != nil {
			return SpinResult{}, false, err
		}
	}
	balance, applied, err := l.credit(ctx, grant)
	if err != nil {
		return SpinResult{}, false, err
	}
	return SpinResult{
		Grant:      grant,
		Prize:      grant.Amount,
		Balance:    balance,
		NextSpinAt: claimed.Add(l.policy.WheelCooldown),
	}, applied, nil
}

// spinGrantID names the grant of the spin claimed at claimed.
func spinGrantID(userID string, claimed time.Time) string {
	return uuid.NewSHA1(spinNamespace, []byte(userID+"|"+strconv.FormatInt(claimed.UnixMicro(), 10))).String()
}

var spinNamespace = uuid.MustParse("3f6c1e52-7d0a-4b8e-9a51-2c4f0e9d7b13")

// History lists a user's grants.
func (l *RewardLedger) History(ctx context.Context, userID string) ([]domain.RewardGrant, error) {
	return l.grants.List(ctx, userID)
}

type recorded struct {
	grant    domain.RewardGrant
	inserted bool
}

func (l *RewardLedger) record(ctx context.Context, grant domain.RewardGrant) (domain.RewardGrant, bool, error) {
	out, err := withRetry(ctx, l.retry, func() (recorded, error) {
		g, inserted, err := l.grants.Record(ctx, grant)
		return recorded{grant: g, inserted: inserted}, err
	})
	return out.grant, out.inserted, err
}

type creditOutcome struct {
	balance int
	applied bool
}

func (l *RewardLedger) credit(ctx context.Context, grant domain.RewardGrant) (int, bool, error) {
	out, err := withRetry(ctx, l.retry, func() (creditOutcome, error) {
		balance, applied, err := l.profiles.Credit(ctx, grant)
		return creditOutcome{balance: balance, applied: applied}, err
	})
	return out.balance, out.applied, err
}
