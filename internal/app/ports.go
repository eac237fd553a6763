package app

import (
	"context"
	"time"

	"live-quiz-service/internal/domain"
)

// SessionStore abstracts the shared real-time document store holding live sessions
// (in-memory, Redis, etc).
type SessionStore interface {
	// Create fails with domain.ErrCodeTaken when a non-finished session holds the code.
	Create(ctx context.Context, session domain.Session) error
	Get(ctx context.Context, code string) (domain.Session, error)
	// Mutate applies patch as a check-and-set against the stored version.
	// A patch error aborts the write and is returned unchanged.
	Mutate(ctx context.Context, code string, patch func(*domain.Session) error) (domain.Session, error)
	// Subscribe delivers the current snapshot, then one per commit, until cancel is called.
	Subscribe(ctx context.Context, code string) (<-chan domain.Session, func(), error)
	// ListActive returns the codes of sessions with a live question.
	ListActive(ctx context.Context) ([]string, error)
}

// ProfileStore is the user-profile collaborator. Every balance change is an atomic
// increment or a conditional update at the store; callers never write back a cached balance.
type ProfileStore interface {
	// GetProfile returns the profile, creating the default one on first access.
	GetProfile(ctx context.Context, userID string) (domain.Profile, error)
	IncrementBalance(ctx context.Context, userID string, delta int) (int, error)
	// Credit adds grant.Amount to the grant owner's balance at most once per grant ID.
	// credited is false when the grant was applied before; balance is current either way.
	Credit(ctx context.Context, grant domain.RewardGrant) (balance int, credited bool, err error)
	// SetSelectedItem fails with domain.ErrItemLocked for items not unlocked.
	SetSelectedItem(ctx context.Context, userID, item string) (domain.Profile, error)
	// AddUnlockedItem is an idempotent union-add.
	AddUnlockedItem(ctx context.Context, userID, item string) (domain.Profile, error)
	// ClaimSpin sets the last spin to now only if the cooldown has elapsed, else it
	// fails with a cooldown error carrying the remaining wait.
	ClaimSpin(ctx context.Context, userID string, now time.Time, cooldown time.Duration) error
	// Purchase debits cost and unlocks item in one step. It fails with
	// domain.ErrInsufficientFunds or domain.ErrItemOwned without mutating anything.
	Purchase(ctx context.Context, userID string, cost int, item string) (domain.Profile, error)
}

// GrantStore is the append-only reward ledger.
type GrantStore interface {
	// Record appends grant. Grant IDs are unique, and completion grants are unique per
	// (session instance, participant): when one exists, Record returns it with inserted=false.
	Record(ctx context.Context, grant domain.RewardGrant) (stored domain.RewardGrant, inserted bool, err error)
	List(ctx context.Context, participantID string) ([]domain.RewardGrant, error)
}

// QuizLibrary keeps each creator's saved quizzes (document DB, cache in front of it, etc).
type QuizLibrary interface {
	SaveQuiz(ctx context.Context, quiz domain.Quiz) error
	// LoadQuiz fails with domain.ErrQuizNotFound for unknown ids.
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	ListQuizzes(ctx context.Context, creatorID string) ([]domain.Quiz, error)
}
