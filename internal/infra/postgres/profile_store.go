package postgres

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"golang.org/x/sync/singleflight"

	"live-quiz-service/internal/domain"
)

const profileColumns = `user_id, balance, unlocked, selected_item, last_spin`

// ProfileStore keeps user profiles in Postgres. Balance changes are single UPDATE
// statements, never a read followed by a write.
type ProfileStore struct {
	pool *pgxpool.Pool
	tx   *Transactor
	sf   singleflight.Group
	// users whose row is known to exist
	known sync.Map
}

func NewProfileStore(pool *pgxpool.Pool) *ProfileStore {
	return &ProfileStore{pool: pool, tx: NewTransactor(pool)}
}

func (s *ProfileStore) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	if err := s.ensure(ctx, userID); err != nil {
		return domain.Profile{}, err
	}
	row := s.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE user_id = $1`, userID)
	p, err := scanProfile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		s.known.Delete(userID)
		return domain.Profile{}, domain.ErrProfileNotFound
	}
	if err != nil {
		return domain.Profile{}, translate(err, "get profile")
	}
	return p, nil
}

func (s *ProfileStore) IncrementBalance(ctx context.Context, userID string, delta int) (int, error) {
	var balance int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO profiles (user_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET balance = profiles.balance + EXCLUDED.balance, updated_at = now()
		RETURNING balance`, userID, delta).Scan(&balance)
	if err != nil {
		return 0, translate(err, "increment balance")
	}
	s.known.Store(userID, struct{}{})
	return balance, nil
}

// Credit records the grant in balance_credits and applies it in the same transaction,
// so a grant is paid once no matter how often it is retried.
func (s *ProfileStore) Credit(ctx context.Context, grant domain.RewardGrant) (int, bool, error) {
	var (
		balance  int
		credited bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO balance_credits (grant_id, user_id, amount)
			VALUES ($1, $2, $3)
			ON CONFLICT (grant_id) DO NOTHING`, grant.ID, grant.ParticipantID, grant.Amount)
		if err != nil {
			return translate(err, "record credit")
		}
		credited = tag.RowsAffected() == 1
		if credited {
			err = tx.QueryRow(ctx, `
				INSERT INTO profiles (user_id, balance)
				VALUES ($1, $2)
				ON CONFLICT (user_id) DO UPDATE
				SET balance = profiles.balance + EXCLUDED.balance, updated_at = now()
				RETURNING balance`, grant.ParticipantID, grant.Amount).Scan(&balance)
		} else {
			err = tx.QueryRow(ctx, `SELECT balance FROM profiles WHERE user_id = $1`, grant.ParticipantID).Scan(&balance)
			if errors.Is(err, pgx.ErrNoRows) {
				balance, err = 0, nil
			}
		}
		if err != nil {
			return translate(err, "credit balance")
		}
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	if credited {
		s.known.Store(grant.ParticipantID, struct{}{})
	}
	return balance, credited, nil
}

func (s *ProfileStore) SetSelectedItem(ctx context.Context, userID, item string) (domain.Profile, error) {
	if err := s.ensure(ctx, userID); err != nil {
		return domain.Profile{}, err
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE profiles SET selected_item = $2, updated_at = now()
		WHERE user_id = $1 AND $2 = ANY(unlocked)
		RETURNING `+profileColumns, userID, item)
	p, err := scanProfile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Profile{}, domain.ErrItemLocked
	}
	if err != nil {
		return domain.Profile{}, translate(err, "select item")
	}
	return p, nil
}

func (s *ProfileStore) AddUnlockedItem(ctx context.Context, userID, item string) (domain.Profile, error) {
	if err := s.ensure(ctx, userID); err != nil {
		return domain.Profile{}, err
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE profiles
		SET unlocked = CASE WHEN $2 = ANY(unlocked) THEN unlocked ELSE array_append(unlocked, $2) END,
		    updated_at = now()
		WHERE user_id = $1
		RETURNING `+profileColumns, userID, item)
	p, err := scanProfile(row)
	if err != nil {
		return domain.Profile{}, translate(err, "unlock item")
	}
	return p, nil
}

func (s *ProfileStore) ClaimSpin(ctx context.Context, userID string, now time.Time, cooldown time.Duration) error {
	if err := s.ensure(ctx, userID); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE profiles SET last_spin = $2, updated_at = now()
		WHERE user_id = $1 AND (last_spin IS NULL OR last_spin <= $3)`,
		userID, now, now.Add(-cooldown))
	if err != nil {
		return translate(err, "claim spin")
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var last *time.Time
	if err := s.pool.QueryRow(ctx, `SELECT last_spin FROM profiles WHERE user_id = $1`, userID).Scan(&last); err != nil {
		return translate(err, "read last spin")
	}
	remaining := cooldown
	if last != nil {
		remaining = last.Add(cooldown).Sub(now)
	}
	return domain.Cooldown(remaining)
}

func (s *ProfileStore) Purchase(ctx context.Context, userID string, cost int, item string) (domain.Profile, error) {
	if err := s.ensure(ctx, userID); err != nil {
		return domain.Profile{}, err
	}
	var out domain.Profile
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE profiles
			SET balance = balance - $2, unlocked = array_append(unlocked, $3), updated_at = now()
			WHERE user_id = $1 AND balance >= $2 AND NOT ($3 = ANY(unlocked))
			RETURNING `+profileColumns, userID, cost, item)
		p, err := scanProfile(row)
		if err == nil {
			out = p
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return translate(err, "purchase")
		}

		var (
			balance int
			owned   bool
		)
		if err := tx.QueryRow(ctx, `SELECT balance, $2 = ANY(unlocked) FROM profiles WHERE user_id = $1`, userID, item).
			Scan(&balance, &owned); err != nil {
			return translate(err, "classify purchase")
		}
		if balance < cost {
			return domain.ErrInsufficientFunds
		}
		if owned {
			return domain.ErrItemOwned
		}
		return domain.Wrap(domain.CodeUnavailable, "purchase lost a race", nil)
	})
	if err != nil {
		return domain.Profile{}, err
	}
	return out, nil
}

// ensure creates the default profile row on first access. Concurrent first accesses
// for one user collapse into a single insert.
func (s *ProfileStore) ensure(ctx context.Context, userID string) error {
	if _, ok := s.known.Load(userID); ok {
		return nil
	}
	_, err, _ := s.sf.Do(userID, func() (interface{}, error) {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO profiles (user_id, unlocked, selected_item)
			VALUES ($1, ARRAY[$2::text], $2)
			ON CONFLICT (user_id) DO NOTHING`, userID, domain.DefaultItem)
		if err != nil {
			return nil, translate(err, "create profile")
		}
		s.known.Store(userID, struct{}{})
		return nil, nil
	})
	return err
}

func scanProfile(row pgx.Row) (domain.Profile, error) {
	var (
		p    domain.Profile
		last *time.Time
	)
	if err := row.Scan(&p.UserID, &p.Balance, &p.Unlocked, &p.SelectedItem, &last); err != nil {
		return domain.Profile{}, err
	}
	if last != nil {
		p.LastSpin = last.UTC()
	}
	return p, nil
}
