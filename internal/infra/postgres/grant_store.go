package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"live-quiz-service/internal/domain"
)

type grantModel struct {
	bun.BaseModel `bun:"table:reward_grants,alias:g"`

	ID            string    `bun:"id,pk"`
	ParticipantID string    `bun:"participant_id,notnull"`
	SessionID     string    `bun:"session_id,nullzero"`
	SessionCode   string    `bun:"session_code,nullzero"`
	Amount        int       `bun:"amount,notnull"`
	Source        string    `bun:"source,notnull"`
	GrantedAt     time.Time `bun:"granted_at,notnull"`
}

func (m grantModel) toDomain() domain.RewardGrant {
	return domain.RewardGrant{
		ID:            m.ID,
		ParticipantID: m.ParticipantID,
		SessionID:     m.SessionID,
		SessionCode:   m.SessionCode,
		Amount:        m.Amount,
		Source:        domain.GrantSource(m.Source),
		GrantedAt:     m.GrantedAt.UTC(),
	}
}

// GrantStore is the append-only reward ledger. The partial unique index on
// (session_id, participant_id) for completion grants makes a second completion
// insert a no-op.
type GrantStore struct {
	db *bun.DB
}

func NewGrantStore(db *bun.DB) *GrantStore {
	return &GrantStore{db: db}
}

func (s *GrantStore) Record(ctx context.Context, grant domain.RewardGrant) (domain.RewardGrant, bool, error) {
	m := &grantModel{
		ID:            grant.ID,
		ParticipantID: grant.ParticipantID,
		SessionID:     grant.SessionID,
		SessionCode:   grant.SessionCode,
		Amount:        grant.Amount,
		Source:        string(grant.Source),
		GrantedAt:     grant.GrantedAt,
	}
	res, err := s.db.NewInsert().Model(m).On("CONFLICT DO NOTHING").Exec(ctx)
	if err != nil {
		return domain.RewardGrant{}, false, translate(err, "record grant")
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return grant, true, nil
	}

	existing, err := s.existing(ctx, grant)
	if err != nil {
		return domain.RewardGrant{}, false, err
	}
	return existing, false, nil
}

func (s *GrantStore) List(ctx context.Context, participantID string) ([]domain.RewardGrant, error) {
	var rows []grantModel
	err := s.db.NewSelect().
		Model(&rows).
		Where("participant_id = ?", participantID).
		OrderExpr("granted_at ASC, id ASC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, translate(err, "list grants")
	}
	out := make([]domain.RewardGrant, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (s *GrantStore) existing(ctx context.Context, grant domain.RewardGrant) (domain.RewardGrant, error) {
	var row grantModel
	q := s.db.NewSelect().Model(&row).Limit(1)
	if grant.Source == domain.GrantCompletion {
		q = q.Where("(source = ? AND session_id = ? AND participant_id = ?) OR id = ?",
			string(domain.GrantCompletion), grant.SessionID, grant.ParticipantID, grant.ID)
	} else {
		q = q.Where("id = ?", grant.ID)
	}
	if err := q.Scan(ctx); err != nil {
		return domain.RewardGrant{}, translate(err, "load existing grant")
	}
	return row.toDomain(), nil
}
