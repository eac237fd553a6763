package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"live-quiz-service/internal/domain"
)

// QuizRepository stores each creator's saved quizzes as JSONB.
type QuizRepository struct {
	pool *pgxpool.Pool
}

func NewQuizRepository(pool *pgxpool.Pool) *QuizRepository {
	return &QuizRepository{pool: pool}
}

func (r *QuizRepository) SaveQuiz(ctx context.Context, quiz domain.Quiz) error {
	data, err := json.Marshal(quiz)
	if err != nil {
		return fmt.Errorf("marshal quiz: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO quizzes (id, creator_id, data, created_at)
		VALUES ($1, $2, $3::jsonb, $4)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		quiz.ID, quiz.CreatorID, string(data), quiz.CreatedAt)
	return translate(err, "save quiz")
}

func (r *QuizRepository) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT data FROM quizzes WHERE id = $1`, quizID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, translate(err, "load quiz")
	}
	return decodeQuiz(raw)
}

func (r *QuizRepository) ListQuizzes(ctx context.Context, creatorID string) ([]domain.Quiz, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT data FROM quizzes WHERE creator_id = $1
		ORDER BY created_at DESC, id`, creatorID)
	if err != nil {
		return nil, translate(err, "list quizzes")
	}
	defer rows.Close()

	out := make([]domain.Quiz, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, translate(err, "scan quiz")
		}
		quiz, err := decodeQuiz(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, quiz)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err, "list quizzes")
	}
	return out, nil
}

func decodeQuiz(raw []byte) (domain.Quiz, error) {
	var quiz domain.Quiz
	if err := json.Unmarshal(raw, &quiz); err != nil {
		return domain.Quiz{}, fmt.Errorf("unmarshal quiz: %w", err)
	}
	return quiz, nil
}
