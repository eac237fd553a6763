package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"live-quiz-service/internal/domain"
)

// QuizBackend is the durable quiz library (e.g., document DB).
type QuizBackend interface {
	SaveQuiz(ctx context.Context, quiz domain.Quiz) error
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	ListQuizzes(ctx context.Context, creatorID string) ([]domain.Quiz, error)
}

// QuizCache caches library quizzes in Redis and falls back to the backend on a miss.
// Quizzes are stored as: SET quiz:library:{quizID} <json> EX ttl
// so every instance shares one warm copy when a creator hosts a quiz again.
type QuizCache struct {
	client  *redis.Client
	backend QuizBackend
	ttl     time.Duration
	sf      singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuizCache(client *redis.Client, backend QuizBackend, ttl time.Duration) *QuizCache {
	return &QuizCache{
		client:  client,
		backend: backend,
		ttl:     ttl,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuizCache) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := c.cached(ctx, quizID); ok {
		return quiz, nil
	}

	result, err, _ := c.sf.Do(quizID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if quiz, ok := c.cached(ctx, quizID); ok {
			return quiz, nil
		}
		quiz, err := c.backend.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}
		if payload, err := json.Marshal(quiz); err == nil {
			_ = c.client.Set(ctx, c.key(quizID), payload, c.ttlWithJitter()).Err()
		}
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

func (c *QuizCache) SaveQuiz(ctx context.Context, quiz domain.Quiz) error {
	if err := c.backend.SaveQuiz(ctx, quiz); err != nil {
		return err
	}
	if err := c.client.Del(ctx, c.key(quiz.ID)).Err(); err != nil {
		return domain.Wrap(domain.CodeUnavailable, "evict cached quiz", err)
	}
	return nil
}

func (c *QuizCache) ListQuizzes(ctx context.Context, creatorID string) ([]domain.Quiz, error) {
	return c.backend.ListQuizzes(ctx, creatorID)
}

// cached treats any Redis failure as a miss; the backend stays authoritative.
func (c *QuizCache) cached(ctx context.Context, quizID string) (domain.Quiz, bool) {
	raw, err := c.client.Get(ctx, c.key(quizID)).Bytes()
	if err != nil {
		return domain.Quiz{}, false
	}
	var quiz domain.Quiz
	if err := json.Unmarshal(raw, &quiz); err != nil {
		return domain.Quiz{}, false
	}
	return quiz, true
}

func (c *QuizCache) key(quizID string) string {
	return "quiz:library:" + quizID
}

func (c *QuizCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
