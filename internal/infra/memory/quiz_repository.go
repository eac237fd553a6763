package memory

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"live-quiz-service/internal/domain"
)

// QuizBackend is the durable quiz library a cache sits in front of.
type QuizBackend interface {
	SaveQuiz(ctx context.Context, quiz domain.Quiz) error
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	ListQuizzes(ctx context.Context, creatorID string) ([]domain.Quiz, error)
}

// QuizCache caches loaded quizzes with TTL to avoid repeated DB hits when a creator
// hosts the same quiz again. Writes go straight to the backend and evict the entry.
type QuizCache struct {
	backend QuizBackend
	ttl     time.Duration
	clock   func() time.Time
	sf      singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedQuiz
}

type cachedQuiz struct {
	quiz      domain.Quiz
	expiresAt time.Time
}

func NewQuizCache(backend QuizBackend, ttl time.Duration) *QuizCache {
	return &QuizCache{
		backend: backend,
		ttl:     ttl,
		clock:   time.Now,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:   make(map[string]cachedQuiz),
	}
}

func (c *QuizCache) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := c.lookup(quizID); ok {
		return quiz, nil
	}

	result, err, _ := c.sf.Do(quizID, func() (interface{}, error) {
		if quiz, ok := c.lookup(quizID); ok {
			return quiz, nil
		}
		quiz, err := c.backend.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}
		c.mu.Lock()
		c.cache[quizID] = cachedQuiz{quiz: quiz, expiresAt: c.clock().Add(c.ttlWithJitter())}
		c.mu.Unlock()
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return cloneQuiz(result.(domain.Quiz)), nil
}

func (c *QuizCache) SaveQuiz(ctx context.Context, quiz domain.Quiz) error {
	if err := c.backend.SaveQuiz(ctx, quiz); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.cache, quiz.ID)
	c.mu.Unlock()
	return nil
}

func (c *QuizCache) ListQuizzes(ctx context.Context, creatorID string) ([]domain.Quiz, error) {
	return c.backend.ListQuizzes(ctx, creatorID)
}

func (c *QuizCache) lookup(quizID string) (domain.Quiz, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[quizID]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return domain.Quiz{}, false
	}
	return cloneQuiz(entry.quiz), true
}

func (c *QuizCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

// QuizLibrary is a map-backed quiz library (useful for tests/demos and the
// single-process deployment).
type QuizLibrary struct {
	mu      sync.RWMutex
	quizzes map[string]domain.Quiz
}

func NewQuizLibrary() *QuizLibrary {
	return &QuizLibrary{quizzes: make(map[string]domain.Quiz)}
}

func (l *QuizLibrary) SaveQuiz(_ context.Context, quiz domain.Quiz) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.quizzes[quiz.ID]; ok {
		quiz.CreatedAt = existing.CreatedAt
	}
	l.quizzes[quiz.ID] = cloneQuiz(quiz)
	return nil
}

func (l *QuizLibrary) LoadQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if quiz, ok := l.quizzes[quizID]; ok {
		return cloneQuiz(quiz), nil
	}
	return domain.Quiz{}, domain.ErrQuizNotFound
}

func (l *QuizLibrary) ListQuizzes(_ context.Context, creatorID string) ([]domain.Quiz, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Quiz, 0)
	for _, quiz := range l.quizzes {
		if quiz.CreatorID == creatorID {
			out = append(out, cloneQuiz(quiz))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func cloneQuiz(q domain.Quiz) domain.Quiz {
	out := q
	out.Questions = make([]domain.Question, len(q.Questions))
	for i, question := range q.Questions {
		question.Options = append([]string(nil), question.Options...)
		out.Questions[i] = question
	}
	return out
}
