package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

func TestQuizCacheCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	library := memory.NewQuizLibrary()
	_ = library.SaveQuiz(context.Background(), sampleQuiz())
	backend := &countingBackend{QuizBackend: library}
	cache := NewQuizCache(newClient(mr), backend, time.Minute)

	got, err := cache.LoadQuiz(context.Background(), "quiz-1")
	if err != nil {
		t.Fatalf("load quiz: %v", err)
	}
	if backend.loads != 1 || got.Title != "Arithmetic" {
		t.Fatalf("expected backend called once, got %d", backend.loads)
	}
	if !mr.Exists("quiz:library:quiz-1") {
		t.Fatalf("expected cache key")
	}

	// Second call should hit cache, backend not incremented.
	got, _ = cache.LoadQuiz(context.Background(), "quiz-1")
	if backend.loads != 1 {
		t.Fatalf("expected cache hit, backend loads=%d", backend.loads)
	}
	if len(got.Questions) != 1 || got.Questions[0].Correct != 1 {
		t.Fatalf("cached quiz lost content: %+v", got)
	}

	updated := sampleQuiz()
	updated.LastCode = "XYZ789"
	if err := cache.SaveQuiz(context.Background(), updated); err != nil {
		t.Fatalf("save: %v", err)
	}
	if mr.Exists("quiz:library:quiz-1") {
		t.Fatalf("expected cache eviction on save")
	}
}

type countingBackend struct {
	QuizBackend
	loads int
}

func (b *countingBackend) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	b.loads++
	return b.QuizBackend.LoadQuiz(ctx, quizID)
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:        "quiz-1",
		CreatorID: "creator-1",
		Title:     "Arithmetic",
		Questions: []domain.Question{
			{Text: "What is 2 + 2?", Options: []string{"3", "4"}, Correct: 1},
		},
	}
}
