package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"live-quiz-service/internal/domain"
)

func newSession(code string) domain.Session {
	questions := []domain.Question{{Text: "2 + 2?", Options: []string{"3", "4"}, Correct: 1}}
	return domain.NewSession(code, "Arithmetic", "creator-1", questions, 20*time.Second, time.Now())
}

func TestSessionStoreLifecycle(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()

	if err := store.Create(ctx, newSession("ABC234")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, newSession("ABC234")); !errors.Is(err, domain.ErrCodeTaken) {
		t.Fatalf("expected code taken, got %v", err)
	}

	got, err := store.Get(ctx, "ABC234")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != 1 {
		t.Fatalf("expected version 1, got %d", got.Version)
	}

	if _, err := store.Get(ctx, "ZZZZZZ"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSessionStoreMutate(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()
	_ = store.Create(ctx, newSession("ABC234"))

	next, err := store.Mutate(ctx, "ABC234", func(s *domain.Session) error {
		s.Started = true
		s.CurrentIndex = 0
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if next.Version != 2 || next.State() != domain.StateActive {
		t.Fatalf("unexpected snapshot %+v", next)
	}

	boom := errors.New("boom")
	if _, err := store.Mutate(ctx, "ABC234", func(s *domain.Session) error {
		s.Ended = true
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected patch error, got %v", err)
	}
	got, _ := store.Get(ctx, "ABC234")
	if got.Ended || got.Version != 2 {
		t.Fatalf("aborted patch must not be written: %+v", got)
	}
}

func TestSessionStoreConcurrentMutations(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()
	_ = store.Create(ctx, newSession("ABC234"))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = store.Mutate(ctx, "ABC234", func(s *domain.Session) error {
				id := string(rune('a' + i%26))
				p := s.Participants[id]
				p.ID = id
				p.Score++
				s.Participants[id] = p
				return nil
			})
		}(i)
	}
	wg.Wait()

	got, _ := store.Get(ctx, "ABC234")
	total := 0
	for _, p := range got.Participants {
		total += p.Score
	}
	if total != 50 || got.Version != 51 {
		t.Fatalf("lost updates: total=%d version=%d", total, got.Version)
	}
}

func TestSessionStoreSubscribe(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()
	_ = store.Create(ctx, newSession("ABC234"))

	updates, cancel, err := store.Subscribe(ctx, "ABC234")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	first := <-updates
	if first.Version != 1 {
		t.Fatalf("expected current snapshot first, got version %d", first.Version)
	}

	for i := 0; i < 20; i++ {
		_, _ = store.Mutate(ctx, "ABC234", func(s *domain.Session) error { return nil })
	}

	var last int64
	for {
		select {
		case s := <-updates:
			if s.Version <= last {
				t.Fatalf("version went backwards: %d after %d", s.Version, last)
			}
			last = s.Version
			continue
		default:
		}
		break
	}
	if last != 21 {
		t.Fatalf("expected latest snapshot retained, got %d", last)
	}

	cancel()
	if _, ok := <-updates; ok {
		t.Fatalf("expected channel closed after cancel")
	}
}

func TestSessionStoreListActive(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()
	_ = store.Create(ctx, newSession("AAAAAA"))
	_ = store.Create(ctx, newSession("BBBBBB"))
	_, _ = store.Mutate(ctx, "BBBBBB", func(s *domain.Session) error {
		s.Started = true
		s.CurrentIndex = 0
		return nil
	})

	codes, err := store.ListActive(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(codes) != 1 || codes[0] != "BBBBBB" {
		t.Fatalf("unexpected active codes %v", codes)
	}
}
