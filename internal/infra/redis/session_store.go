package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"live-quiz-service/internal/domain"
)

const (
	activeSetKey       = "quiz:sessions:active"
	maxMutateAttempts  = 16
	subscriberCapacity = 8
)

// SessionStore keeps each live session as one JSON document in Redis.
//   - Writes are optimistic: WATCH the key, apply the patch, commit in MULTI/EXEC.
//   - Every commit is PUBLISHed so other instances can push it to their watchers.
//   - A set of active codes backs the deadline reaper.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func (s *SessionStore) Create(ctx context.Context, session domain.Session) error {
	session = session.Clone()
	session.Version = 1
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	key := s.key(session.Code)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		existing, err := loadSession(ctx, tx, key)
		switch {
		case err == nil && existing.State() != domain.StateFinished:
			return domain.ErrCodeTaken
		case err != nil && !errors.Is(err, domain.ErrSessionNotFound):
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			pipe.SRem(ctx, activeSetKey, session.Code)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		// Someone else claimed the code between WATCH and EXEC.
		return domain.ErrCodeTaken
	}
	if err != nil {
		return translate(err)
	}
	s.publish(ctx, session.Code, payload)
	return nil
}

func (s *SessionStore) Get(ctx context.Context, code string) (domain.Session, error) {
	session, err := loadSession(ctx, s.client, s.key(code))
	if err != nil {
		return domain.Session{}, translate(err)
	}
	return session, nil
}

func (s *SessionStore) Mutate(ctx context.Context, code string, patch func(*domain.Session) error) (domain.Session, error) {
	key := s.key(code)
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		var (
			next     domain.Session
			payload  []byte
			patchErr error
		)
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := loadSession(ctx, tx, key)
			if err != nil {
				return err
			}
			next = current.Clone()
			if patchErr = patch(&next); patchErr != nil {
				return patchErr
			}
			next.Version = current.Version + 1
			payload, err = json.Marshal(next)
			if err != nil {
				return fmt.Errorf("marshal session: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, s.ttl)
				if next.State() == domain.StateActive {
					pipe.SAdd(ctx, activeSetKey, code)
				} else {
					pipe.SRem(ctx, activeSetKey, code)
				}
				return nil
			})
			return err
		}, key)
		if patchErr != nil {
			return domain.Session{}, patchErr
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return domain.Session{}, translate(err)
		}
		s.publish(ctx, code, payload)
		return next, nil
	}
	return domain.Session{}, domain.Wrap(domain.CodeUnavailable, "session write kept conflicting", nil)
}

// Subscribe listens on the session channel before reading the current snapshot, so no
// commit between the two is lost. Snapshots that are not newer than the last delivered
// one are dropped.
func (s *SessionStore) Subscribe(ctx context.Context, code string) (<-chan domain.Session, func(), error) {
	pubsub := s.client.Subscribe(ctx, s.channel(code))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, translate(err)
	}
	current, err := s.Get(ctx, code)
	if err != nil {
		_ = pubsub.Close()
		return nil, nil, err
	}

	out := make(chan domain.Session, subscriberCapacity)
	out <- current
	messages := pubsub.Channel()
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(out)
		last := current.Version
		for {
			select {
			case <-done:
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var snapshot domain.Session
				if err := json.Unmarshal([]byte(msg.Payload), &snapshot); err != nil {
					continue
				}
				if snapshot.Version <= last {
					continue
				}
				last = snapshot.Version
				deliver(out, snapshot)
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
			wg.Wait()
		})
	}
	return out, cancel, nil
}

func (s *SessionStore) ListActive(ctx context.Context) ([]string, error) {
	codes, err := s.client.SMembers(ctx, activeSetKey).Result()
	if err != nil {
		return nil, translate(err)
	}
	sort.Strings(codes)
	return codes, nil
}

func (s *SessionStore) publish(ctx context.Context, code string, payload []byte) {
	// best-effort: watchers recover on the next commit
	_ = s.client.Publish(ctx, s.channel(code), payload).Err()
}

func (s *SessionStore) key(code string) string {
	return "quiz:session:" + code
}

func (s *SessionStore) channel(code string) string {
	return "quiz:session:" + code + ":events"
}

// deliver drops the oldest pending snapshot when the subscriber is behind.
func deliver(out chan domain.Session, snapshot domain.Session) {
	select {
	case out <- snapshot:
	default:
		select {
		case <-out:
		default:
		}
		out <- snapshot
	}
}

func loadSession(ctx context.Context, c redis.Cmdable, key string) (domain.Session, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, err
	}
	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	if session.Participants == nil {
		session.Participants = make(map[string]domain.Participant)
	}
	return session, nil
}

// translate maps driver errors onto the domain taxonomy.
func translate(err error) error {
	var de *domain.Error
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return domain.ErrSessionNotFound
	case errors.As(err, &de):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return domain.Wrap(domain.CodeUnavailable, "redis", err)
	}
}
