package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"live-quiz-service/internal/domain"
)

const maxCodeAttempts = 8

// Options carries the tunables of the game rules.
type Options struct {
	QuestionDuration time.Duration
	RevealGrace      time.Duration
	PointsPerCorrect int
	MinOptions       int
	MaxOptions       int
	PackCost         int
	Catalog          []Tier
	Rewards          RewardPolicy
	Retry            RetryPolicy
	PublicURL        string
}

// DefaultOptions returns the shipped game rules.
func DefaultOptions() Options {
	return Options{
		QuestionDuration: 20 * time.Second,
		RevealGrace:      3 * time.Second,
		PointsPerCorrect: DefaultPointsPerCorrect,
		MinOptions:       2,
		MaxOptions:       6,
		PackCost:         DefaultPackCost,
		Rewards:          DefaultRewardPolicy(),
		Retry:            DefaultRetryPolicy,
	}
}

// Deps are the collaborators the coordinator is composed from.
type Deps struct {
	Sessions SessionStore
	Profiles ProfileStore
	Grants   GrantStore
	Quizzes  QuizLibrary
	Logger   *zap.Logger
	Clock    func() time.Time
	Random   Random
}

// CreateSessionRequest describes a new quiz. When QuizID is set the saved quiz is
// hosted again and Title and Questions are ignored.
type CreateSessionRequest struct {
	QuizID    string            `json:"quizId,omitempty"`
	Title     string            `json:"title"`
	Questions []domain.Question `json:"questions"`
}

// JoinResult is the outcome of joining a session.
type JoinResult struct {
	Session       domain.Session     `json:"-"`
	Participant   domain.Participant `json:"participant"`
	AlreadyJoined bool               `json:"alreadyJoined"`
}

// AnswerResult is the outcome of submitting an answer. Duplicate marks an answer that
// was already on record; the verdict then describes the recorded answer.
type AnswerResult struct {
	Verdict
	Duplicate bool `json:"duplicate"`
}

// Coordinator is the entry point front ends call. Every mutating operation takes the
// authenticated caller explicitly.
type Coordinator struct {
	sessions SessionStore
	profiles ProfileStore
	quizzes  QuizLibrary
	machine  *StateMachine
	answers  *AnswerProcessor
	ledger   *RewardLedger
	shop     *Shop
	opts     Options
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

func NewCoordinator(deps Deps, opts Options) *Coordinator {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rnd := deps.Random
	if rnd == nil {
		rnd = NewRandom()
	}
	if opts.MinOptions < 2 {
		opts.MinOptions = 2
	}
	if opts.MaxOptions < opts.MinOptions {
		opts.MaxOptions = opts.MinOptions
	}
	return &Coordinator{
		sessions: deps.Sessions,
		profiles: deps.Profiles,
		quizzes:  deps.Quizzes,
		machine:  NewStateMachine(deps.Sessions, now, opts.RevealGrace),
		answers:  NewAnswerProcessor(deps.Sessions, now, opts.PointsPerCorrect),
		ledger:   NewRewardLedger(deps.Grants, deps.Profiles, deps.Sessions, opts.Rewards, opts.Retry, now, rnd),
		shop:     NewShop(deps.Profiles, opts.Catalog, opts.PackCost, rnd),
		opts:     opts,
		logger:   logger,
		tracer:   otel.Tracer("live-quiz-service/internal/app"),
		now:      now,
	}
}

// StateMachine exposes the lifecycle owner, e.g. for the deadline reaper.
func (c *Coordinator) StateMachine() *StateMachine {
	return c.machine
}

// CreateSession validates the quiz and stores it under a fresh code.
func (c *Coordinator) CreateSession(ctx context.Context, caller domain.Identity, req CreateSessionRequest) (domain.Session, error) {
	ctx, span := c.startSpan(ctx, "CreateSession", caller)
	defer span.End()

	if caller.Anonymous() {
		return domain.Session{}, c.fail(span, domain.ErrUnauthenticated)
	}
	quiz, saved, err := c.resolveQuiz(ctx, caller, req)
	if err != nil {
		return domain.Session{}, c.fail(span, err)
	}
	questions, err := c.validateQuiz(CreateSessionRequest{Title: quiz.Title, Questions: quiz.Questions})
	if err != nil {
		return domain.Session{}, c.fail(span, err)
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := domain.NewSessionCode()
		if err != nil {
			return domain.Session{}, c.fail(span, domain.Wrap(domain.CodeInternal, "generate session code", err))
		}
		session := domain.NewSession(code, strings.TrimSpace(quiz.Title), caller.ID, questions, c.opts.QuestionDuration, c.now())
		_, err = withRetry(ctx, c.opts.Retry, func() (struct{}, error) {
			return struct{}{}, c.sessions.Create(ctx, session)
		})
		if errors.Is(err, domain.ErrCodeTaken) {
			continue
		}
		if err != nil {
			return domain.Session{}, c.fail(span, err)
		}
		span.SetAttributes(attribute.String("quiz.code", code))
		c.logger.Info("session created",
			zap.String("code", code),
			zap.String("creator", caller.ID),
			zap.Bool("fromLibrary", saved),
			zap.Int("questions", len(questions)))
		c.archive(ctx, quiz, questions, code)
		return session, nil
	}
	return domain.Session{}, c.fail(span, domain.Wrap(domain.CodeUnavailable, "could not allocate a free session code", nil))
}

// StartSession opens the first question. Creator only.
func (c *Coordinator) StartSession(ctx context.Context, caller domain.Identity, code string) (domain.Session, error) {
	ctx, span := c.startSpan(ctx, "StartSession", caller)
	defer span.End()
	if caller.Anonymous() {
		return domain.Session{}, c.fail(span, domain.ErrUnauthenticated)
	}
	code, err := sessionCode(code)
	if err != nil {
		return domain.Session{}, c.fail(span, err)
	}

	s, err := withRetry(ctx, c.opts.Retry, func() (domain.Session, error) {
		return c.machine.Start(ctx, code, caller.ID)
	})
	if err != nil {
		return domain.Session{}, c.fail(span, err)
	}
	c.logger.Info("session started", zap.String("code", code), zap.Int("participants", len(s.Participants)))
	return s, nil
}

// AdvanceQuestion moves to the next question or finishes the session. Creator only.
func (c *Coordinator) AdvanceQuestion(ctx context.Context, caller domain.Identity, code string) (domain.Session, error) {
	ctx, span := c.startSpan(ctx, "AdvanceQuestion", caller)
	defer span.End()
	if caller.Anonymous() {
		return domain.Session{}, c.fail(span, domain.ErrUnauthenticated)
	}
	code, err := sessionCode(code)
	if err != nil {
		return domain.Session{}, c.fail(span, err)
	}

	s, err := withRetry(ctx, c.opts.Retry, func() (domain.Session, error) {
		return c.machine.Advance(ctx, code, caller.ID)
	})
	if err != nil {
		return domain.Session{}, c.fail(span, err)
	}
	c.logger.Info("question advanced",
		zap.String("code", code),
		zap.Int("index", s.CurrentIndex),
		zap.String("state", string(s.State())))
	return s, nil
}

// JoinSession adds the caller to a session in the lobby. A repeated join is reported,
// not failed.
func (c *Coordinator) JoinSession(ctx context.Context, caller domain.Identity, code, displayName string) (JoinResult, error) {
	ctx, span := c.startSpan(ctx, "JoinSession", caller)
	defer span.End()
	if caller.Anonymous() {
		return JoinResult{}, c.fail(span, domain.ErrUnauthenticated)
	}
	code, err := sessionCode(code)
	if err != nil {
		return JoinResult{}, c.fail(span, err)
	}
	who := caller
	if name := strings.TrimSpace(displayName); name != "" {
		who.DisplayName = name
	}

	type joined struct {
		session domain.Session
		already bool
	}
	out, err := withRetry(ctx, c.opts.Retry, func() (joined, error) {
		s, already, err := c.machine.Join(ctx, code, who)
		return joined{session: s, already: already}, err
	})
	if err != nil {
		return JoinResult{}, c.fail(span, err)
	}
	c.logger.Info("participant joined",
		zap.String("code", code),
		zap.String("participant", caller.ID),
		zap.Bool("alreadyJoined", out.already))
	return JoinResult{
		Session:       out.session,
		Participant:   out.session.Participants[caller.ID],
		AlreadyJoined: out.already,
	}, nil
}

// SubmitAnswer scores the caller's answer to questionIndex. A second answer to the same
// question is reported as a duplicate, not an error.
func (c *Coordinator) SubmitAnswer(ctx context.Context, caller domain.Identity, code string, questionIndex, option int) (AnswerResult, error) {
	ctx, span := c.startSpan(ctx, "SubmitAnswer", caller)
	defer span.End()
	if caller.Anonymous() {
		return AnswerResult{}, c.fail(span, domain.ErrUnauthenticated)
	}
	code, err := sessionCode(code)
	if err != nil {
		return AnswerResult{}, c.fail(span, err)
	}
	span.SetAttributes(attribute.Int("quiz.question_index", questionIndex))

	verdict, err := withRetry(ctx, c.opts.Retry, func() (Verdict, error) {
		return c.answers.Submit(ctx, code, caller.ID, questionIndex, option)
	})
	if errors.Is(err, domain.ErrAlreadyAnswered) {
		c.logger.Debug("duplicate answer ignored",
			zap.String("code", code),
			zap.String("participant", caller.ID),
			zap.Int("index", questionIndex))
		return AnswerResult{Verdict: verdict, Duplicate: true}, nil
	}
	if err != nil {
		return AnswerResult{}, c.fail(span, err)
	}
	c.logger.Info("answer scored",
		zap.String("code", code),
		zap.String("participant", caller.ID),
		zap.Int("index", questionIndex),
		zap.Bool("correct", verdict.Correct),
		zap.Int("score", verdict.TotalScore))
	return AnswerResult{Verdict: verdict}, nil
}

// SettleCompletion grants the caller's completion bonus once.
func (c *Coordinator) SettleCompletion(ctx context.Context, caller domain.Identity, code string) (CompletionResult, error) {
	ctx, span := c.startSpan(ctx, "SettleCompletion", caller)
	defer span.End()
	if caller.Anonymous() {
		return CompletionResult{}, c.fail(span, domain.ErrUnauthenticated)
	}
	code, err := sessionCode(code)
	if err != nil {
		return CompletionResult{}, c.fail(span, err)
	}

	res, err := c.ledger.SettleCompletion(ctx, code, caller.ID)
	if err != nil {
		return CompletionResult{}, c.fail(span, err)
	}
	c.logger.Info("completion settled",
		zap.String("code", code),
		zap.String("participant", caller.ID),
		zap.Int("amount", res.Grant.Amount),
		zap.Bool("duplicate", res.Duplicate))
	return res, nil
}

// SpinPrizeWheel spins the cooldown-gated prize wheel for the caller.
func (c *Coordinator) SpinPrizeWheel(ctx context.Context, caller domain.Identity) (SpinResult, error) {
	ctx, span := c.startSpan(ctx, "SpinPrizeWheel", caller)
	defer span.End()
	if caller.Anonymous() {
		return SpinResult{}, c.fail(span, domain.ErrUnauthenticated)
	}

	res, err := c.ledger.SpinWheel(ctx, caller.ID)
	if err != nil {
		return SpinResult{}, c.fail(span, err)
	}
	c.logger.Info("wheel spun", zap.String("participant", caller.ID), zap.Int("amount", res.Prize))
	return res, nil
}

// BuyPack spends the pack cost on one new cosmetic item.
func (c *Coordinator) BuyPack(ctx context.Context, caller domain.Identity) (PackResult, error) {
	ctx, span := c.startSpan(ctx, "BuyPack", caller)
	defer span.End()
	if caller.Anonymous() {
		return PackResult{}, c.fail(span, domain.ErrUnauthenticated)
	}

	res, err := withRetry(ctx, c.opts.Retry, func() (PackResult, error) {
		return c.shop.BuyPack(ctx, caller.ID)
	})
	if err != nil {
		return PackResult{}, c.fail(span, err)
	}
	c.logger.Info("pack opened",
		zap.String("participant", caller.ID),
		zap.String("item", res.Item),
		zap.String("rarity", res.Rarity))
	return res, nil
}

// SelectItem changes the caller's displayed cosmetic.
func (c *Coordinator) SelectItem(ctx context.Context, caller domain.Identity, item string) (domain.Profile, error) {
	ctx, span := c.startSpan(ctx, "SelectItem", caller)
	defer span.End()
	if caller.Anonymous() {
		return domain.Profile{}, c.fail(span, domain.ErrUnauthenticated)
	}
	p, err := withRetry(ctx, c.opts.Retry, func() (domain.Profile, error) {
		return c.shop.SelectItem(ctx, caller.ID, strings.TrimSpace(item))
	})
	if err != nil {
		return domain.Profile{}, c.fail(span, err)
	}
	return p, nil
}

// Profile returns the caller's profile, creating the default one on first access.
func (c *Coordinator) Profile(ctx context.Context, caller domain.Identity) (domain.Profile, error) {
	if caller.Anonymous() {
		return domain.Profile{}, domain.ErrUnauthenticated
	}
	return withRetry(ctx, c.opts.Retry, func() (domain.Profile, error) {
		return c.profiles.GetProfile(ctx, caller.ID)
	})
}

// Grants lists the caller's reward ledger entries.
func (c *Coordinator) Grants(ctx context.Context, caller domain.Identity) ([]domain.RewardGrant, error) {
	if caller.Anonymous() {
		return nil, domain.ErrUnauthenticated
	}
	return withRetry(ctx, c.opts.Retry, func() ([]domain.RewardGrant, error) {
		return c.ledger.History(ctx, caller.ID)
	})
}

// Quizzes lists the caller's saved quizzes, newest first.
func (c *Coordinator) Quizzes(ctx context.Context, caller domain.Identity) ([]domain.Quiz, error) {
	if caller.Anonymous() {
		return nil, domain.ErrUnauthenticated
	}
	if c.quizzes == nil {
		return []domain.Quiz{}, nil
	}
	return withRetry(ctx, c.opts.Retry, func() ([]domain.Quiz, error) {
		return c.quizzes.ListQuizzes(ctx, caller.ID)
	})
}

// Session returns the current snapshot of a session.
func (c *Coordinator) Session(ctx context.Context, caller domain.Identity, code string) (domain.Session, error) {
	if caller.Anonymous() {
		return domain.Session{}, domain.ErrUnauthenticated
	}
	code, err := sessionCode(code)
	if err != nil {
		return domain.Session{}, err
	}
	return withRetry(ctx, c.opts.Retry, func() (domain.Session, error) {
		return c.sessions.Get(ctx, code)
	})
}

// WatchSession streams session snapshots. Every snapshot is authoritative: consumers
// replace their derived state rather than patching it.
func (c *Coordinator) WatchSession(ctx context.Context, caller domain.Identity, code string) (<-chan domain.Session, func(), error) {
	if caller.Anonymous() {
		return nil, nil, domain.ErrUnauthenticated
	}
	code, err := sessionCode(code)
	if err != nil {
		return nil, nil, err
	}
	return c.sessions.Subscribe(ctx, code)
}

// WatchParticipant streams one participant's standing, emitting only when it changes.
func (c *Coordinator) WatchParticipant(ctx context.Context, caller domain.Identity, code, participantID string) (<-chan domain.Participant, func(), error) {
	updates, cancel, err := c.WatchSession(ctx, caller, code)
	if err != nil {
		return nil, nil, err
	}
	out := make(chan domain.Participant, 8)
	done := make(chan struct{})
	go func() {
		defer close(out)
		var last *domain.Participant
		for {
			select {
			case s, ok := <-updates:
				if !ok {
					return
				}
				p, ok := s.Participants[participantID]
				if !ok || (last != nil && sameStanding(*last, p)) {
					continue
				}
				last = &p
				select {
				case out <- p:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()
	stop := func() {
		select {
		case <-done:
		default:
			close(done)
		}
		cancel()
	}
	return out, stop, nil
}

// JoinURL builds the shareable join link for a code.
func (c *Coordinator) JoinURL(code string) string {
	base := strings.TrimRight(c.opts.PublicURL, "/")
	return base + "/join?" + url.Values{"code": {domain.NormalizeCode(code)}}.Encode()
}

// resolveQuiz returns the quiz to host and whether it came from the caller's library.
func (c *Coordinator) resolveQuiz(ctx context.Context, caller domain.Identity, req CreateSessionRequest) (domain.Quiz, bool, error) {
	if req.QuizID == "" {
		return domain.Quiz{
			ID:        uuid.NewString(),
			CreatorID: caller.ID,
			Title:     req.Title,
			Questions: req.Questions,
			CreatedAt: c.now(),
		}, false, nil
	}
	if c.quizzes == nil {
		return domain.Quiz{}, false, domain.ErrQuizNotFound
	}
	quiz, err := withRetry(ctx, c.opts.Retry, func() (domain.Quiz, error) {
		return c.quizzes.LoadQuiz(ctx, req.QuizID)
	})
	if err != nil {
		return domain.Quiz{}, false, err
	}
	if quiz.CreatorID != caller.ID {
		return domain.Quiz{}, false, domain.Wrap(domain.CodeForbidden, "quiz belongs to another creator", nil)
	}
	return quiz, true, nil
}

// archive records the hosted quiz in the creator's library. The session is already
// live, so a failure is only logged.
func (c *Coordinator) archive(ctx context.Context, quiz domain.Quiz, questions []domain.Question, code string) {
	if c.quizzes == nil {
		return
	}
	quiz.Title = strings.TrimSpace(quiz.Title)
	quiz.Questions = questions
	quiz.LastCode = code
	if err := c.quizzes.SaveQuiz(ctx, quiz); err != nil {
		c.logger.Warn("save quiz to library", zap.String("quiz", quiz.ID), zap.String("code", code), zap.Error(err))
	}
}

// sessionCode normalizes a user-entered code and rejects malformed ones.
func sessionCode(raw string) (string, error) {
	code := domain.NormalizeCode(raw)
	if !domain.ValidCode(code) {
		return "", domain.Wrap(domain.CodeInvalidArgument, "malformed session code", nil)
	}
	return code, nil
}

func (c *Coordinator) validateQuiz(req CreateSessionRequest) ([]domain.Question, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, domain.Wrap(domain.CodeInvalidArgument, "title is required", nil)
	}
	if len(req.Questions) == 0 {
		return nil, domain.Wrap(domain.CodeInvalidArgument, "at least one question is required", nil)
	}
	questions := make([]domain.Question, 0, len(req.Questions))
	for i, q := range req.Questions {
		text := strings.TrimSpace(q.Text)
		if text == "" {
			return nil, domain.Wrap(domain.CodeInvalidArgument, fmt.Sprintf("question %d has no text", i+1), nil)
		}
		if len(q.Options) < c.opts.MinOptions || len(q.Options) > c.opts.MaxOptions {
			return nil, domain.Wrap(domain.CodeInvalidArgument,
				fmt.Sprintf("question %d needs between %d and %d options", i+1, c.opts.MinOptions, c.opts.MaxOptions), nil)
		}
		options := make([]string, len(q.Options))
		for j, opt := range q.Options {
			options[j] = strings.TrimSpace(opt)
			if options[j] == "" {
				return nil, domain.Wrap(domain.CodeInvalidArgument, fmt.Sprintf("question %d has an empty option", i+1), nil)
			}
		}
		if q.Correct < 0 || q.Correct >= len(options) {
			return nil, domain.Wrap(domain.CodeInvalidArgument, fmt.Sprintf("question %d has no valid correct option", i+1), nil)
		}
		questions = append(questions, domain.Question{Text: text, Options: options, Correct: q.Correct})
	}
	return questions, nil
}

func (c *Coordinator) startSpan(ctx context.Context, op string, caller domain.Identity) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "Coordinator."+op, trace.WithAttributes(attribute.String("quiz.caller", caller.ID)))
}

func (c *Coordinator) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, string(domain.CodeOf(err)))
	if domain.CodeOf(err) == domain.CodeUnavailable || domain.CodeOf(err) == domain.CodeInternal {
		c.logger.Error("operation failed", zap.Error(err))
	}
	return err
}

func sameStanding(a, b domain.Participant) bool {
	return a.Score == b.Score &&
		a.CorrectCount == b.CorrectCount &&
		len(a.Answers) == len(b.Answers) &&
		a.LastCorrect == b.LastCorrect &&
		a.RewardGiven == b.RewardGiven &&
		a.CompletedAll == b.CompletedAll &&
		a.DisplayName == b.DisplayName
}
