package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/auth"
	"live-quiz-service/internal/domain"
)

// Coordinator is the slice of the session coordinator the transport drives.
type Coordinator interface {
	CreateSession(ctx context.Context, caller domain.Identity, req app.CreateSessionRequest) (domain.Session, error)
	StartSession(ctx context.Context, caller domain.Identity, code string) (domain.Session, error)
	AdvanceQuestion(ctx context.Context, caller domain.Identity, code string) (domain.Session, error)
	JoinSession(ctx context.Context, caller domain.Identity, code, displayName string) (app.JoinResult, error)
	SubmitAnswer(ctx context.Context, caller domain.Identity, code string, questionIndex, option int) (app.AnswerResult, error)
	SettleCompletion(ctx context.Context, caller domain.Identity, code string) (app.CompletionResult, error)
	SpinPrizeWheel(ctx context.Context, caller domain.Identity) (app.SpinResult, error)
	BuyPack(ctx context.Context, caller domain.Identity) (app.PackResult, error)
	SelectItem(ctx context.Context, caller domain.Identity, item string) (domain.Profile, error)
	Profile(ctx context.Context, caller domain.Identity) (domain.Profile, error)
	Grants(ctx context.Context, caller domain.Identity) ([]domain.RewardGrant, error)
	Quizzes(ctx context.Context, caller domain.Identity) ([]domain.Quiz, error)
	Session(ctx context.Context, caller domain.Identity, code string) (domain.Session, error)
	WatchSession(ctx context.Context, caller domain.Identity, code string) (<-chan domain.Session, func(), error)
	WatchParticipant(ctx context.Context, caller domain.Identity, code, participantID string) (<-chan domain.Participant, func(), error)
	JoinURL(code string) string
}

// NewRouter mounts the REST API and the websocket watch endpoint.
func NewRouter(coord Coordinator, verifier *auth.Verifier, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	api := &API{coord: coord}
	ws := NewWSHandler(coord, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(verifier))

		r.Post("/sessions", api.createSession)
		r.Route("/sessions/{code}", func(r chi.Router) {
			r.Get("/", api.getSession)
			r.Post("/start", api.startSession)
			r.Post("/advance", api.advanceQuestion)
			r.Post("/join", api.joinSession)
			r.Post("/answers", api.submitAnswer)
			r.Post("/settle", api.settleCompletion)
		})
		r.Post("/wheel/spin", api.spinWheel)
		r.Get("/wheel/history", api.wheelHistory)
		r.Get("/quizzes", api.listQuizzes)
		r.Get("/profile", api.getProfile)
		r.Put("/profile/selected", api.selectItem)
		r.Post("/shop/packs", api.buyPack)
		r.Get("/ws", ws.ServeWS)
	})
	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("requestId", middleware.GetReqID(r.Context())))
		})
	}
}
