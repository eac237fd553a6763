package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/auth"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/infra/memory"
	"live-quiz-service/internal/infra/postgres"
	redisstore "live-quiz-service/internal/infra/redis"
	"live-quiz-service/internal/logger"
	"live-quiz-service/internal/telemetry"
	transport "live-quiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Env)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("flush traces", zap.Error(err))
		}
	}()

	deps, closeStores, err := buildStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStores()

	coordinator := app.NewCoordinator(deps, buildOptions(cfg))
	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}
	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      transport.NewRouter(coordinator, verifier, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting quiz service", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if cfg.Quiz.AutoAdvance {
		reaper := app.NewReaper(deps.Sessions, coordinator.StateMachine(),
			config.Duration(cfg.Quiz.ReaperInterval, time.Second), log.Named("reaper"))
		g.Go(func() error { return reaper.Run(gctx) })
	}
	return g.Wait()
}

// buildStores wires Redis and Postgres adapters where configured and in-memory ones
// otherwise. The returned func releases every opened connection.
func buildStores(ctx context.Context, cfg config.Config, log *zap.Logger) (app.Deps, func(), error) {
	deps := app.Deps{Logger: log}
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Sessions = redisstore.NewSessionStore(redisClient, config.Duration(cfg.Redis.TTL, 24*time.Hour))
		log.Info("sessions in redis", zap.String("addr", cfg.Redis.Addr))
	} else {
		deps.Sessions = memory.NewSessionStore()
		log.Warn("redis not configured; sessions are kept in memory")
	}

	if cfg.Postgres.URL == "" {
		deps.Profiles = memory.NewProfileStore()
		deps.Grants = memory.NewGrantStore()
		deps.Quizzes = memory.NewQuizLibrary()
		log.Warn("postgres not configured; profiles, ledger and quiz library are kept in memory")
		return deps, closeAll, nil
	}

	if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
		closeAll()
		return app.Deps{}, nil, err
	}
	pool, err := postgres.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		closeAll()
		return app.Deps{}, nil, err
	}
	closers = append(closers, pool.Close)
	db := postgres.OpenBun(cfg.Postgres.URL)
	closers = append(closers, func() { _ = db.Close() })

	deps.Profiles = postgres.NewProfileStore(pool)
	deps.Grants = postgres.NewGrantStore(db)
	library := postgres.NewQuizRepository(pool)
	cacheTTL := config.Duration(cfg.Quiz.LibraryCacheTTL, 10*time.Minute)
	if redisClient != nil {
		deps.Quizzes = redisstore.NewQuizCache(redisClient, library, cacheTTL)
	} else {
		deps.Quizzes = memory.NewQuizCache(library, cacheTTL)
	}
	return deps, closeAll, nil
}

func buildOptions(cfg config.Config) app.Options {
	opts := app.DefaultOptions()
	opts.QuestionDuration = config.Duration(cfg.Quiz.QuestionDuration, opts.QuestionDuration)
	opts.RevealGrace = config.Duration(cfg.Quiz.RevealGrace, opts.RevealGrace)
	if cfg.Quiz.PointsPerCorrect > 0 {
		opts.PointsPerCorrect = cfg.Quiz.PointsPerCorrect
	}
	opts.MinOptions = cfg.Quiz.MinOptions
	opts.MaxOptions = cfg.Quiz.MaxOptions
	if cfg.Shop.PackCost > 0 {
		opts.PackCost = cfg.Shop.PackCost
	}
	opts.PublicURL = cfg.Server.PublicURL
	opts.Rewards = app.RewardPolicy{
		Mode:            app.CompletionMode(cfg.Rewards.CompletionMode),
		CoinsPerCorrect: cfg.Rewards.CoinsPerCorrect,
		FlatBonus:       cfg.Rewards.FlatBonus,
		WheelCooldown:   config.Duration(cfg.Rewards.WheelCooldown, opts.Rewards.WheelCooldown),
		WheelPrizes:     append([]int(nil), cfg.Rewards.WheelPrizes...),
	}
	return opts
}
