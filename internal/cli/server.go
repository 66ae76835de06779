package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"exam-session-engine/internal/app"
	"exam-session-engine/internal/config"
	"exam-session-engine/internal/domain"
	"exam-session-engine/internal/infra/memory"
	pgstore "exam-session-engine/internal/infra/postgres"
	redisinfra "exam-session-engine/internal/infra/redis"
	"exam-session-engine/internal/logger"
	transport "exam-session-engine/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the exam engine server",
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
	log := logger.Setup(cfg.Log.Level, cfg.Log.Format)

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var stores app.Stores
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		stores = pgstore.NewStore(pool).Stores()
	} else {
		memStore := memory.NewStore()
		if _, err := memStore.SeedExam(sampleExam()); err != nil {
			return err
		}
		stores = memStore.Stores()
		log.Warn().Msg("postgres not configured, using seeded in-memory store")
	}

	catalogTTL := config.TTLDuration(cfg.Exam.CatalogTTL, 10*time.Minute)
	stores.Questions = memory.NewCatalogCache(stores.Questions, catalogTTL)

	var tokens app.TokenStore = memory.NewTokenStore()
	hub := memory.NewHub()
	var broadcaster app.Broadcaster = hub
	if redisClient != nil {
		tokenTTL := config.TTLDuration(cfg.Redis.TokenTTL, time.Hour)
		tokens = redisinfra.NewTokenStore(redisClient, tokenTTL)
		broadcaster = app.MultiBroadcaster{hub, redisinfra.NewPublisher(redisClient)}
	}

	service := app.NewExamService(stores, tokens, broadcaster, log)
	wsHandler := transport.NewWSHandler(service, hub, log)
	restHandler := transport.NewRESTHandler(service, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	restHandler.Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting exam engine")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleExam seeds a minimal live exam for demos without a database.
func sampleExam() (domain.Exam, []domain.Question) {
	exam := domain.Exam{
		ID:                1,
		Title:             "Demo exam",
		AccessCode:        "DEMO01",
		QuestionTimeLimit: 30,
		LeaderboardLimit:  20,
	}
	questions := []domain.Question{
		{
			ID: 1, ExamID: 1, Order: 1,
			Text: "What is 2 + 2?",
			Type: domain.QuestionSingle,
			Options: []domain.Option{
				{ID: 1, Order: 1, Text: "3"},
				{ID: 2, Order: 2, Text: "4"},
				{ID: 3, Order: 3, Text: "5"},
			},
			CorrectOptionID: 2,
		},
		{
			ID: 2, ExamID: 1, Order: 2,
			Text: "The earth is flat.",
			Type: domain.QuestionTrueFalse,
			Options: []domain.Option{
				{ID: 4, Order: 1, Text: "True"},
				{ID: 5, Order: 2, Text: "False"},
			},
			CorrectOptionID: 5,
		},
	}
	return exam, questions
}
