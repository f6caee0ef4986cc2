package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/config"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/grading"
	"quiz-attempt-service/internal/infra/memory"
	pgstore "quiz-attempt-service/internal/infra/postgres"
	redisinfra "quiz-attempt-service/internal/infra/redis"
	transport "quiz-attempt-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the attempt server",
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

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	if pool != nil {
		loader = pgstore.NewQuizLoader(pool)
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisinfra.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	var store app.AttemptStore
	if pool != nil {
		store = pgstore.NewAttemptStore(pool)
	} else {
		store = memory.NewAttemptStore()
	}

	var stats app.StatsRecorder
	if redisClient != nil {
		stats = redisinfra.NewStatsRecorder(redisClient)
	} else {
		stats = memory.NewStatsRecorder()
	}

	engine := grading.NewEngine()
	if cfg.Grading.FuzzyThreshold > 0 {
		engine.FuzzyThreshold = cfg.Grading.FuzzyThreshold
	}

	opts := []app.Option{app.WithEngine(engine)}
	if d := config.TTLDuration(cfg.Attempt.DefaultDuration, 0); d > 0 {
		opts = append(opts, app.WithDefaultDuration(d))
	}
	service := app.NewAttemptService(store, quizRepo, stats, opts...)
	sweeper := app.NewSweeper(store, service, cfg.Attempt.SweepBatch)

	sweepInterval := config.TTLDuration(cfg.Attempt.SweepInterval, 30*time.Second)
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go runSweepLoop(sweepCtx, sweeper, sweepInterval)

	handler := transport.NewHandler(service)
	wsHandler := transport.NewWSHandler(service)
	router := transport.NewRouter(handler, wsHandler)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting attempt service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// runSweepLoop is the periodic trigger for the expiry sweeper. The sweeper
// itself owns no timer.
func runSweepLoop(ctx context.Context, sweeper *app.Sweeper, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := sweeper.Tick(ctx)
			if err != nil {
				log.Printf("expiry sweep failed: %v", err)
				continue
			}
			if swept > 0 {
				log.Printf("expiry sweep finalized %d attempt(s)", swept)
			}
		}
	}
}

// sampleQuizzes provides minimal quiz data; swap the loader for the
// Postgres-backed one in production.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:              "quiz-1",
			Title:           "General knowledge warm-up",
			DurationSeconds: 300,
			Questions: []domain.Question{
				{
					QID:          "q1",
					Type:         domain.QuestionMCQ,
					Prompt:       "What is 2 + 2?",
					Choices:      []string{"3", "4", "5"},
					CorrectIndex: 1,
					Explanation:  "Basic addition.",
				},
				{
					QID:         "q2",
					Type:        domain.QuestionTF,
					Prompt:      "The sky is blue on a clear day.",
					CorrectText: "true",
				},
				{
					QID:         "q3",
					Type:        domain.QuestionShort,
					Prompt:      "How many days are in a week?",
					CorrectText: "seven",
					Explanation: "Seven days, Monday through Sunday.",
				},
			},
		},
	}
}
