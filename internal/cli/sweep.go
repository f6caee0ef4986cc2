package cli

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/config"
	"quiz-attempt-service/internal/grading"
	pgstore "quiz-attempt-service/internal/infra/postgres"
)

// NewSweepCmd runs a single expiry sweep and exits, for cron-style setups
// where the server's internal loop is disabled.
func NewSweepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Force-finalize overdue attempts once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweepOnce(cmd.Context(), *configPath)
		},
	}
}

func runSweepOnce(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured; one-shot sweep needs durable storage")
	}

	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := pgstore.NewAttemptStore(pool)
	engine := grading.NewEngine()
	if cfg.Grading.FuzzyThreshold > 0 {
		engine.FuzzyThreshold = cfg.Grading.FuzzyThreshold
	}
	// The sweep never starts attempts or records stats, so the quiz
	// repository and stats recorder stay nil here.
	service := app.NewAttemptService(store, nil, nil, app.WithEngine(engine))
	sweeper := app.NewSweeper(store, service, cfg.Attempt.SweepBatch)

	swept, err := sweeper.Tick(ctx)
	if err != nil {
		return err
	}
	log.Printf("sweep finalized %d attempt(s)", swept)
	return nil
}
