package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"asyncgen/internal/bootstrap"
	"asyncgen/internal/infra"
	"asyncgen/internal/resume"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("worker: DATABASE_URL is required to find resumable jobs")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: bootstrap failed")
	}
	rt.Start(ctx)

	sweeper, err := resume.NewSweeper(resume.Options{
		Claimer:    rt.Jobs,
		Resumer:    rt.Manager,
		Logger:     logger,
		StaleAfter: cfg.ResumeStaleAfter,
		Interval:   cfg.ResumeInterval,
		BatchSize:  cfg.ResumeBatchSize,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: sweeper setup failed")
	}

	logger.Info().
		Str("provider", rt.Manager.Provider()).
		Dur("stale_after", cfg.ResumeStaleAfter).
		Dur("interval", cfg.ResumeInterval).
		Msg("worker: started")
	if err := sweeper.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("worker: sweeper stopped")
	}

	rt.Close()
	logger.Info().Msg("worker: stopped")
}
