package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"asyncgen/internal/bootstrap"
	"asyncgen/internal/http/handlers"
	httpapi "asyncgen/internal/http/httpapi"
	"asyncgen/internal/infra"
	"asyncgen/internal/middleware"
)

const shutdownGrace = 15 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: bootstrap failed")
	}
	rt.Start(ctx)

	app := handlers.NewApp(rt.Manager, rt.Publisher, rt.Repository(), logger)
	router := httpapi.NewRouter(app, httpapi.RouterOptions{
		Logger:             logger,
		TokenAuth:          middleware.NewTokenAuth(cfg.JWTSecret),
		RateLimitPerMinute: cfg.RateLimitPerMin,
	})
	if cfg.JWTSecret == "" {
		logger.Warn().Msg("api: JWT_SECRET not set, /v1 routes are unauthenticated")
	}

	server := infra.NewHTTPServer(cfg, router, shutdownGrace)
	logger.Info().Str("addr", server.Addr()).Str("provider", rt.Manager.Provider()).Msg("api: listening")
	if err := server.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("api: http server failed")
	}
	stop()

	// In-flight poll loops stop with ctx; their jobs stay resumable.
	rt.Close()
	logger.Info().Msg("api: stopped")
}
