// Package bootstrap wires configuration into the long-lived components
// shared by cmd/api and cmd/worker.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"asyncgen/internal/domain"
	"asyncgen/internal/events"
	"asyncgen/internal/infra"
	"asyncgen/internal/infra/credentials"
	"asyncgen/internal/jobs"
	"asyncgen/internal/providers/dashscope"
	"asyncgen/internal/providers/synthetic"
	"asyncgen/internal/store"
)

const providerRequestTimeout = 30 * time.Second

// Runtime holds the components built from Config. Optional parts (DB, Redis)
// stay nil when not configured.
type Runtime struct {
	Config    *infra.Config
	Logger    infra.Logger
	DB        *pgxpool.Pool
	Redis     *redis.Client
	Publisher *events.Publisher
	Relay     *events.RedisRelay
	Jobs      *store.JobStore
	Manager   *jobs.Manager

	wg sync.WaitGroup
}

// New connects the configured backends and builds the job manager. ctx bounds
// the background loops started later by Start and by the manager.
func New(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: logger}
	rt.Publisher = events.NewPublisher(&logger)

	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		rt.DB = pool
		rt.Jobs = store.NewJobStore(infra.NewSQLRunner(pool, logger))
		if err := rt.Jobs.Migrate(ctx); err != nil {
			rt.Close()
			return nil, fmt.Errorf("migrate job store: %w", err)
		}
	}

	var sink jobs.EventSink = rt.Publisher
	if cfg.RedisAddr != "" {
		client, err := infra.NewRedisClient(ctx, cfg)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.Redis = client
		relay, err := events.NewRedisRelay(client, cfg.RedisChannel, rt.Publisher, &logger)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.Relay = relay
		sink = relay
	}

	provider, err := rt.buildProvider(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}

	opts := jobs.Options{
		Provider:    provider,
		Events:      sink,
		Logger:      &logger,
		BaseContext: ctx,
	}
	if rt.Jobs != nil {
		opts.Records = rt.Jobs
	}
	manager, err := jobs.NewManager(opts)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Manager = manager
	return rt, nil
}

// Repository returns the job store, or nil when no database is configured.
func (rt *Runtime) Repository() domain.JobRepository {
	if rt.Jobs == nil {
		return nil
	}
	return rt.Jobs
}

// Start launches the relay and the event recorder in the background.
func (rt *Runtime) Start(ctx context.Context) {
	if rt.Relay != nil {
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			if err := rt.Relay.Run(ctx); err != nil && ctx.Err() == nil {
				rt.Logger.Error().Err(err).Msg("bootstrap: redis relay stopped")
			}
		}()
	}
	if rt.Jobs != nil {
		recorder := store.NewRecorder(rt.Jobs, rt.Logger)
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			recorder.Run(ctx, rt.Publisher)
		}()
	}
}

// Close waits for background loops and releases connections. Callers cancel
// the context passed to New and Start first.
func (rt *Runtime) Close() {
	if rt.Manager != nil {
		rt.Manager.Wait()
	}
	rt.wg.Wait()
	if rt.Redis != nil {
		_ = rt.Redis.Close()
	}
	if rt.DB != nil {
		rt.DB.Close()
	}
}

func (rt *Runtime) buildProvider(ctx context.Context) (jobs.Provider, error) {
	cfg := rt.Config
	switch cfg.Provider {
	case "dashscope":
		key := cfg.DashScopeAPIKey
		if key == "" && rt.DB != nil {
			creds := credentials.NewStore(infra.NewSQLRunner(rt.DB, rt.Logger))
			resolved, err := creds.ResolveAPIKey(ctx, credentials.ProviderDashScope, key)
			if err != nil {
				return nil, fmt.Errorf("resolve dashscope key: %w", err)
			}
			key = resolved
		}
		return dashscope.NewClient(dashscope.Options{
			APIKey:         key,
			BaseURL:        cfg.DashScopeBaseURL,
			VideoModel:     cfg.DashScopeVideo,
			ImageModel:     cfg.DashScopeImage,
			AudioModel:     cfg.DashScopeAudio,
			HTTPClient:     &http.Client{Timeout: providerRequestTimeout},
			Logger:         &rt.Logger,
			RequestTimeout: providerRequestTimeout,
		})
	default:
		return synthetic.New(synthetic.Options{
			Steps:   cfg.SyntheticSteps,
			BaseURL: cfg.StorageBaseURL,
			Logger:  &rt.Logger,
		}), nil
	}
}
