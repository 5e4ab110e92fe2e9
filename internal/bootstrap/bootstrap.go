// Package bootstrap builds the runtime dependencies shared by the api and
// worker binaries from a loaded Config.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"photojobs/internal/adapter/repo"
	"photojobs/internal/domain"
	"photojobs/internal/http/handlers"
	"photojobs/internal/infra"
	"photojobs/internal/infra/credentials"
	"photojobs/internal/jobs"
	"photojobs/internal/providers/image"
	"photojobs/internal/providers/replicate"
	"photojobs/internal/ratelimit"
	"photojobs/internal/storage"
)

// credentialCacheTTL bounds how long a stored provider token is reused
// before the credential store is consulted again.
const credentialCacheTTL = time.Minute

// Inference providers.
const (
	InferenceReplicate = "replicate"
	InferenceSynthetic = "synthetic"
)

// Runtime holds connections and the components built on them.
type Runtime struct {
	Config *infra.Config
	Logger infra.Logger

	DB    *pgxpool.Pool
	Redis *redis.Client

	Store     *jobs.Store
	Publisher *storage.Publisher
	Enhancer  image.Enhancer

	closers []func()
}

// Open connects the configured backends. The database is opened when jobs
// live in postgres or when DATABASE_URL is set for credential lookups.
func Open(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: logger}
	if err := rt.open(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) open(ctx context.Context) error {
	cfg := rt.Config

	if cfg.DatabaseURL != "" {
		if cfg.AutoMigrate {
			if err := infra.Migrate(ctx, cfg.DatabaseURL, rt.Logger); err != nil {
				return err
			}
		}
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return err
		}
		rt.DB = pool
		rt.closers = append(rt.closers, pool.Close)
	}

	if cfg.NeedsRedis() {
		client, err := infra.NewRedisClient(ctx, cfg)
		if err != nil {
			return err
		}
		rt.Redis = client
		rt.closers = append(rt.closers, func() { _ = client.Close() })
	}

	jobRepo, err := rt.jobRepository()
	if err != nil {
		return err
	}
	rt.Store = jobs.NewStore(jobRepo, rt.Logger.With().Str("component", "job_store").Logger())

	files, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("configure storage: %w", err)
	}
	rt.Publisher, err = storage.NewPublisher(files, cfg.StorageBaseURL, &http.Client{Timeout: 60 * time.Second})
	if err != nil {
		return err
	}

	rt.Enhancer, err = rt.enhancer(ctx)
	return err
}

func (rt *Runtime) sqlRunner() *infra.SQLRunner {
	if rt.DB == nil {
		return nil
	}
	return infra.NewSQLRunner(rt.DB, rt.Logger)
}

func (rt *Runtime) jobRepository() (domain.JobRepository, error) {
	switch rt.Config.JobStore {
	case infra.JobStorePostgres:
		runner := rt.sqlRunner()
		if runner == nil {
			return nil, errors.New("postgres job store requires DATABASE_URL")
		}
		return repo.NewJobRepository(runner), nil
	case infra.JobStoreRedis:
		return repo.NewRedisJobRepository(rt.Redis, 0), nil
	case infra.JobStoreMemory:
		if rt.Config.QueueDriver == infra.QueueDriverAsynq {
			return nil, errors.New("memory job store cannot be shared with a separate asynq worker")
		}
		return repo.NewMemoryJobRepository(), nil
	default:
		return nil, fmt.Errorf("unsupported job store %q", rt.Config.JobStore)
	}
}

func (rt *Runtime) enhancer(ctx context.Context) (image.Enhancer, error) {
	cfg := rt.Config

	switch cfg.InferenceProvider {
	case InferenceSynthetic:
		rt.Logger.Warn().Msg("inference provider is synthetic; results are placeholders")
		return image.NewSyntheticEnhancer(), nil
	case InferenceReplicate, "":
	default:
		return nil, fmt.Errorf("INFERENCE_PROVIDER %q is not supported", cfg.InferenceProvider)
	}

	var creds *credentials.Store
	if runner := rt.sqlRunner(); runner != nil {
		creds = credentials.NewStore(runner)
	}

	logger := rt.Logger.With().Str("provider", InferenceReplicate).Logger()
	client, err := replicate.NewClient(replicate.Options{
		APIToken: cfg.ReplicateAPIToken,
		TokenSource: func(ctx context.Context) (string, error) {
			return creds.Resolve(ctx, credentials.ProviderReplicate, "")
		},
		TokenTTL:       credentialCacheTTL,
		BaseURL:        cfg.ReplicateBaseURL,
		Model:          cfg.ReplicateModel,
		Logger:         &logger,
		RequestTimeout: 60 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("configure replicate client: %w", err)
	}
	if !client.HasCredentials(ctx) {
		rt.Logger.Warn().Str("model", client.Model()).Msg("replicate token missing; jobs fail until one is stored")
	}
	return image.NewReplicateEnhancer(client), nil
}

// Processor builds the job processor over the runtime's components.
func (rt *Runtime) Processor() *jobs.Processor {
	return jobs.NewProcessor(rt.Store, rt.Enhancer, rt.Publisher, rt.Config.InferenceTimeout,
		rt.Logger.With().Str("component", "processor").Logger())
}

// RateLimiter builds the submission gate on the configured backend. The
// returned close function releases in-memory state.
func (rt *Runtime) RateLimiter() (*ratelimit.Gate, func()) {
	cfg := rt.Config
	policy := ratelimit.Policy{
		Burst: ratelimit.Limit{Requests: cfg.BurstLimitRequests, Period: cfg.BurstLimitWindow},
		Long:  ratelimit.Limit{Requests: cfg.RateLimitRequests, Period: cfg.RateLimitWindow},
	}
	logger := rt.Logger.With().Str("component", "ratelimit").Logger()
	if cfg.RateLimitBackend == infra.RateLimitBackendRedis && rt.Redis != nil {
		return ratelimit.NewGate(ratelimit.NewRedisWindow(rt.Redis), policy, logger), func() {}
	}
	window := ratelimit.NewMemoryWindow(time.Minute)
	return ratelimit.NewGate(window, policy, logger), func() { _ = window.Close() }
}

// HealthChecks lists a ping per connected backend.
func (rt *Runtime) HealthChecks() map[string]handlers.HealthCheck {
	checks := map[string]handlers.HealthCheck{}
	if runner := rt.sqlRunner(); runner != nil {
		checks["database"] = runner.Ping
	}
	if rt.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return rt.Redis.Ping(ctx).Err() }
	}
	return checks
}

// Close releases connections in reverse order of opening.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
