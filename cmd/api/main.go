package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"photojobs/internal/bootstrap"
	"photojobs/internal/http/handlers"
	httpapi "photojobs/internal/http/httpapi"
	"photojobs/internal/infra"
	"photojobs/internal/infra/geoip"
	"photojobs/internal/jobs"
	"photojobs/internal/middleware"
)

const drainTimeout = 30 * time.Second

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise runtime")
	}
	defer rt.Close()

	// Jobs outlive the request that submitted them; the pool runs on its own
	// context and is drained after the HTTP server stops.
	var (
		dispatcher jobs.Dispatcher
		pool       *jobs.PoolDispatcher
	)
	switch cfg.QueueDriver {
	case infra.QueueDriverAsynq:
		d, err := jobs.NewAsynqDispatcher(cfg.RedisURL, logger.With().Str("component", "dispatcher").Logger())
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure asynq dispatcher")
		}
		defer d.Close()
		dispatcher = d
	default:
		pool = jobs.NewPoolDispatcher(rt.Processor(), cfg.WorkerConcurrency, cfg.WorkerQueueSize,
			logger.With().Str("component", "pool").Logger())
		if err := pool.Start(context.Background()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start job pool")
		}
		dispatcher = pool
	}

	validator := jobs.NewValidator(jobs.ValidatorOptions{
		AllowAnonymous: cfg.AllowAnonymous,
		HostAllowlist:  cfg.InputHostAllowlist,
	})
	svc := jobs.NewService(validator, rt.Store, dispatcher, rt.Publisher, logger.With().Str("component", "jobs").Logger())

	gate, closeGate := rt.RateLimiter()
	defer closeGate()

	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip database unavailable, country detection disabled")
	}
	defer resolver.Close()

	trusted, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid TRUSTED_PROXIES")
	}

	app := handlers.NewApp(cfg, logger, svc, rt.HealthChecks())
	router := httpapi.NewRouter(app, httpapi.Options{
		Limiter:        gate,
		CountryLookup:  resolver.Lookup(),
		StaticDir:      cfg.StoragePath,
		TrustedProxies: trusted,
	})
	server := infra.NewHTTPServer(cfg, router)

	logger.Info().
		Str("addr", server.Addr()).
		Str("job_store", cfg.JobStore).
		Str("queue_driver", cfg.QueueDriver).
		Msg("API listening")
	if err := server.Run(ctx, cfg.HTTPIdleTimeout); err != nil {
		logger.Error().Err(err).Msg("http server stopped with error")
	}
	logger.Info().Msg("shutting down")

	if pool != nil {
		drainCtx, cancelDrain := context.WithTimeout(context.Background(), drainTimeout)
		defer cancelDrain()
		if err := pool.Shutdown(drainCtx); err != nil {
			logger.Warn().Err(err).Msg("job pool did not drain before timeout")
		}
	}
	logger.Info().Msg("server stopped")
}
