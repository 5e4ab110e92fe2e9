package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"photojobs/internal/bootstrap"
	"photojobs/internal/infra"
	"photojobs/internal/jobs"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

	if cfg.QueueDriver != infra.QueueDriverAsynq {
		logger.Fatal().Str("queue_driver", cfg.QueueDriver).Msg("worker: QUEUE_DRIVER must be asynq; the pool driver runs jobs inside the api process")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to initialise runtime")
	}
	defer rt.Close()

	worker, err := jobs.NewAsynqWorker(cfg.RedisURL, cfg.WorkerConcurrency, rt.Processor(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure asynq server")
	}

	if err := worker.Start(); err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to start asynq server")
	}
	logger.Info().Int("concurrency", cfg.WorkerConcurrency).Str("queue", jobs.QueuePhotos).Msg("worker started")

	<-ctx.Done()
	logger.Info().Msg("worker: shutdown requested, waiting for active tasks")
	worker.Shutdown()
	logger.Info().Msg("worker stopped")
}
