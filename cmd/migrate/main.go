package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"photojobs/internal/infra"
)

func main() {
	statusFlag := flag.Bool("status", false, "print migration status instead of applying")
	flag.Parse()

	_ = godotenv.Load()

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	logger := infra.NewLogger(os.Getenv("APP_ENV"), "migrate")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	run := infra.Migrate
	if *statusFlag {
		run = infra.MigrationStatus
	}
	if err := run(ctx, dbURL, logger); err != nil {
		logger.Error().Err(err).Msg("migration failed")
		os.Exit(1)
	}
	logger.Info().Bool("status_only", *statusFlag).Msg("migrations done")
}
