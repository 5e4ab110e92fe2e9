package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"photojobs/internal/infra"
	"photojobs/internal/infra/credentials"
)

func main() {
	var (
		tokenFlag    string
		providerFlag string
		noteFlag     string
		revokeFlag   bool
	)
	flag.StringVar(&tokenFlag, "token", "", "API token for the provider (falls back to REPLICATE_API_TOKEN)")
	flag.StringVar(&providerFlag, "provider", credentials.ProviderReplicate, "inference provider to configure")
	flag.StringVar(&noteFlag, "note", "", "free-form note stored alongside the token")
	flag.BoolVar(&revokeFlag, "revoke", false, "revoke the stored token instead of setting one")
	flag.Parse()

	_ = godotenv.Load()

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitf("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitf("failed to create pool: %v", err)
	}
	defer pool.Close()

	logger := infra.NewLogger("cli", "providerkey").With().Str("provider", providerFlag).Logger()
	store := credentials.NewStore(infra.NewSQLRunner(pool, logger))

	if revokeFlag {
		revoked, err := store.Revoke(ctx, providerFlag)
		if err != nil {
			exitf("%v", err)
		}
		if !revoked {
			fmt.Printf("no active %s token to revoke\n", providerFlag)
			return
		}
		fmt.Printf("%s token revoked\n", providerFlag)
		return
	}

	token := strings.TrimSpace(tokenFlag)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("REPLICATE_API_TOKEN"))
	}
	props := map[string]any{
		"stored_by": "providerkey",
		"stored_at": time.Now().UTC().Format(time.RFC3339),
	}
	if note := strings.TrimSpace(noteFlag); note != "" {
		props["note"] = note
	}
	if err := store.SetToken(ctx, providerFlag, token, props); err != nil {
		exitf("%v", err)
	}
	fmt.Printf("%s token stored\n", providerFlag)
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
