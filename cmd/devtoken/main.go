package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"photojobs/internal/domain"
	"photojobs/internal/middleware"
)

func main() {
	var (
		subFlag    string
		roleFlag   string
		ttlFlag    time.Duration
		secretFlag string
	)
	flag.StringVar(&subFlag, "sub", "", "principal id to embed in the token")
	flag.StringVar(&roleFlag, "role", string(domain.UserRoleUser), "role claim (user or admin)")
	flag.DurationVar(&ttlFlag, "ttl", 24*time.Hour, "token lifetime; 0 issues a token without expiry")
	flag.StringVar(&secretFlag, "secret", "", "signing secret (falls back to JWT_SECRET)")
	flag.Parse()

	_ = godotenv.Load()

	sub := strings.TrimSpace(subFlag)
	if sub == "" {
		exitWithError(errors.New("-sub is required"))
	}
	role := domain.ParseRole(roleFlag)
	if role == domain.UserRoleGuest {
		exitWithError(errors.New("guest tokens are not issued; enable ALLOW_ANONYMOUS instead"))
	}

	secret := strings.TrimSpace(secretFlag)
	if secret == "" {
		secret = strings.TrimSpace(os.Getenv("JWT_SECRET"))
	}
	if secret == "" {
		exitWithError(errors.New("JWT_SECRET is required via -secret or environment"))
	}

	now := time.Now()
	claims := middleware.TokenClaims{
		Sub:      sub,
		Role:     string(role),
		IssuedAt: now.Unix(),
		Issuer:   "photojobs-devtoken",
	}
	if ttlFlag > 0 {
		claims.Exp = now.Add(ttlFlag).Unix()
	}
	token, err := middleware.SignJWT(secret, claims)
	if err != nil {
		exitWithError(fmt.Errorf("failed to sign token: %w", err))
	}
	fmt.Println(token)
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
