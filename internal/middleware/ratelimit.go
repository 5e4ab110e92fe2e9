package middleware

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"photojobs/internal/domain"
	"photojobs/internal/ratelimit"
)

// Limiter decides whether a request may proceed.
type Limiter interface {
	Allow(ctx context.Context, principal domain.Principal, ip string) ratelimit.Decision
}

// RateLimit rejects requests the limiter denies with 429 and Retry-After.
// It must run after Authenticate so user keys are applied. The ip key is the
// peer address, or the client reported by a trusted proxy via RealIP.
func RateLimit(limiter Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := limiter.Allow(r.Context(), PrincipalFromContext(r.Context()), ClientIP(r))
			if decision.Allowed {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(decision.RetryAfter)))
			code, message := "RATE_LIMIT_EXCEEDED", "too many requests, try again later"
			if errors.Is(decision.Reason, domain.ErrBurstLimitExceeded) {
				code, message = "BURST_LIMIT_EXCEEDED", "too many requests in a short time, slow down"
			}
			writeError(w, http.StatusTooManyRequests, code, message)
		})
	}
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
