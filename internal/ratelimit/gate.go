// Package ratelimit gates job submissions with a burst window and a long
// window per caller.
package ratelimit

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"photojobs/internal/domain"
)

// Limit is a request quota over a sliding period. A non-positive Requests
// disables the tier.
type Limit struct {
	Requests int
	Period   time.Duration
}

// Policy holds both tiers. Burst is evaluated first.
type Policy struct {
	Burst Limit
	Long  Limit
}

// Decision is the gate's verdict for one request.
type Decision struct {
	Allowed    bool
	Reason     error
	RetryAfter time.Duration
}

// Err returns nil when allowed, otherwise a *domain.LimitError.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &domain.LimitError{Reason: d.Reason, RetryAfter: d.RetryAfter}
}

type tier struct {
	name   string
	limit  Limit
	reason error
}

// Gate applies a Policy to every subject a request is attributed to.
type Gate struct {
	window Window
	tiers  []tier
	logger zerolog.Logger
}

func NewGate(window Window, policy Policy, logger zerolog.Logger) *Gate {
	return &Gate{
		window: window,
		tiers: []tier{
			{name: "burst", limit: policy.Burst, reason: domain.ErrBurstLimitExceeded},
			{name: "long", limit: policy.Long, reason: domain.ErrRateLimitExceeded},
		},
		logger: logger,
	}
}

type recorded struct {
	key    string
	member string
}

// Allow checks and records the request for the principal and the client ip.
// Authenticated principals are counted under user:<id>, every caller under
// ip:<addr>. When any check denies, hits already recorded for this request
// are released. Backend errors are logged and the check passes.
func (g *Gate) Allow(ctx context.Context, principal domain.Principal, ip string) Decision {
	subjects := subjectsFor(principal, ip)
	var hits []recorded

	for _, t := range g.tiers {
		if t.limit.Requests <= 0 || t.limit.Period <= 0 {
			continue
		}
		for _, subject := range subjects {
			key := t.name + ":" + subject
			hit, err := g.window.Hit(ctx, key, t.limit.Requests, t.limit.Period)
			if err != nil {
				g.logger.Warn().Err(err).Str("key", key).Msg("rate limit backend failed, allowing request")
				continue
			}
			if !hit.Allowed {
				g.release(ctx, hits)
				g.logger.Info().Str("key", key).Dur("retry_after", hit.RetryAfter).Msg("rate limit exceeded")
				return Decision{Reason: t.reason, RetryAfter: hit.RetryAfter}
			}
			hits = append(hits, recorded{key: key, member: hit.Member})
		}
	}
	return Decision{Allowed: true}
}

func (g *Gate) release(ctx context.Context, hits []recorded) {
	for _, h := range hits {
		if err := g.window.Release(ctx, h.key, h.member); err != nil {
			g.logger.Warn().Err(err).Str("key", h.key).Msg("rate limit release failed")
		}
	}
}

func subjectsFor(p domain.Principal, ip string) []string {
	subjects := make([]string, 0, 2)
	if !p.IsZero() && !p.IsGuest() {
		subjects = append(subjects, "user:"+p.ID)
	}
	if ip != "" {
		subjects = append(subjects, "ip:"+ip)
	}
	return subjects
}
