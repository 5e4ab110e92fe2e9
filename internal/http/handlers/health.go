package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"
)

const healthCheckTimeout = 2 * time.Second

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Jobs   map[string]int    `json:"jobs,omitempty"`
}

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(a.Checks))
	for name := range a.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(names))}
	for _, name := range names {
		if err := a.Checks[name](ctx); err != nil {
			a.log(r).Warn().Err(err).Str("check", name).Msg("health check failed")
			resp.Checks[name] = "error: " + err.Error()
			resp.Status = "degraded"
			continue
		}
		resp.Checks[name] = "ok"
	}

	if resp.Status == "ok" && a.Jobs != nil {
		if counts, err := a.Jobs.JobCounts(ctx); err == nil {
			resp.Jobs = make(map[string]int, len(counts))
			for status, n := range counts {
				resp.Jobs[string(status)] = n
			}
		}
	}

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	a.json(w, code, resp)
}
