package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"photojobs/internal/infra"
	"photojobs/internal/jobs"
	"photojobs/internal/middleware"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type App struct {
	Config *infra.Config
	Logger zerolog.Logger
	Jobs   *jobs.Service
	Checks map[string]HealthCheck
}

func NewApp(cfg *infra.Config, logger zerolog.Logger, svc *jobs.Service, checks map[string]HealthCheck) *App {
	if checks == nil {
		checks = map[string]HealthCheck{}
	}
	return &App{Config: cfg, Logger: logger, Jobs: svc, Checks: checks}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
	JobID string `json:"jobId,omitempty"`
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, errorResponse{Error: message, Code: code})
}

func (a *App) log(r *http.Request) *zerolog.Logger {
	if l := middleware.LoggerFromContext(r.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &a.Logger
}
