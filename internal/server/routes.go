package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/STRATINT/feedwatch/internal/checkpoint"
	"github.com/STRATINT/feedwatch/internal/models"
)

// AccountSource reports the account pool's current state.
type AccountSource interface {
	Records() []models.Account
	HealthyCount() int
}

// CheckpointSource reports the poller's published checkpoint.
type CheckpointSource interface {
	Checkpoint() checkpoint.State
	Entities() []models.TrackedEntity
}

// HealthCheck probes one dependency, e.g. the checkpoint database.
type HealthCheck func(ctx context.Context) error

// Instrumenter wraps handlers with request metrics.
type Instrumenter interface {
	Handler() http.Handler
	InstrumentHandler(next http.Handler) http.Handler
}

// RoutesConfig collects the handler dependencies.
type RoutesConfig struct {
	Accounts    AccountSource
	Checkpoints CheckpointSource
	Checks      map[string]HealthCheck
	Metrics     Instrumenter
	Logger      *slog.Logger
}

type accountStatus struct {
	ID      string               `json:"id"`
	Name    string               `json:"name"`
	Enabled bool                 `json:"enabled"`
	Proxy   string               `json:"proxy,omitempty"`
	Health  models.AccountHealth `json:"health"`
}

type entityStatus struct {
	Handle     string `json:"handle"`
	ResolvedID string `json:"resolved_id"`
	LastItemID string `json:"last_item_id,omitempty"`
}

type statusResponse struct {
	Service         string          `json:"service"`
	Time            string          `json:"time"`
	HealthyAccounts int             `json:"healthy_accounts"`
	Accounts        []accountStatus `json:"accounts"`
	Entities        []entityStatus  `json:"entities"`
}

// Routes builds the HTTP handler: /healthz, /status and /metrics, all
// instrumented when a metrics collector is configured.
func Routes(cfg RoutesConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthzHandler(cfg.Checks, cfg.Logger))
	mux.HandleFunc("GET /status", statusHandler(cfg.Accounts, cfg.Checkpoints, cfg.Logger))

	if cfg.Metrics == nil {
		return mux
	}
	mux.Handle("GET /metrics", cfg.Metrics.Handler())
	return cfg.Metrics.InstrumentHandler(mux)
}

func healthzHandler(checks map[string]HealthCheck, logger *slog.Logger) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]string{"status": "ok"}
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				logger.Warn("health check failed", "check", name, "error", err)
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body[name] = err.Error()
				continue
			}
			body[name] = "ok"
		}
		writeJSON(w, status, body, logger)
	}
}

func statusHandler(accts AccountSource, checkpoints CheckpointSource, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{
			Service:  "feedwatch",
			Time:     time.Now().UTC().Format(time.RFC3339),
			Accounts: []accountStatus{},
			Entities: []entityStatus{},
		}

		if accts != nil {
			resp.HealthyAccounts = accts.HealthyCount()
			for _, rec := range accts.Records() {
				s := accountStatus{ID: rec.ID, Name: rec.Name, Enabled: rec.Enabled, Health: rec.Health}
				if rec.Proxy.Configured() {
					s.Proxy = rec.Proxy.Host()
				}
				resp.Accounts = append(resp.Accounts, s)
			}
		}

		if checkpoints != nil {
			state := checkpoints.Checkpoint()
			for _, e := range checkpoints.Entities() {
				resp.Entities = append(resp.Entities, entityStatus{
					Handle:     e.Handle,
					ResolvedID: e.ResolvedID,
					LastItemID: state.Get(e.Key()),
				})
			}
		}

		writeJSON(w, http.StatusOK, resp, logger)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}
