package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/STRATINT/feedwatch/internal/accounts"
	"github.com/STRATINT/feedwatch/internal/models"
)

// Prober checks one account's network path.
type Prober interface {
	Probe(ctx context.Context, acct *accounts.Account) error
}

// ProbePool is the part of the account pool the prober drives.
type ProbePool interface {
	Accounts() []*accounts.Account
	MarkSuccess(accountID string) error
	MarkFailure(accountID, reason string) error
	Records() []models.Account
	HealthyCount() int
}

// HealthProberConfig configures a HealthProber.
type HealthProberConfig struct {
	Interval    time.Duration
	HealthStore HealthStore
	Observer    Observer
	Logger      *slog.Logger
}

// HealthProber periodically probes every enabled account that has a proxy
// and feeds the result into the pool's health state.
type HealthProber struct {
	pool        ProbePool
	prober      Prober
	interval    time.Duration
	healthStore HealthStore
	observer    Observer
	logger      *slog.Logger
}

// NewHealthProber creates a prober loop.
func NewHealthProber(pool ProbePool, prober Prober, cfg HealthProberConfig) *HealthProber {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &HealthProber{
		pool:        pool,
		prober:      prober,
		interval:    cfg.Interval,
		healthStore: cfg.HealthStore,
		observer:    cfg.Observer,
		logger:      cfg.Logger,
	}
}

// Run waits one interval, probes, and repeats until ctx is done.
func (h *HealthProber) Run(ctx context.Context) {
	h.logger.Info("health prober starting", "interval", h.interval)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("health prober stopped")
			return
		case <-ticker.C:
			h.RunOnce(ctx)
		}
	}
}

// RunOnce probes each eligible account once and persists health. It stops
// early when ctx is done.
func (h *HealthProber) RunOnce(ctx context.Context) (probed, failed int) {
	for _, acct := range h.pool.Accounts() {
		if !acct.Enabled || !acct.Proxy.Configured() {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		err := h.prober.Probe(ctx, acct)
		if err != nil && ctx.Err() != nil {
			break
		}

		probed++
		h.observer.ProbeCompleted(err == nil)
		if err != nil {
			failed++
			h.logger.Warn("proxy health check failed", "account", acct.Name, "proxy", acct.Proxy.Host(), "error", err)
			if markErr := h.pool.MarkFailure(acct.ID, "health check failed"); markErr != nil {
				h.logger.Warn("failed to record account failure", "account", acct.Name, "error", markErr)
			}
			continue
		}
		h.logger.Debug("proxy healthy", "account", acct.Name)
		if err := h.pool.MarkSuccess(acct.ID); err != nil {
			h.logger.Warn("failed to mark account healthy", "account", acct.Name, "error", err)
		}
	}

	h.observer.AccountsHealthy(h.pool.HealthyCount())
	if h.healthStore != nil && probed > 0 {
		if err := h.healthStore.SaveHealth(h.pool.Records()); err != nil {
			h.logger.Error("failed to persist account health", "error", err)
		}
	}
	return probed, failed
}
