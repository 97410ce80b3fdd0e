package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/STRATINT/feedwatch/internal/notify"
	"github.com/STRATINT/feedwatch/internal/platform"
	"github.com/STRATINT/feedwatch/internal/scheduler"
	"github.com/STRATINT/feedwatch/internal/server"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the poller until interrupted",
	Long: `Resolve the tracked handles, then poll them every POLL_INTERVAL_SECONDS and
deliver new posts to WEBHOOK_URL. SIGINT or SIGTERM finishes in-flight
deliveries, persists the checkpoint and exits.`,
	Args: cobra.NoArgs,
	RunE: runService,
}

func runService(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger := a.logger

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting feedwatch", "targets", len(a.cfg.Targets))

	checkpoints, check, err := a.openCheckpoints(ctx)
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	defer checkpoints.Close()

	entities, err := a.resolveTargets(ctx)
	if err != nil {
		return err
	}
	for _, e := range entities {
		logger.Info("tracking", "handle", e.Handle, "user_id", e.ResolvedID, "name", e.DisplayName)
	}

	webhook := notify.NewWebhook(notify.WebhookConfig{
		URL:           a.cfg.Webhook.URL,
		Source:        a.cfg.Webhook.Source,
		Secret:        a.cfg.Webhook.Secret,
		Timeout:       a.cfg.Webhook.Timeout,
		RatePerSecond: a.cfg.Webhook.RatePerSecond,
		Logger:        logger,
	})

	poller := scheduler.NewPoller(a.fetcher, webhook, checkpoints, scheduler.PollerConfig{
		Entities:    entities,
		Interval:    a.cfg.Poll.Interval,
		SkipInitial: a.cfg.Poll.SkipInitial,
		Workers:     a.pool.EnabledCount(),
		Accounts:    a.pool,
		HealthStore: a.store,
		Observer:    a.collector,
		Logger:      logger,
	})

	var wg sync.WaitGroup

	if a.cfg.Prober.Enabled {
		prober := scheduler.NewHealthProber(a.pool,
			platform.NewProxyProber(a.cfg.Prober.URL, a.cfg.Prober.Timeout),
			scheduler.HealthProberConfig{
				Interval:    a.cfg.Prober.Interval,
				HealthStore: a.store,
				Observer:    a.collector,
				Logger:      logger,
			})
		wg.Add(1)
		go func() {
			defer wg.Done()
			prober.Run(ctx)
		}()
	}

	var srv *server.Server
	if a.cfg.Server.Enabled {
		checks := map[string]server.HealthCheck{}
		if check != nil {
			checks["checkpoint"] = check
		}
		info := server.Info{
			CheckpointBackend: a.cfg.Checkpoint.Backend,
			Entities:          len(entities),
			Accounts:          a.pool.EnabledCount(),
		}
		srv = server.New(ctx, a.cfg.Server, info, logger, server.Routes(server.RoutesConfig{
			Accounts:    a.pool,
			Checkpoints: poller,
			Checks:      checks,
			Metrics:     a.collector,
			Logger:      logger,
		}))
		if err := srv.Listen(); err != nil {
			stop()
			wg.Wait()
			return err
		}
		go func() {
			if err := srv.Serve(); err != nil {
				logger.Error("server error", "error", err)
				stop()
			}
		}()
	}

	runErr := poller.Run(ctx)

	stop()
	wg.Wait()

	if srv != nil {
		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}

	if runErr != nil {
		return runErr
	}
	logger.Info("shutdown complete")
	return nil
}
