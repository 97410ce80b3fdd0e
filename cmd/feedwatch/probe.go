package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/STRATINT/feedwatch/internal/accounts"
	"github.com/STRATINT/feedwatch/internal/ingestion"
	"github.com/STRATINT/feedwatch/internal/models"
	"github.com/STRATINT/feedwatch/internal/platform"
)

var (
	probeFetchHandle string
	probeSave        bool

	probeCmd = &cobra.Command{
		Use:   "probe",
		Short: "Check every account once and print a report",
		Long: `For each enabled account: activate a session, probe the proxy and,
with --fetch, pull one timeline through it. Results update account health;
--save writes them back to the credential store.`,
		Example: `  feedwatch probe
  feedwatch probe --fetch nasa --save`,
		Args: cobra.NoArgs,
		RunE: runProbe,
	}
)

func init() {
	probeCmd.Flags().StringVar(&probeFetchHandle, "fetch", "", "handle to test-fetch through each account")
	probeCmd.Flags().BoolVar(&probeSave, "save", false, "persist resulting health to the credential store")
}

var (
	okMark   = color.GreenString("ok")
	failMark = color.RedString("FAIL")
	skipMark = color.YellowString("skip")
)

func runProbe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	out := cmd.OutOrStdout()
	prober := platform.NewProxyProber(a.cfg.Prober.URL, a.cfg.Prober.Timeout)

	var target models.TrackedEntity
	if probeFetchHandle != "" {
		entities, err := a.fetcher.Resolve(ctx, []string{probeFetchHandle})
		if err != nil {
			return err
		}
		e, ok := entities[models.EntityKey(probeFetchHandle)]
		if !ok {
			return fmt.Errorf("handle %q not found", probeFetchHandle)
		}
		target = e
	}

	failures := 0
	for _, acct := range a.pool.Accounts() {
		color.New(color.Bold).Fprintf(out, "%s (%s)\n", acct.Name, acct.ID)
		if !acct.Enabled {
			fmt.Fprintf(out, "  %-10s %s\n", "enabled", skipMark)
			continue
		}
		if !probeAccount(ctx, out, a, prober, acct, target) {
			failures++
		}
	}

	fmt.Fprintln(out)
	summary := fmt.Sprintf("%d/%d enabled accounts healthy", a.pool.HealthyCount(), a.pool.EnabledCount())
	if failures > 0 {
		fmt.Fprintln(out, color.YellowString("%s", summary))
	} else {
		fmt.Fprintln(out, color.GreenString("%s", summary))
	}

	if probeSave {
		if err := a.store.SaveHealth(a.pool.Records()); err != nil {
			return fmt.Errorf("save health: %w", err)
		}
		fmt.Fprintln(out, "health written to", a.store.Path())
	}
	return nil
}

// probeAccount runs each check against one account and reports whether all
// of them passed.
func probeAccount(ctx context.Context, out io.Writer, a *app, prober *platform.ProxyProber, acct *accounts.Account, target models.TrackedEntity) bool {
	report := func(step string, err error, detail string) {
		switch {
		case err != nil:
			fmt.Fprintf(out, "  %-10s %s %v\n", step, failMark, err)
		case detail != "":
			fmt.Fprintf(out, "  %-10s %s %s\n", step, okMark, detail)
		default:
			fmt.Fprintf(out, "  %-10s %s\n", step, okMark)
		}
	}

	healthy := true

	if acct.Proxy.Configured() {
		start := time.Now()
		err := prober.Probe(ctx, acct)
		report("proxy", err, acct.Proxy.Host()+" "+time.Since(start).Round(time.Millisecond).String())
		if err != nil {
			healthy = false
			_ = a.pool.MarkFailure(acct.ID, "health check failed")
		}
	} else {
		fmt.Fprintf(out, "  %-10s %s direct connection\n", "proxy", skipMark)
	}

	actCtx, cancel := context.WithTimeout(ctx, a.cfg.Fetch.Timeout)
	src, err := a.pool.Activate(actCtx, acct)
	cancel()
	report("activate", err, "")
	if err != nil {
		_ = a.pool.MarkFailure(acct.ID, err.Error())
		return false
	}

	if target.ResolvedID != "" {
		userID, _ := strconv.ParseInt(target.ResolvedID, 10, 64)
		fetchCtx, cancel := context.WithTimeout(ctx, a.cfg.Fetch.Timeout)
		raw, err := src.FetchTimeline(fetchCtx, userID)
		cancel()

		var items []models.Item
		if err == nil {
			items, err = ingestion.Extract(raw, target, models.SourceAccount{ID: acct.ID, Name: acct.Name})
		}
		detail := fmt.Sprintf("%d posts from @%s", len(items), target.Handle)
		if len(items) > 0 {
			detail += ", latest " + items[len(items)-1].ID
		}
		report("fetch", err, detail)
		if err != nil {
			healthy = false
			_ = a.pool.MarkFailure(acct.ID, err.Error())
		}
	}

	if healthy {
		_ = a.pool.MarkSuccess(acct.ID)
	}
	return healthy
}
