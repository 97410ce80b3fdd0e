package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve TARGET_USERS to platform user ids",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		if len(a.cfg.Targets) == 0 {
			return fmt.Errorf("TARGET_USERS is empty")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		entities, err := a.resolveTargets(ctx)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "HANDLE\tUSER ID\tNAME")
		for _, e := range entities {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Handle, e.ResolvedID, e.DisplayName)
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		if missing := len(a.cfg.Targets) - len(entities); missing > 0 {
			fmt.Fprintln(cmd.OutOrStdout(), color.YellowString("%d handle(s) could not be resolved", missing))
		}
		return nil
	},
}
