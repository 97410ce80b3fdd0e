package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "feedwatch",
	Short: "Forward new posts of tracked accounts to a webhook",
	Long: color.CyanString("feedwatch polls a set of tracked accounts with a pool of credentials\n") +
		"and delivers every new post to a webhook in order.\n\n" +
		"Configuration is read from the environment; see `feedwatch run --help`.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runService,
}

func init() {
	rootCmd.AddCommand(runCmd, probeCmd, resolveCmd)
}
