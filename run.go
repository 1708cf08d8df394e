package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/onllm-dev/tweetwatch/internal/scheduler"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run due collections on a polling loop",
	Long: `Start the scheduler. Every poll interval it runs each active collection
whose next run time has passed, then advances that collection by its own
interval.

The scheduler runs until interrupted (Ctrl+C) or it receives SIGTERM. A
collection in progress is allowed to finish before the process exits.`,
	Args: cobra.NoArgs,
	RunE: runScheduler,
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run every due collection once and exit",
	Args:  cobra.NoArgs,
	RunE:  runOnce,
}

func init() {
	rootCmd.AddCommand(runCmd, onceCmd)
}

func runScheduler(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	printBanner(cmd, a)
	a.logger.Info("Starting tweetwatch", "version", version, "config", a.cfg.String())

	sched := scheduler.New(a.db, a.deps(), a.tracker, a.logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sched.Run(ctx, a.cfg.PollInterval); err != nil {
		return fmt.Errorf("scheduler error: %w", err)
	}
	a.logger.Info("Shutdown complete")
	return nil
}

func runOnce(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(a.db, a.deps(), a.tracker, a.logger)
	processed, err := sched.RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Processed %d collection(s)\n", processed)
	return nil
}

func printBanner(cmd *cobra.Command, a *app) {
	out := cmd.OutOrStdout()
	mode := "live"
	if !a.cfg.HasAPIKey() {
		mode = "no-op (TWITTER_API_KEY not set)"
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "tweetwatch %s\n", version)
	fmt.Fprintf(out, "  API:       %s (%s)\n", a.cfg.BaseURL, mode)
	fmt.Fprintf(out, "  Polling:   every %s\n", a.cfg.PollInterval)
	fmt.Fprintf(out, "  Database:  %s\n", a.cfg.DBPath)
	fmt.Fprintln(out)
}
