package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/onllm-dev/tweetwatch/internal/api"
	"github.com/onllm-dev/tweetwatch/internal/collector"
)

var collectQueryType string

var collectCmd = &cobra.Command{
	Use:   "collect KEYWORD...",
	Short: "Search keywords once and save the results",
	Long: `Search each keyword once, outside any collection job, and save the posts
found. Keywords are searched one after another; a failed keyword is logged
and the rest still run.

Example:
  tweetwatch collect golang "rust lang" --query-type Top`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCollect,
}

var lookupCmd = &cobra.Command{
	Use:   "lookup ID...",
	Short: "Fetch posts by id and save them",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runLookup,
}

func init() {
	collectCmd.Flags().StringVar(&collectQueryType, "query-type", "", "Latest or Top (default from config)")
	rootCmd.AddCommand(collectCmd, lookupCmd)
}

func runCollect(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	qt := api.QueryType(a.cfg.QueryType)
	if collectQueryType != "" {
		qt = api.QueryType(collectQueryType)
		if !qt.Valid() {
			return fmt.Errorf("invalid query type %q: must be Latest or Top", collectQueryType)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collected, saved, err := collector.CollectKeywords(ctx, a.deps(), args, qt)
	fmt.Fprintf(cmd.OutOrStdout(), "Collected %d post(s), saved %d\n", collected, saved)
	return err
}

func runLookup(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collected, saved, err := collector.LookupTweets(ctx, a.deps(), args)
	fmt.Fprintf(cmd.OutOrStdout(), "Fetched %d post(s), saved %d\n", collected, saved)
	return err
}
