// Package main is the entry point for the tweetwatch CLI.
//
// Usage:
//
//	tweetwatch run                      # poll due collections until interrupted
//	tweetwatch once                     # run every due collection once and exit
//	tweetwatch collect golang rust      # one-off keyword search
//	tweetwatch lookup 123 456           # fetch posts by id
//	tweetwatch collection add ...       # create a collection job
//	tweetwatch collection list          # show collection jobs
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/onllm-dev/tweetwatch/internal/api"
	"github.com/onllm-dev/tweetwatch/internal/collector"
	"github.com/onllm-dev/tweetwatch/internal/config"
	"github.com/onllm-dev/tweetwatch/internal/processor"
	"github.com/onllm-dev/tweetwatch/internal/store"
	"github.com/onllm-dev/tweetwatch/internal/tracker"
)

var version = "dev"

var flags config.Flags

var rootCmd = &cobra.Command{
	Use:   "tweetwatch",
	Short: "Scheduled Twitter data collection into SQLite",
	Long: `tweetwatch polls a Twitter data API on a schedule and stores the posts and
authors it finds in a local SQLite database.

Collections are recurring jobs: a keyword collection searches a set of
keywords, a user collection follows one account's timeline. The scheduler
runs each active collection when its interval has elapsed.

Without TWITTER_API_KEY every API call returns no data, which is useful
for trying the scheduler end to end.

Environment Variables:
  TWITTER_API_KEY              API key (optional)
  TWEETWATCH_CONFIG            YAML config file
  TWEETWATCH_DB_PATH           SQLite database file path
  TWEETWATCH_POLL_INTERVAL     Scheduler poll interval in seconds
  TWEETWATCH_LOG_LEVEL         Log level: debug, info, warn, error`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.ConfigPath, "config", "c", "", "path to YAML config file")
	pf.StringVar(&flags.DBPath, "db", "", "SQLite database file path (default ./tweetwatch.db)")
	pf.IntVar(&flags.Interval, "interval", 0, "scheduler poll interval in seconds (default 60)")
	pf.BoolVar(&flags.Debug, "debug", false, "log to stdout instead of the log file")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tweetwatch %s\n", version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the components shared by every command.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      *store.Store
	client  api.Twitter
	tracker *tracker.Tracker

	logWriter io.Writer
}

// newApp loads configuration, sets up logging and opens the database.
func newApp() (*app, error) {
	cfg, err := config.Load(flags)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logWriter, err := cfg.LogWriter()
	if err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	db, err := store.New(cfg.DBPath)
	if err != nil {
		closeWriter(logWriter)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	logger.Info("Database opened", "path", cfg.DBPath)

	client := api.New(cfg.APIKey, logger,
		api.WithBaseURL(cfg.BaseURL),
		api.WithQPS(cfg.DefaultQPS),
		api.WithRetryPolicy(api.RetryPolicy{
			MaxAttempts:       cfg.MaxAttempts,
			InitialDelay:      cfg.InitialDelay,
			ExponentialFactor: cfg.ExponentialFactor,
			Jitter:            cfg.Jitter,
		}),
	)

	return &app{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		client:    client,
		tracker:   tracker.New(db, logger),
		logWriter: logWriter,
	}, nil
}

// deps returns the collector dependencies built from the app's components.
func (a *app) deps() collector.Deps {
	return collector.Deps{
		Client:    a.client,
		Store:     a.db,
		Logger:    a.logger,
		QueryType: api.QueryType(a.cfg.QueryType),
		BatchSize: a.cfg.BatchSize,
		Filters: processor.Options{
			Languages:       a.cfg.Filters.Languages,
			ExcludeKeywords: a.cfg.Filters.ExcludeKeywords,
			MinTotal:        a.cfg.Filters.MinEngagement,
		},
	}
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Error("Database close error", "error", err)
	}
	closeWriter(a.logWriter)
}

func closeWriter(w io.Writer) {
	if w == os.Stdout {
		return
	}
	if closer, ok := w.(io.Closer); ok {
		closer.Close()
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
