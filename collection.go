package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/onllm-dev/tweetwatch/internal/collector"
	"github.com/onllm-dev/tweetwatch/internal/config"
	"github.com/onllm-dev/tweetwatch/internal/store"
	"github.com/onllm-dev/tweetwatch/internal/tracker"
)

var addOpts struct {
	name           string
	description    string
	typ            string
	interval       int
	keywords       []string
	username       string
	includeReplies bool
	queryType      string
}

var collectionCmd = &cobra.Command{
	Use:   "collection",
	Short: "Manage collection jobs",
}

var collectionAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a collection job",
	Long: `Create a collection job. A new job runs on the scheduler's next tick.

Examples:
  tweetwatch collection add --name go --type keyword --keyword golang --keyword gopher
  tweetwatch collection add --name nasa --type user --username NASA --every 900`,
	Args: cobra.NoArgs,
	RunE: runCollectionAdd,
}

var collectionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List collection jobs",
	Args:  cobra.NoArgs,
	RunE:  runCollectionList,
}

var collectionPauseCmd = &cobra.Command{
	Use:   "pause ID",
	Short: "Stop scheduling a collection job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setCollectionStatus(cmd, args[0], store.StatusPaused)
	},
}

var collectionResumeCmd = &cobra.Command{
	Use:   "resume ID",
	Short: "Resume scheduling a paused collection job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setCollectionStatus(cmd, args[0], store.StatusActive)
	},
}

func init() {
	f := collectionAddCmd.Flags()
	f.StringVar(&addOpts.name, "name", "", "collection name (required)")
	f.StringVar(&addOpts.description, "description", "", "free-form description")
	f.StringVar(&addOpts.typ, "type", string(store.TypeKeyword), "job type: keyword or user")
	f.IntVar(&addOpts.interval, "every", 0, "run interval in seconds (default from config)")
	f.StringArrayVar(&addOpts.keywords, "keyword", nil, "keyword to search, repeatable")
	f.StringVar(&addOpts.username, "username", "", "account to follow for user jobs")
	f.BoolVar(&addOpts.includeReplies, "include-replies", false, "include replies for user jobs")
	f.StringVar(&addOpts.queryType, "query-type", "", "Latest or Top for keyword jobs")
	_ = collectionAddCmd.MarkFlagRequired("name")

	collectionCmd.AddCommand(collectionAddCmd, collectionListCmd, collectionPauseCmd, collectionResumeCmd)
	rootCmd.AddCommand(collectionCmd)
}

// buildCollection validates the add flags and turns them into a job.
func buildCollection(defaultInterval time.Duration) (store.NewCollection, error) {
	nc := store.NewCollection{
		Name:            addOpts.name,
		Description:     addOpts.description,
		Type:            store.CollectionType(addOpts.typ),
		IntervalSeconds: addOpts.interval,
		Parameters:      map[string]any{},
	}
	if nc.IntervalSeconds == 0 {
		nc.IntervalSeconds = int(defaultInterval / time.Second)
	}
	iv := time.Duration(nc.IntervalSeconds) * time.Second
	if iv < config.MinCollectionInterval || iv > config.MaxCollectionInterval {
		return nc, fmt.Errorf("interval must be between %v and %v", config.MinCollectionInterval, config.MaxCollectionInterval)
	}

	if _, ok := collector.Lookup(nc.Type); !ok {
		return nc, fmt.Errorf("unsupported collection type %q (supported: %v)", addOpts.typ, collector.Types())
	}

	switch nc.Type {
	case store.TypeKeyword:
		if len(addOpts.keywords) == 0 {
			return nc, fmt.Errorf("keyword collections need at least one --keyword")
		}
		nc.Keywords = addOpts.keywords
		if addOpts.queryType != "" {
			if addOpts.queryType != "Latest" && addOpts.queryType != "Top" {
				return nc, fmt.Errorf("invalid query type %q: must be Latest or Top", addOpts.queryType)
			}
			nc.Parameters["query_type"] = addOpts.queryType
		}
	case store.TypeUser:
		if addOpts.username == "" {
			return nc, fmt.Errorf("user collections need --username")
		}
		nc.Parameters["username"] = addOpts.username
		nc.Parameters["include_replies"] = addOpts.includeReplies
	}
	return nc, nil
}

func runCollectionAdd(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	nc, err := buildCollection(a.cfg.DefaultInterval)
	if err != nil {
		return err
	}
	job, err := a.db.CreateCollection(context.Background(), nc)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	a.logger.Info("Collection created", "id", job.ID, "name", job.Name, "type", job.Type)
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s collection %q (%s)\n", job.Type, job.Name, job.ID)
	return nil
}

func runCollectionList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	jobs, err := a.db.ListCollections(ctx)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No collections")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tSTATUS\tINTERVAL\tRUNS\tSAVED\tNEXT RUN")
	for _, job := range jobs {
		stats := tracker.StatsOf(job)
		next := "now"
		if job.NextRunAt != nil {
			next = job.NextRunAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\t%d\t%d\t%s\n",
			job.ID, job.Name, job.Type, job.Status, job.Interval(), stats.RunCount, stats.TotalSaved, next)
	}
	return w.Flush()
}

func setCollectionStatus(cmd *cobra.Command, id string, status store.CollectionStatus) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	job, err := a.db.UpdateCollection(context.Background(), id, store.CollectionUpdate{Status: &status})
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("collection %s not found", id)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Collection %q is now %s\n", job.Name, job.Status)
	return nil
}
