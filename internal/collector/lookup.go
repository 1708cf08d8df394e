package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const defaultBatchSize = 100

// LookupTweets fetches posts by id in batches and saves them. A failed batch
// is logged and the remaining batches still run; the failures are returned
// joined together.
func LookupTweets(ctx context.Context, deps Deps, ids []string) (collected, saved int, err error) {
	logger := deps.logger()
	saver := NewSaver(deps.Store, logger)

	var errs []error
	for i, batch := range batches(uniqueIDs(ids), deps.BatchSize) {
		posts, err := deps.Client.TweetsByIDs(ctx, batch)
		if err != nil {
			logger.Error("Tweet lookup failed", "batch", i, "count", len(batch), "error", err)
			errs = append(errs, fmt.Errorf("batch %d: %w", i, err))
			continue
		}
		n, err := saver.Save(ctx, posts)
		collected += len(posts)
		saved += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return collected, saved, errors.Join(errs...)
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// batches splits ids into groups of at most size.
func batches(ids []string, size int) [][]string {
	if size <= 0 {
		size = defaultBatchSize
	}
	var out [][]string
	for start := 0; start < len(ids); start += size {
		out = append(out, ids[start:min(start+size, len(ids))])
	}
	return out
}
