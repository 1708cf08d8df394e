package collector

import (
	"context"
	"log/slog"
	"strings"

	"github.com/onllm-dev/tweetwatch/internal/api"
	"github.com/onllm-dev/tweetwatch/internal/store"
)

// KeywordCollector searches for each of a job's keywords in turn.
type KeywordCollector struct {
	client    api.Twitter
	repo      Repository
	logger    *slog.Logger
	saver     *Saver
	jobID     string
	keywords  []string
	queryType api.QueryType

	// set by Collect
	searched []string
	cursor   string
}

// NewKeywordCollector creates a collector that reads its keywords, query
// type and cursor from the job.
func NewKeywordCollector(deps Deps, jobID string) *KeywordCollector {
	logger := deps.logger()
	return &KeywordCollector{
		client:    deps.Client,
		repo:      deps.Store,
		logger:    logger,
		saver:     NewSaver(deps.Store, logger),
		jobID:     jobID,
		queryType: deps.QueryType,
	}
}

// NewKeywordSearch creates a collector for an explicit keyword list, not
// bound to any job.
func NewKeywordSearch(deps Deps, keywords []string, queryType api.QueryType) *KeywordCollector {
	k := NewKeywordCollector(deps, "")
	for _, kw := range keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			k.keywords = append(k.keywords, kw)
		}
	}
	if queryType.Valid() {
		k.queryType = queryType
	}
	return k
}

// Collect runs one search per keyword. A failing keyword is logged and
// skipped so the others still contribute results.
func (k *KeywordCollector) Collect(ctx context.Context) ([]api.Post, error) {
	keywords := k.keywords
	queryType := k.queryType
	cursor := ""

	if len(keywords) == 0 && k.jobID != "" {
		job, err := loadJob(ctx, k.repo, k.jobID, store.TypeKeyword)
		if err != nil {
			return nil, err
		}
		kws, err := k.repo.CollectionKeywords(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		for _, kw := range kws {
			if kw.Active {
				keywords = append(keywords, kw.Text)
			}
		}
		if qt := api.QueryType(stringParam(job.Parameters, "query_type")); qt.Valid() {
			queryType = qt
		}
		cursor = stringParam(job.Parameters, "cursor")
	}
	if !queryType.Valid() {
		queryType = api.QueryLatest
	}

	if len(keywords) == 0 {
		k.logger.Warn("No keywords to search", "job", k.jobID)
		return nil, nil
	}

	k.searched = keywords
	var posts []api.Post
	for _, kw := range keywords {
		found, err := k.client.Search(ctx, api.SearchParameters{
			Query:     kw,
			QueryType: queryType,
			Cursor:    cursor,
		})
		if err != nil {
			k.logger.Error("Keyword search failed", "job", k.jobID, "keyword", kw, "error", err)
			continue
		}
		for i := range found {
			if found[i].RawPayload == nil {
				found[i].RawPayload = map[string]any{}
			}
			found[i].RawPayload[KeywordTag] = kw
		}
		k.logger.Info("Keyword searched", "job", k.jobID, "keyword", kw, "posts", len(found))
		posts = append(posts, found...)
	}
	k.cursor = cursorOf(posts)
	return posts, nil
}

// Save stores the posts and, for a job, records the newest cursor seen by
// Collect, even when the post carrying it was filtered out. Posts without a
// keyword tag are linked to every keyword Collect searched.
func (k *KeywordCollector) Save(ctx context.Context, posts []api.Post) (int, error) {
	saved, err := k.saver.SaveWithKeywords(ctx, posts, k.searched)
	if err != nil {
		return saved, err
	}
	cursor := k.cursor
	if cursor == "" {
		cursor = cursorOf(posts)
	}
	if k.jobID != "" {
		if err := persistCursor(ctx, k.repo, k.logger, k.jobID, cursor); err != nil {
			k.logger.Error("Failed to save cursor", "job", k.jobID, "error", err)
		}
	}
	return saved, nil
}

// CollectKeywords searches an explicit keyword list once and saves the results.
func CollectKeywords(ctx context.Context, deps Deps, keywords []string, queryType api.QueryType) (collected, saved int, err error) {
	filter, err := PipelineFor(deps, nil)
	if err != nil {
		return 0, 0, err
	}
	return Run(ctx, NewKeywordSearch(deps, keywords, queryType), filter)
}
