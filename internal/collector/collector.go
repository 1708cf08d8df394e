// Package collector turns collection jobs into API calls and persists the
// posts they return.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/onllm-dev/tweetwatch/internal/api"
	"github.com/onllm-dev/tweetwatch/internal/processor"
	"github.com/onllm-dev/tweetwatch/internal/store"
)

var (
	ErrJobNotFound      = errors.New("collector: job not found")
	ErrWrongJobType     = errors.New("collector: wrong job type")
	ErrNoCollector      = errors.New("collector: no collector for job type")
	ErrMissingParameter = errors.New("collector: missing job parameter")
)

// KeywordTag is the raw payload key holding the keyword that matched a post.
const KeywordTag = "collected_keyword"

// Collector fetches posts for one job and saves them.
type Collector interface {
	Collect(ctx context.Context) ([]api.Post, error)
	Save(ctx context.Context, posts []api.Post) (int, error)
}

// Repository is the persistence a collector needs. *store.Store satisfies it.
type Repository interface {
	Collection(ctx context.Context, id string) (*store.Collection, error)
	UpdateCollection(ctx context.Context, id string, upd store.CollectionUpdate) (*store.Collection, error)
	CollectionKeywords(ctx context.Context, collectionID string) ([]store.Keyword, error)
	GetOrCreateKeyword(ctx context.Context, text string) (*store.Keyword, error)
	UpsertUser(ctx context.Context, u *store.User) (*store.User, error)
	EnsureUser(ctx context.Context, externalID, username, displayName string) (*store.User, error)
	UpsertPost(ctx context.Context, p *store.Post) (*store.Post, error)
	AssociateKeyword(ctx context.Context, postID, keywordID string) error
}

// Deps bundles what every collector is built from.
type Deps struct {
	Client    api.Twitter
	Store     Repository
	Logger    *slog.Logger
	QueryType api.QueryType     // used when a job does not set query_type
	BatchSize int               // ids per lookup request
	Filters   processor.Options // used for keys a job's parameters.filters omits
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// Factory builds a collector bound to a job id.
type Factory func(deps Deps, jobID string) Collector

var registry = map[store.CollectionType]Factory{
	store.TypeKeyword: func(deps Deps, jobID string) Collector { return NewKeywordCollector(deps, jobID) },
	store.TypeUser:    func(deps Deps, jobID string) Collector { return NewUserCollector(deps, jobID) },
}

// Lookup returns the factory registered for a job type.
func Lookup(t store.CollectionType) (Factory, bool) {
	f, ok := registry[t]
	return f, ok
}

// Types lists the job types that have a collector, sorted.
func Types() []store.CollectionType {
	types := make([]store.CollectionType, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// ForJob builds the collector for job.
func ForJob(deps Deps, job *store.Collection) (Collector, error) {
	f, ok := Lookup(job.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoCollector, job.Type)
	}
	return f(deps, job.ID), nil
}

// PipelineFor builds the filter pipeline for a job from its
// parameters.filters over the configured defaults. A nil job gets the
// defaults alone.
func PipelineFor(deps Deps, job *store.Collection) (*processor.Pipeline, error) {
	opts := deps.Filters
	if job != nil {
		var err error
		if opts, err = processor.OptionsFromParams(job.Parameters, deps.Filters); err != nil {
			return nil, fmt.Errorf("job %s: %w", job.ID, err)
		}
	}
	return processor.New(opts, deps.logger())
}

// Run performs one collect, filter and save cycle. collected counts posts
// before filtering. A nil filter keeps everything.
func Run(ctx context.Context, c Collector, filter *processor.Pipeline) (collected, saved int, err error) {
	posts, err := c.Collect(ctx)
	if err != nil {
		return 0, 0, err
	}
	saved, err = c.Save(ctx, filter.Filter(posts))
	return len(posts), saved, err
}

// loadJob fetches a job and checks its type.
func loadJob(ctx context.Context, repo Repository, id string, want store.CollectionType) (*store.Collection, error) {
	job, err := repo.Collection(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if job.Type != want {
		return nil, fmt.Errorf("%w: job %s is %q, want %q", ErrWrongJobType, id, job.Type, want)
	}
	return job, nil
}

func stringParam(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

func boolParam(params map[string]any, key string) bool {
	b, _ := params[key].(bool)
	return b
}

// cursorOf returns the cursor carried by the last post, if any.
func cursorOf(posts []api.Post) string {
	if len(posts) == 0 {
		return ""
	}
	return stringParam(posts[len(posts)-1].RawPayload, "cursor")
}

// persistCursor stores cursor in the job so the next run resumes from it.
// Nothing is written for an empty cursor.
func persistCursor(ctx context.Context, repo Repository, logger *slog.Logger, jobID, cursor string) error {
	if cursor == "" {
		return nil
	}
	job, err := repo.Collection(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	params := job.Parameters
	if params == nil {
		params = map[string]any{}
	}
	params["cursor"] = cursor
	if _, err := repo.UpdateCollection(ctx, jobID, store.CollectionUpdate{Parameters: params}); err != nil {
		return err
	}
	logger.Debug("Cursor saved", "job", jobID, "cursor", cursor)
	return nil
}
