package processor

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/onllm-dev/tweetwatch/internal/api"
)

// Pipeline runs posts through its filters in order. A nil Pipeline keeps
// everything.
type Pipeline struct {
	filters []Filter
	logger  *slog.Logger
}

// NewPipeline creates a Pipeline from filters.
func NewPipeline(logger *slog.Logger, filters ...Filter) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{filters: filters, logger: logger}
}

// Add appends a filter.
func (p *Pipeline) Add(f Filter) {
	p.filters = append(p.filters, f)
}

// Len returns the number of filters.
func (p *Pipeline) Len() int {
	if p == nil {
		return 0
	}
	return len(p.filters)
}

// Accept reports whether post passes every filter. A filter that errors is
// logged and treated as passing.
func (p *Pipeline) Accept(post api.Post) bool {
	if p == nil {
		return true
	}
	for _, f := range p.filters {
		ok, err := f.Apply(post)
		if err != nil {
			p.logger.Error("Filter failed, keeping post", "filter", f.Name(), "post", post.ID, "error", err)
			continue
		}
		if !ok {
			p.logger.Debug("Post filtered", "filter", f.Name(), "post", post.ID)
			return false
		}
	}
	return true
}

// Filter returns the posts that pass, in their original order.
func (p *Pipeline) Filter(posts []api.Post) []api.Post {
	if p.Len() == 0 {
		return posts
	}
	kept := make([]api.Post, 0, len(posts))
	for _, post := range posts {
		if p.Accept(post) {
			kept = append(kept, post)
		}
	}
	if dropped := len(posts) - len(kept); dropped > 0 {
		p.logger.Info("Posts filtered", "kept", len(kept), "dropped", dropped)
	}
	return kept
}

// Options configures the standard filters. Zero values disable a check.
type Options struct {
	Languages       []string `json:"languages,omitempty"`
	IncludeKeywords []string `json:"include_keywords,omitempty"`
	ExcludeKeywords []string `json:"exclude_keywords,omitempty"`
	MinLikes        int      `json:"min_likes,omitempty"`
	MinRetweets     int      `json:"min_retweets,omitempty"`
	MinReplies      int      `json:"min_replies,omitempty"`
	MinQuotes       int      `json:"min_quotes,omitempty"`
	MinTotal        int      `json:"min_total,omitempty"`
}

// New builds a Pipeline holding only the filters opts turns on.
func New(opts Options, logger *slog.Logger) (*Pipeline, error) {
	p := NewPipeline(logger)
	if len(opts.Languages) > 0 {
		p.Add(NewLanguageFilter(opts.Languages))
	}
	if len(opts.IncludeKeywords) > 0 || len(opts.ExcludeKeywords) > 0 {
		kf, err := NewKeywordFilter(opts.IncludeKeywords, opts.ExcludeKeywords)
		if err != nil {
			return nil, err
		}
		p.Add(kf)
	}
	ef := &EngagementFilter{
		MinLikes:    opts.MinLikes,
		MinRetweets: opts.MinRetweets,
		MinReplies:  opts.MinReplies,
		MinQuotes:   opts.MinQuotes,
		MinTotal:    opts.MinTotal,
	}
	if ef.active() {
		p.Add(ef)
	}
	return p, nil
}

// jobFilters mirrors parameters.filters; nil fields fall back to defaults.
type jobFilters struct {
	Languages       *[]string `json:"languages"`
	IncludeKeywords *[]string `json:"include_keywords"`
	ExcludeKeywords *[]string `json:"exclude_keywords"`
	MinLikes        *int      `json:"min_likes"`
	MinRetweets     *int      `json:"min_retweets"`
	MinReplies      *int      `json:"min_replies"`
	MinQuotes       *int      `json:"min_quotes"`
	MinTotal        *int      `json:"min_total"`
}

// OptionsFromParams overlays a job's parameters.filters on defaults. Keys
// the job sets replace the default for that key only.
func OptionsFromParams(params map[string]any, defaults Options) (Options, error) {
	raw, ok := params["filters"]
	if !ok || raw == nil {
		return defaults, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return defaults, fmt.Errorf("processor: filters: %w", err)
	}
	var jf jobFilters
	if err := json.Unmarshal(data, &jf); err != nil {
		return defaults, fmt.Errorf("processor: invalid filters %s: %w", data, err)
	}

	opts := defaults
	if jf.Languages != nil {
		opts.Languages = *jf.Languages
	}
	if jf.IncludeKeywords != nil {
		opts.IncludeKeywords = *jf.IncludeKeywords
	}
	if jf.ExcludeKeywords != nil {
		opts.ExcludeKeywords = *jf.ExcludeKeywords
	}
	for _, v := range []struct {
		src *int
		dst *int
	}{
		{jf.MinLikes, &opts.MinLikes},
		{jf.MinRetweets, &opts.MinRetweets},
		{jf.MinReplies, &opts.MinReplies},
		{jf.MinQuotes, &opts.MinQuotes},
		{jf.MinTotal, &opts.MinTotal},
	} {
		if v.src == nil {
			continue
		}
		if *v.src < 0 {
			return defaults, fmt.Errorf("processor: filter minimums must not be negative")
		}
		*v.dst = *v.src
	}
	return opts, nil
}
