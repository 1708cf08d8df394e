// Package processor decides which collected posts are worth storing.
package processor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/onllm-dev/tweetwatch/internal/api"
)

// Filter reports whether a post should be kept. An error means the filter
// could not decide.
type Filter interface {
	Name() string
	Apply(p api.Post) (bool, error)
}

// LanguageFilter keeps posts in one of the allowed languages. Posts with no
// language, and every post when no language is configured, are kept.
type LanguageFilter struct {
	allowed map[string]bool
}

// NewLanguageFilter creates a LanguageFilter.
func NewLanguageFilter(languages []string) *LanguageFilter {
	allowed := make(map[string]bool, len(languages))
	for _, lang := range languages {
		if lang = strings.TrimSpace(lang); lang != "" {
			allowed[lang] = true
		}
	}
	return &LanguageFilter{allowed: allowed}
}

func (f *LanguageFilter) Name() string { return "language" }

func (f *LanguageFilter) Apply(p api.Post) (bool, error) {
	if len(f.allowed) == 0 || p.Language == "" {
		return true, nil
	}
	return f.allowed[p.Language], nil
}

// KeywordFilter matches whole words, ignoring case. A post must contain at
// least one include word (when any are set) and none of the exclude words.
type KeywordFilter struct {
	include []*regexp.Regexp
	exclude []*regexp.Regexp
}

// NewKeywordFilter compiles the include and exclude word lists.
func NewKeywordFilter(include, exclude []string) (*KeywordFilter, error) {
	inc, err := wordPatterns(include)
	if err != nil {
		return nil, err
	}
	exc, err := wordPatterns(exclude)
	if err != nil {
		return nil, err
	}
	return &KeywordFilter{include: inc, exclude: exc}, nil
}

// wordPatterns builds one case-insensitive whole-word pattern per keyword.
// Boundaries are any non letter/digit rune so non-Latin scripts match too.
func wordPatterns(words []string) ([]*regexp.Regexp, error) {
	var out []*regexp.Regexp
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)(?:^|[^\p{L}\p{N}_])` + regexp.QuoteMeta(w) + `(?:$|[^\p{L}\p{N}_])`)
		if err != nil {
			return nil, fmt.Errorf("processor: keyword %q: %w", w, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func (f *KeywordFilter) Name() string { return "keyword" }

func (f *KeywordFilter) Apply(p api.Post) (bool, error) {
	if len(f.include) > 0 && !matchAny(f.include, p.Text) {
		return false, nil
	}
	if matchAny(f.exclude, p.Text) {
		return false, nil
	}
	return true, nil
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// EngagementFilter keeps posts that reach every per-count minimum and the
// minimum total of likes, retweets, replies and quotes.
type EngagementFilter struct {
	MinLikes    int
	MinRetweets int
	MinReplies  int
	MinQuotes   int
	MinTotal    int
}

func (f *EngagementFilter) Name() string { return "engagement" }

func (f *EngagementFilter) Apply(p api.Post) (bool, error) {
	switch {
	case p.LikeCount < f.MinLikes,
		p.RetweetCount < f.MinRetweets,
		p.ReplyCount < f.MinReplies,
		p.QuoteCount < f.MinQuotes:
		return false, nil
	}
	total := p.LikeCount + p.RetweetCount + p.ReplyCount + p.QuoteCount
	return total >= f.MinTotal, nil
}

func (f *EngagementFilter) active() bool {
	return f.MinLikes > 0 || f.MinRetweets > 0 || f.MinReplies > 0 || f.MinQuotes > 0 || f.MinTotal > 0
}
