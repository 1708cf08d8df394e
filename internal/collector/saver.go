package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/onllm-dev/tweetwatch/internal/api"
	"github.com/onllm-dev/tweetwatch/internal/store"
)

// Saver writes API posts to the store: author first, then the post, then
// the keyword association. Writes are upserts, so saving a post twice
// updates it in place.
type Saver struct {
	repo     Repository
	logger   *slog.Logger
	keywords map[string]*store.Keyword
}

// NewSaver creates a Saver.
func NewSaver(repo Repository, logger *slog.Logger) *Saver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Saver{
		repo:     repo,
		logger:   logger,
		keywords: make(map[string]*store.Keyword),
	}
}

// Save stores posts and returns how many were written. A post that fails is
// logged and skipped; an error is returned only when nothing could be saved.
func (s *Saver) Save(ctx context.Context, posts []api.Post) (int, error) {
	return s.SaveWithKeywords(ctx, posts, nil)
}

// SaveWithKeywords is Save, but a post with no keyword tag is associated
// with every keyword in fallback instead of none.
func (s *Saver) SaveWithKeywords(ctx context.Context, posts []api.Post, fallback []string) (int, error) {
	saved := 0
	var errs []error
	for _, p := range posts {
		if err := s.savePost(ctx, p, fallback); err != nil {
			s.logger.Warn("Failed to save post", "post", p.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		saved++
	}
	if saved == 0 && len(errs) > 0 {
		return 0, fmt.Errorf("collector: save failed: %w", errors.Join(errs...))
	}
	return saved, nil
}

func (s *Saver) savePost(ctx context.Context, p api.Post, fallback []string) error {
	var userID string
	if p.AuthorID != "" {
		author, err := s.repo.EnsureUser(ctx, p.AuthorID, p.AuthorUsername, p.AuthorName)
		if err != nil {
			return err
		}
		userID = author.ID
	}

	stored, err := s.repo.UpsertPost(ctx, &store.Post{
		ExternalID:   p.ID,
		UserID:       userID,
		Text:         p.Text,
		CreatedAt:    p.CreatedAt,
		RetweetCount: p.RetweetCount,
		LikeCount:    p.LikeCount,
		ReplyCount:   p.ReplyCount,
		QuoteCount:   p.QuoteCount,
		ViewCount:    p.ViewCount,
		Language:     p.Language,
		Source:       p.Source,
		RawPayload:   p.RawPayload,
	})
	if err != nil {
		return err
	}

	texts := fallback
	if tag := stringParam(p.RawPayload, KeywordTag); tag != "" {
		texts = []string{tag}
	}
	for _, text := range texts {
		kw, err := s.keyword(ctx, text)
		if err != nil {
			return err
		}
		if err := s.repo.AssociateKeyword(ctx, stored.ID, kw.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Saver) keyword(ctx context.Context, text string) (*store.Keyword, error) {
	if kw, ok := s.keywords[text]; ok {
		return kw, nil
	}
	kw, err := s.repo.GetOrCreateKeyword(ctx, text)
	if err != nil {
		return nil, err
	}
	s.keywords[text] = kw
	return kw, nil
}

// SaveProfile upserts a full user profile. Placeholder users are ignored.
func (s *Saver) SaveProfile(ctx context.Context, u *api.User) (*store.User, error) {
	if u == nil || u.ID == "" {
		return nil, nil
	}
	createdAt := u.CreatedAt
	return s.repo.UpsertUser(ctx, &store.User{
		ExternalID:      u.ID,
		Username:        u.Username,
		DisplayName:     u.DisplayName,
		Description:     u.Description,
		FollowersCount:  u.FollowersCount,
		FollowingCount:  u.FollowingCount,
		Verified:        u.Verified,
		ProfileImageURL: u.ProfileImageURL,
		CreatedAt:       &createdAt,
		RawPayload:      u.RawPayload,
	})
}
