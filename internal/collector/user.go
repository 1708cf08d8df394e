package collector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/onllm-dev/tweetwatch/internal/api"
	"github.com/onllm-dev/tweetwatch/internal/store"
)

// UserCollector follows one account's timeline.
type UserCollector struct {
	client  api.Twitter
	repo    Repository
	logger  *slog.Logger
	saver   *Saver
	jobID   string
	profile *api.User
	cursor  string
}

// NewUserCollector creates a collector for a user job. The job's parameters
// carry username, include_replies and cursor.
func NewUserCollector(deps Deps, jobID string) *UserCollector {
	logger := deps.logger()
	return &UserCollector{
		client: deps.Client,
		repo:   deps.Store,
		logger: logger,
		saver:  NewSaver(deps.Store, logger),
		jobID:  jobID,
	}
}

// Collect resolves the username to an account and fetches its latest posts.
func (u *UserCollector) Collect(ctx context.Context) ([]api.Post, error) {
	job, err := loadJob(ctx, u.repo, u.jobID, store.TypeUser)
	if err != nil {
		return nil, err
	}
	username := stringParam(job.Parameters, "username")
	if username == "" {
		return nil, fmt.Errorf("%w: username (job %s)", ErrMissingParameter, job.ID)
	}

	user, err := u.client.UserInfo(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("user info %s: %w", username, err)
	}
	u.profile = user
	if user.ID == "" {
		u.logger.Warn("User unresolved, skipping timeline", "job", job.ID, "username", username)
		return nil, nil
	}

	posts, err := u.client.UserTweets(ctx, user.ID, boolParam(job.Parameters, "include_replies"), stringParam(job.Parameters, "cursor"))
	if err != nil {
		return nil, fmt.Errorf("user tweets %s: %w", username, err)
	}
	for i := range posts {
		if posts[i].AuthorID == "" {
			posts[i].AuthorID = user.ID
			posts[i].AuthorUsername = user.Username
			posts[i].AuthorName = user.DisplayName
		}
	}
	u.cursor = cursorOf(posts)
	u.logger.Info("User timeline fetched", "job", job.ID, "username", username, "posts", len(posts))
	return posts, nil
}

// Save stores the profile, then the posts, then the newest cursor seen by
// Collect.
func (u *UserCollector) Save(ctx context.Context, posts []api.Post) (int, error) {
	if _, err := u.saver.SaveProfile(ctx, u.profile); err != nil {
		u.logger.Error("Failed to save user profile", "job", u.jobID, "error", err)
	}
	saved, err := u.saver.Save(ctx, posts)
	if err != nil {
		return saved, err
	}
	cursor := u.cursor
	if cursor == "" {
		cursor = cursorOf(posts)
	}
	if err := persistCursor(ctx, u.repo, u.logger, u.jobID, cursor); err != nil {
		u.logger.Error("Failed to save cursor", "job", u.jobID, "error", err)
	}
	return saved, nil
}
