package api

import (
	"context"
	"log/slog"
	"time"
)

// NoopClient stands in for Client when no API key is configured. Every
// operation returns an empty result without touching the network, so jobs
// still run end to end.
type NoopClient struct {
	logger *slog.Logger
}

// NewNoopClient creates a NoopClient.
func NewNoopClient(logger *slog.Logger) *NoopClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopClient{logger: logger}
}

// Search returns no posts.
func (n *NoopClient) Search(_ context.Context, params SearchParameters) ([]Post, error) {
	n.logger.Warn("No-op client: search skipped", "query", params.Query)
	return []Post{}, nil
}

// UserInfo returns a placeholder user with an empty ID.
func (n *NoopClient) UserInfo(_ context.Context, username string) (*User, error) {
	n.logger.Warn("No-op client: user info skipped", "username", username)
	return &User{
		Username:    username,
		DisplayName: username,
		CreatedAt:   time.Now().UTC(),
		RawPayload:  map[string]any{},
	}, nil
}

// UserTweets returns no posts.
func (n *NoopClient) UserTweets(_ context.Context, userID string, _ bool, _ string) ([]Post, error) {
	n.logger.Warn("No-op client: user tweets skipped", "user_id", userID)
	return []Post{}, nil
}

// TweetsByIDs returns no posts.
func (n *NoopClient) TweetsByIDs(_ context.Context, ids []string) ([]Post, error) {
	n.logger.Warn("No-op client: tweet lookup skipped", "ids", len(ids))
	return []Post{}, nil
}
