package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// createdAtLayout is the timestamp format used by the API ("Tue Dec 10 07:00:30 +0000 2024").
const createdAtLayout = time.RubyDate

// decodeEnvelope unwraps the response envelope. Anything other than a
// well-formed envelope with status "success" is an invalid response.
func decodeEnvelope(endpoint string, body []byte) (json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &Error{Kind: ErrInvalidResponse, Endpoint: endpoint, Body: string(body), Cause: err}
	}
	if env.Status != "success" {
		msg := env.Msg
		if msg == "" {
			msg = "unknown error"
		}
		return nil, &Error{
			Kind:     ErrInvalidResponse,
			Endpoint: endpoint,
			Body:     string(body),
			Cause:    fmt.Errorf("status %q: %s", env.Status, msg),
		}
	}
	return env.Data, nil
}

// parseTweetList decodes a {"list": [...]} payload. Records that fail
// validation are skipped and logged.
func (c *Client) parseTweetList(endpoint string, data json.RawMessage) ([]Post, error) {
	var tl tweetList
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &tl); err != nil {
			return nil, &Error{Kind: ErrInvalidResponse, Endpoint: endpoint, Cause: err}
		}
	}
	return c.parseTweets(endpoint, tl.List), nil
}

// parseTweetArray decodes a bare [...] payload.
func (c *Client) parseTweetArray(endpoint string, data json.RawMessage) ([]Post, error) {
	var list []json.RawMessage
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, &Error{Kind: ErrInvalidResponse, Endpoint: endpoint, Cause: err}
		}
	}
	return c.parseTweets(endpoint, list), nil
}

func (c *Client) parseTweets(endpoint string, list []json.RawMessage) []Post {
	posts := make([]Post, 0, len(list))
	for i, raw := range list {
		post, err := c.parseTweet(raw)
		if err != nil {
			c.logger.Warn("Skipping tweet record",
				"endpoint", endpoint,
				"index", i,
				"error", err,
			)
			continue
		}
		posts = append(posts, post)
	}
	return posts
}

// parseTweet maps one wire record into a Post.
func (c *Client) parseTweet(raw json.RawMessage) (Post, error) {
	var wt wireTweet
	if err := json.Unmarshal(raw, &wt); err != nil {
		return Post{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Post{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if wt.ID == "" {
		return Post{}, fmt.Errorf("%w: tweet without id", ErrValidation)
	}

	return Post{
		ID:             wt.ID,
		Text:           wt.Text,
		CreatedAt:      c.parseTime(wt.CreatedAt, "tweet", wt.ID),
		AuthorID:       wt.Author.ID,
		AuthorUsername: wt.Author.UserName,
		AuthorName:     wt.Author.Name,
		RetweetCount:   wt.RetweetCount,
		LikeCount:      wt.LikeCount,
		ReplyCount:     wt.ReplyCount,
		QuoteCount:     wt.QuoteCount,
		ViewCount:      wt.ViewCount,
		Language:       wt.Lang,
		Source:         wt.Source,
		RawPayload:     payload,
	}, nil
}

// parseUser maps a user payload into a User.
func (c *Client) parseUser(endpoint string, data json.RawMessage) (*User, error) {
	var wu wireUser
	if err := json.Unmarshal(data, &wu); err != nil {
		return nil, &Error{Kind: ErrInvalidResponse, Endpoint: endpoint, Cause: errors.Join(ErrValidation, err)}
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &Error{Kind: ErrInvalidResponse, Endpoint: endpoint, Cause: err}
	}

	return &User{
		ID:              wu.ID,
		Username:        wu.UserName,
		DisplayName:     wu.Name,
		Description:     wu.Description,
		FollowersCount:  wu.Followers,
		FollowingCount:  wu.Following,
		CreatedAt:       c.parseTime(wu.CreatedAt, "user", wu.ID),
		Verified:        wu.IsBlueVerified,
		ProfileImageURL: wu.ProfilePicture,
		RawPayload:      payload,
	}, nil
}

// parseTime parses an API timestamp, falling back to the current time so a
// bad date never drops the record.
func (c *Client) parseTime(value, kind, id string) time.Time {
	if value == "" {
		return c.now().UTC()
	}
	t, err := time.Parse(createdAtLayout, value)
	if err != nil {
		c.logger.Warn("Invalid createdAt, using current time",
			"kind", kind,
			"id", id,
			"value", value,
		)
		return c.now().UTC()
	}
	return t.UTC()
}
