package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Keyword is a search term shared by collections and tagged onto posts.
type Keyword struct {
	ID        string
	Text      string
	Active    bool
	CreatedAt time.Time
}

// User is a stored post author.
type User struct {
	ID              string
	ExternalID      string
	Username        string
	DisplayName     string
	Description     string
	FollowersCount  int
	FollowingCount  int
	Verified        bool
	ProfileImageURL string
	CreatedAt       *time.Time
	RawPayload      map[string]any
	FirstSeenAt     time.Time
	UpdatedAt       time.Time
}

// Post is a stored post.
type Post struct {
	ID           string
	ExternalID   string
	UserID       string
	Text         string
	CreatedAt    time.Time
	RetweetCount int
	LikeCount    int
	ReplyCount   int
	QuoteCount   int
	ViewCount    *int
	Language     string
	Source       string
	RawPayload   map[string]any
	CollectedAt  time.Time
	UpdatedAt    time.Time
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getOrCreateKeyword(ctx context.Context, q querier, text, now string) (*Keyword, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty keyword")
	}
	if _, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO keywords (id, text, active, created_at) VALUES (?, ?, 1, ?)`,
		newID(), text, now,
	); err != nil {
		return nil, err
	}

	var (
		kw        Keyword
		active    int
		createdAt string
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, text, active, created_at FROM keywords WHERE text = ?`, text,
	).Scan(&kw.ID, &kw.Text, &active, &createdAt)
	if err != nil {
		return nil, err
	}
	kw.Active = active != 0
	kw.CreatedAt = parseTime(createdAt)
	return &kw, nil
}

// GetOrCreateKeyword returns the keyword with the given text, creating it if needed.
func (s *Store) GetOrCreateKeyword(ctx context.Context, text string) (*Keyword, error) {
	kw, err := getOrCreateKeyword(ctx, s.db, text, formatTime(s.now()))
	if err != nil {
		return nil, fmt.Errorf("store: keyword %q: %w", text, err)
	}
	return kw, nil
}

func (s *Store) queryKeywords(ctx context.Context, query string, args ...any) ([]Keyword, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Keyword
	for rows.Next() {
		var (
			kw        Keyword
			active    int
			createdAt string
		)
		if err := rows.Scan(&kw.ID, &kw.Text, &active, &createdAt); err != nil {
			return nil, err
		}
		kw.Active = active != 0
		kw.CreatedAt = parseTime(createdAt)
		out = append(out, kw)
	}
	return out, rows.Err()
}

// UpsertUser inserts the user or overwrites every profile field of the row
// with the same external id.
func (s *Store) UpsertUser(ctx context.Context, u *User) (*User, error) {
	if u.ExternalID == "" {
		return nil, errors.New("store: user external id is required")
	}
	raw, err := encodeJSON(u.RawPayload)
	if err != nil {
		return nil, fmt.Errorf("store: encode user payload: %w", err)
	}
	now := formatTime(s.now())

	var id string
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO users (id, external_id, username, display_name, description, followers_count,
			following_count, verified, profile_image_url, created_at, raw_data, first_seen_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(external_id) DO UPDATE SET
			username = excluded.username,
			display_name = excluded.display_name,
			description = excluded.description,
			followers_count = excluded.followers_count,
			following_count = excluded.following_count,
			verified = excluded.verified,
			profile_image_url = excluded.profile_image_url,
			created_at = COALESCE(excluded.created_at, users.created_at),
			raw_data = excluded.raw_data,
			updated_at = excluded.updated_at
		 RETURNING id`,
		newID(), u.ExternalID, u.Username, u.DisplayName, u.Description, u.FollowersCount,
		u.FollowingCount, boolInt(u.Verified), u.ProfileImageURL, formatTimePtr(u.CreatedAt), raw, now, now,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("store: upsert user %s: %w", u.ExternalID, err)
	}
	return s.userByID(ctx, id)
}

// EnsureUser records a post author known only by id and names. An existing
// row keeps its profile data; only non-empty names are refreshed.
func (s *Store) EnsureUser(ctx context.Context, externalID, username, displayName string) (*User, error) {
	if externalID == "" {
		return nil, errors.New("store: user external id is required")
	}
	now := formatTime(s.now())

	var id string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (id, external_id, username, display_name, first_seen_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(external_id) DO UPDATE SET
			username = CASE WHEN excluded.username <> '' THEN excluded.username ELSE users.username END,
			display_name = CASE WHEN excluded.display_name <> '' THEN excluded.display_name ELSE users.display_name END,
			updated_at = excluded.updated_at
		 RETURNING id`,
		newID(), externalID, username, displayName, now, now,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("store: ensure user %s: %w", externalID, err)
	}
	return s.userByID(ctx, id)
}

const userColumns = `id, external_id, username, display_name, description, followers_count, following_count,
	verified, profile_image_url, created_at, raw_data, first_seen_at, updated_at`

func scanUser(row rowScanner) (*User, error) {
	var (
		u                  User
		verified           int
		createdAt          sql.NullString
		raw                string
		firstSeen, updated string
	)
	if err := row.Scan(&u.ID, &u.ExternalID, &u.Username, &u.DisplayName, &u.Description,
		&u.FollowersCount, &u.FollowingCount, &verified, &u.ProfileImageURL, &createdAt, &raw,
		&firstSeen, &updated); err != nil {
		return nil, err
	}
	u.Verified = verified != 0
	u.CreatedAt = parseTimePtr(createdAt)
	u.RawPayload = decodeJSON(raw)
	u.FirstSeenAt = parseTime(firstSeen)
	u.UpdatedAt = parseTime(updated)
	return &u, nil
}

func (s *Store) userByID(ctx context.Context, id string) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("store: query user %s: %w", id, err)
	}
	return u, nil
}

// UserByExternalID returns the user with the given upstream id, or nil.
func (s *Store) UserByExternalID(ctx context.Context, externalID string) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE external_id = ?`, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: query user %s: %w", externalID, err)
	}
	return u, nil
}

// UpsertPost inserts the post or updates the mutable fields (text, counts,
// language, source, payload) of the row with the same external id.
func (s *Store) UpsertPost(ctx context.Context, p *Post) (*Post, error) {
	if p.ExternalID == "" {
		return nil, errors.New("store: post external id is required")
	}
	raw, err := encodeJSON(p.RawPayload)
	if err != nil {
		return nil, fmt.Errorf("store: encode post payload: %w", err)
	}
	now := formatTime(s.now())
	var userID any
	if p.UserID != "" {
		userID = p.UserID
	}
	var views any
	if p.ViewCount != nil {
		views = *p.ViewCount
	}

	var id string
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO posts (id, external_id, user_id, text, created_at, retweet_count, like_count,
			reply_count, quote_count, view_count, language, source, raw_data, collected_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(external_id) DO UPDATE SET
			user_id = COALESCE(excluded.user_id, posts.user_id),
			text = excluded.text,
			retweet_count = excluded.retweet_count,
			like_count = excluded.like_count,
			reply_count = excluded.reply_count,
			quote_count = excluded.quote_count,
			view_count = COALESCE(excluded.view_count, posts.view_count),
			language = excluded.language,
			source = excluded.source,
			raw_data = excluded.raw_data,
			updated_at = excluded.updated_at
		 RETURNING id`,
		newID(), p.ExternalID, userID, p.Text, formatTime(p.CreatedAt), p.RetweetCount, p.LikeCount,
		p.ReplyCount, p.QuoteCount, views, p.Language, p.Source, raw, now, now,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("store: upsert post %s: %w", p.ExternalID, err)
	}
	return s.queryPost(ctx, `WHERE id = ?`, id)
}

const postColumns = `id, external_id, user_id, text, created_at, retweet_count, like_count, reply_count,
	quote_count, view_count, language, source, raw_data, collected_at, updated_at`

func (s *Store) queryPost(ctx context.Context, where string, arg any) (*Post, error) {
	var (
		p                    Post
		userID               sql.NullString
		createdAt            string
		views                sql.NullInt64
		raw                  string
		collected, updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts `+where, arg).Scan(
		&p.ID, &p.ExternalID, &userID, &p.Text, &createdAt, &p.RetweetCount, &p.LikeCount,
		&p.ReplyCount, &p.QuoteCount, &views, &p.Language, &p.Source, &raw, &collected, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: query post: %w", err)
	}
	p.UserID = userID.String
	p.CreatedAt = parseTime(createdAt)
	if views.Valid {
		v := int(views.Int64)
		p.ViewCount = &v
	}
	p.RawPayload = decodeJSON(raw)
	p.CollectedAt = parseTime(collected)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

// PostByExternalID returns the post with the given upstream id, or nil.
func (s *Store) PostByExternalID(ctx context.Context, externalID string) (*Post, error) {
	return s.queryPost(ctx, `WHERE external_id = ?`, externalID)
}

// CountPosts returns the number of stored posts.
func (s *Store) CountPosts(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count posts: %w", err)
	}
	return n, nil
}

// AssociateKeyword tags a post with a keyword. Tagging twice is a no-op.
func (s *Store) AssociateKeyword(ctx context.Context, postID, keywordID string) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO post_keywords (post_id, keyword_id) VALUES (?, ?)`,
		postID, keywordID,
	); err != nil {
		return fmt.Errorf("store: associate keyword: %w", err)
	}
	return nil
}

// PostKeywords returns the keywords a post is tagged with, ordered by text.
func (s *Store) PostKeywords(ctx context.Context, postID string) ([]Keyword, error) {
	kws, err := s.queryKeywords(ctx,
		`SELECT k.id, k.text, k.active, k.created_at
		 FROM keywords k JOIN post_keywords pk ON pk.keyword_id = k.id
		 WHERE pk.post_id = ?
		 ORDER BY k.text`, postID)
	if err != nil {
		return nil, fmt.Errorf("store: query post keywords: %w", err)
	}
	return kws, nil
}
