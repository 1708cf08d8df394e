// Package store persists collection jobs, keywords, users and posts in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS collections (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	type             TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'active',
	interval_seconds INTEGER NOT NULL,
	parameters       TEXT NOT NULL DEFAULT '{}',
	last_run_at      TEXT,
	next_run_at      TEXT,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_collections_due ON collections(status, next_run_at);

CREATE TABLE IF NOT EXISTS keywords (
	id         TEXT PRIMARY KEY,
	text       TEXT NOT NULL UNIQUE,
	active     INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS collection_keywords (
	collection_id TEXT NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
	keyword_id    TEXT NOT NULL REFERENCES keywords(id) ON DELETE CASCADE,
	PRIMARY KEY (collection_id, keyword_id)
);

CREATE TABLE IF NOT EXISTS users (
	id                TEXT PRIMARY KEY,
	external_id       TEXT NOT NULL UNIQUE,
	username          TEXT NOT NULL DEFAULT '',
	display_name      TEXT NOT NULL DEFAULT '',
	description       TEXT NOT NULL DEFAULT '',
	followers_count   INTEGER NOT NULL DEFAULT 0,
	following_count   INTEGER NOT NULL DEFAULT 0,
	verified          INTEGER NOT NULL DEFAULT 0,
	profile_image_url TEXT NOT NULL DEFAULT '',
	created_at        TEXT,
	raw_data          TEXT NOT NULL DEFAULT '{}',
	first_seen_at     TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS posts (
	id            TEXT PRIMARY KEY,
	external_id   TEXT NOT NULL UNIQUE,
	user_id       TEXT REFERENCES users(id),
	text          TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL,
	retweet_count INTEGER NOT NULL DEFAULT 0,
	like_count    INTEGER NOT NULL DEFAULT 0,
	reply_count   INTEGER NOT NULL DEFAULT 0,
	quote_count   INTEGER NOT NULL DEFAULT 0,
	view_count    INTEGER,
	language      TEXT NOT NULL DEFAULT '',
	source        TEXT NOT NULL DEFAULT '',
	raw_data      TEXT NOT NULL DEFAULT '{}',
	collected_at  TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_posts_user ON posts(user_id);

CREATE TABLE IF NOT EXISTS post_keywords (
	post_id    TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
	keyword_id TEXT NOT NULL REFERENCES keywords(id) ON DELETE CASCADE,
	PRIMARY KEY (post_id, keyword_id)
);
`

// Store is the SQLite-backed persistence layer.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens (creating if needed) the database at path and applies the schema.
// Pass ":memory:" for a throwaway database.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetClock overrides the clock used for bookkeeping timestamps.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func newID() string {
	return uuid.NewString()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func encodeJSON(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeJSON(s string) map[string]any {
	m := map[string]any{}
	if strings.TrimSpace(s) == "" {
		return m
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// withTx runs fn inside a transaction, committing on success.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
