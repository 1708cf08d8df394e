package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CollectionStatus is the lifecycle state of a collection job.
type CollectionStatus string

const (
	StatusActive    CollectionStatus = "active"
	StatusPaused    CollectionStatus = "paused"
	StatusCompleted CollectionStatus = "completed"
)

// Valid reports whether s is a known status.
func (s CollectionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusCompleted:
		return true
	}
	return false
}

// CollectionType selects the collector that runs a job.
type CollectionType string

const (
	TypeKeyword CollectionType = "keyword"
	TypeUser    CollectionType = "user"
	TypeTopic   CollectionType = "topic"
)

// Collection is a persisted recurring polling job.
type Collection struct {
	ID              string
	Name            string
	Description     string
	Type            CollectionType
	Status          CollectionStatus
	IntervalSeconds int
	// Parameters holds type-specific state: cursor, query type, stats.
	Parameters map[string]any
	LastRunAt  *time.Time
	NextRunAt  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Interval returns the run interval as a duration.
func (c *Collection) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// NewCollection describes a job to create.
type NewCollection struct {
	Name            string
	Description     string
	Type            CollectionType
	IntervalSeconds int
	Parameters      map[string]any
	Keywords        []string
}

// CollectionUpdate lists the fields to change; nil fields are left alone.
type CollectionUpdate struct {
	Status          *CollectionStatus
	IntervalSeconds *int
	Parameters      map[string]any
	LastRunAt       *time.Time
	NextRunAt       *time.Time
}

const collectionColumns = `id, name, description, type, status, interval_seconds, parameters,
	last_run_at, next_run_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCollection(row rowScanner) (*Collection, error) {
	var (
		c                  Collection
		typ, status        string
		params             string
		lastRun, nextRun   sql.NullString
		createdAt, updated string
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &typ, &status, &c.IntervalSeconds, &params,
		&lastRun, &nextRun, &createdAt, &updated); err != nil {
		return nil, err
	}
	c.Type = CollectionType(typ)
	c.Status = CollectionStatus(status)
	c.Parameters = decodeJSON(params)
	c.LastRunAt = parseTimePtr(lastRun)
	c.NextRunAt = parseTimePtr(nextRun)
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updated)
	return &c, nil
}

func (s *Store) queryCollections(ctx context.Context, query string, args ...any) ([]*Collection, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateCollection inserts an active job and links its keywords.
func (s *Store) CreateCollection(ctx context.Context, nc NewCollection) (*Collection, error) {
	if nc.Name == "" {
		return nil, errors.New("store: collection name is required")
	}
	if nc.IntervalSeconds <= 0 {
		return nil, fmt.Errorf("store: invalid interval %d", nc.IntervalSeconds)
	}
	params, err := encodeJSON(nc.Parameters)
	if err != nil {
		return nil, fmt.Errorf("store: encode parameters: %w", err)
	}

	id := newID()
	now := formatTime(s.now())
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO collections (id, name, description, type, status, interval_seconds, parameters, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, nc.Name, nc.Description, string(nc.Type), string(StatusActive), nc.IntervalSeconds, params, now, now,
		); err != nil {
			return err
		}
		for _, text := range nc.Keywords {
			kw, err := getOrCreateKeyword(ctx, tx, text, now)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO collection_keywords (collection_id, keyword_id) VALUES (?, ?)`,
				id, kw.ID,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: create collection: %w", err)
	}
	return s.Collection(ctx, id)
}

// Collection returns the job with the given id, or nil if there is none.
func (s *Store) Collection(ctx context.Context, id string) (*Collection, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+collectionColumns+` FROM collections WHERE id = ?`, id)
	c, err := scanCollection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: query collection %s: %w", id, err)
	}
	return c, nil
}

// ListCollections returns every job ordered by creation time.
func (s *Store) ListCollections(ctx context.Context) ([]*Collection, error) {
	cs, err := s.queryCollections(ctx, `SELECT `+collectionColumns+` FROM collections ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("store: list collections: %w", err)
	}
	return cs, nil
}

// DueCollections returns active jobs that have never run or whose next run
// time is not after now. Never-run jobs come first.
func (s *Store) DueCollections(ctx context.Context, now time.Time) ([]*Collection, error) {
	cs, err := s.queryCollections(ctx,
		`SELECT `+collectionColumns+` FROM collections
		 WHERE status = ? AND (next_run_at IS NULL OR next_run_at <= ?)
		 ORDER BY next_run_at IS NOT NULL, next_run_at, created_at`,
		string(StatusActive), formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("store: query due collections: %w", err)
	}
	return cs, nil
}

// UpdateCollection applies upd and returns the updated job, or nil if the
// job does not exist.
func (s *Store) UpdateCollection(ctx context.Context, id string, upd CollectionUpdate) (*Collection, error) {
	var (
		sets []string
		args []any
	)
	if upd.Status != nil {
		if !upd.Status.Valid() {
			return nil, fmt.Errorf("store: invalid status %q", *upd.Status)
		}
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.IntervalSeconds != nil {
		sets = append(sets, "interval_seconds = ?")
		args = append(args, *upd.IntervalSeconds)
	}
	if upd.Parameters != nil {
		params, err := encodeJSON(upd.Parameters)
		if err != nil {
			return nil, fmt.Errorf("store: encode parameters: %w", err)
		}
		sets = append(sets, "parameters = ?")
		args = append(args, params)
	}
	if upd.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, formatTime(*upd.LastRunAt))
	}
	if upd.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, formatTime(*upd.NextRunAt))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(s.now()), id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE collections SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: update collection %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	return s.Collection(ctx, id)
}

// CollectionKeywords returns the keywords linked to a job, ordered by text.
func (s *Store) CollectionKeywords(ctx context.Context, collectionID string) ([]Keyword, error) {
	kws, err := s.queryKeywords(ctx,
		`SELECT k.id, k.text, k.active, k.created_at
		 FROM keywords k JOIN collection_keywords ck ON ck.keyword_id = k.id
		 WHERE ck.collection_id = ?
		 ORDER BY k.text`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("store: query collection keywords: %w", err)
	}
	return kws, nil
}

// AddCollectionKeyword links a keyword to a job. Linking twice is a no-op.
func (s *Store) AddCollectionKeyword(ctx context.Context, collectionID, keywordID string) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO collection_keywords (collection_id, keyword_id) VALUES (?, ?)`,
		collectionID, keywordID,
	); err != nil {
		return fmt.Errorf("store: add collection keyword: %w", err)
	}
	return nil
}
