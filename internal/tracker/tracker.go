// Package tracker keeps per-job run statistics and advances due times.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onllm-dev/tweetwatch/internal/store"
)

// RunResult is the outcome of one collector run.
type RunResult struct {
	Collected int
	Saved     int
	Err       error
}

// LastRun is the snapshot of the most recent run.
type LastRun struct {
	Timestamp time.Time
	Collected int
	Saved     int
	Error     string
}

// Stats are the cumulative counters kept in a job's parameters.stats.
type Stats struct {
	TotalCollected int
	TotalSaved     int
	RunCount       int
	LastRun        *LastRun
}

// Tracker records run results onto collection jobs.
type Tracker struct {
	store  *store.Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a new Tracker.
func New(store *store.Store, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the clock used for run timestamps.
func (t *Tracker) SetClock(now func() time.Time) {
	if now != nil {
		t.now = now
	}
}

// Record merges res into the job's stats and moves last_run_at to now and
// next_run_at to now plus the job interval. Failed runs are recorded too, so
// a job that keeps failing still waits a full interval between attempts.
func (t *Tracker) Record(ctx context.Context, jobID string, res RunResult) (*store.Collection, error) {
	job, err := t.store.Collection(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("tracker: %w", err)
	}
	if job == nil {
		return nil, fmt.Errorf("tracker: job %s not found", jobID)
	}

	now := t.now().UTC()
	stats := StatsOf(job)
	stats.TotalCollected += res.Collected
	stats.TotalSaved += res.Saved
	stats.RunCount++
	stats.LastRun = &LastRun{Timestamp: now, Collected: res.Collected, Saved: res.Saved}
	if res.Err != nil {
		stats.LastRun.Error = res.Err.Error()
	}

	params := job.Parameters
	if params == nil {
		params = map[string]any{}
	}
	params["stats"] = stats.toMap()
	next := now.Add(job.Interval())

	updated, err := t.store.UpdateCollection(ctx, jobID, store.CollectionUpdate{
		Parameters: params,
		LastRunAt:  &now,
		NextRunAt:  &next,
	})
	if err != nil {
		return nil, fmt.Errorf("tracker: %w", err)
	}
	if updated == nil {
		return nil, fmt.Errorf("tracker: job %s disappeared", jobID)
	}

	t.logger.Info("Run recorded",
		"job", jobID,
		"collected", res.Collected,
		"saved", res.Saved,
		"run_count", stats.RunCount,
		"next_run_at", next,
	)
	return updated, nil
}

// StatsOf reads the stats stored on a job. Missing or malformed fields read as zero.
func StatsOf(job *store.Collection) Stats {
	var s Stats
	m, _ := job.Parameters["stats"].(map[string]any)
	if m == nil {
		return s
	}
	s.TotalCollected = toInt(m["total_collected"])
	s.TotalSaved = toInt(m["total_saved"])
	s.RunCount = toInt(m["run_count"])
	if lr, ok := m["last_run"].(map[string]any); ok {
		last := &LastRun{
			Collected: toInt(lr["collected"]),
			Saved:     toInt(lr["saved"]),
		}
		if ts, ok := lr["timestamp"].(string); ok {
			last.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		}
		last.Error, _ = lr["error"].(string)
		s.LastRun = last
	}
	return s
}

func (s Stats) toMap() map[string]any {
	m := map[string]any{
		"total_collected": s.TotalCollected,
		"total_saved":     s.TotalSaved,
		"run_count":       s.RunCount,
	}
	if s.LastRun != nil {
		lr := map[string]any{
			"timestamp": s.LastRun.Timestamp.Format(time.RFC3339Nano),
			"collected": s.LastRun.Collected,
			"saved":     s.LastRun.Saved,
		}
		if s.LastRun.Error != "" {
			lr["error"] = s.LastRun.Error
		}
		m["last_run"] = lr
	}
	return m
}

func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	}
	return 0
}
