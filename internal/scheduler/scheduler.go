// Package scheduler runs due collection jobs on a polling loop.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onllm-dev/tweetwatch/internal/collector"
	"github.com/onllm-dev/tweetwatch/internal/processor"
	"github.com/onllm-dev/tweetwatch/internal/store"
	"github.com/onllm-dev/tweetwatch/internal/tracker"
)

// ErrRunning is returned by Run when the loop is already running.
var ErrRunning = errors.New("scheduler: already running")

// Scheduler dispatches due jobs to their collectors one at a time.
//
// Jobs run under a context that is never cancelled, so stopping the loop
// lets the job in flight finish its writes; the loop itself stops before
// the next job.
type Scheduler struct {
	store   *store.Store
	deps    collector.Deps
	tracker *tracker.Tracker
	logger  *slog.Logger
	now     func() time.Time
	lookup  func(store.CollectionType) (collector.Factory, bool)

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Scheduler. deps.Store is set to s when nil.
func New(s *store.Store, deps collector.Deps, tr *tracker.Tracker, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Store == nil {
		deps.Store = s
	}
	if deps.Logger == nil {
		deps.Logger = logger
	}
	return &Scheduler{
		store:   s,
		deps:    deps,
		tracker: tr,
		logger:  logger,
		now:     time.Now,
		lookup:  collector.Lookup,
	}
}

// SetClock overrides the clock used for the due-time query.
func (s *Scheduler) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// RunOnce runs every due job and returns how many completed without error.
// Jobs with no registered collector are logged and left untouched. A failed
// job is recorded and logged; the remaining jobs still run.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	runID := uuid.NewString()
	logger := s.logger.With("run", runID)

	jobs, err := s.store.DueCollections(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("scheduler: %w", err)
	}
	if len(jobs) == 0 {
		logger.Debug("No due collections")
		return 0, nil
	}
	logger.Info("Processing due collections", "count", len(jobs))

	jobCtx := context.WithoutCancel(ctx)
	processed := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			logger.Info("Run interrupted", "processed", processed, "remaining", len(jobs)-processed)
			break
		}
		if s.runJob(jobCtx, logger, job) {
			processed++
		}
	}

	logger.Info("Run complete", "due", len(jobs), "processed", processed)
	return processed, nil
}

// runJob runs one job and records the result. It reports whether the job
// completed without error.
func (s *Scheduler) runJob(ctx context.Context, logger *slog.Logger, job *store.Collection) bool {
	logger = logger.With("job", job.ID, "name", job.Name, "type", job.Type)

	factory, ok := s.lookup(job.Type)
	if !ok {
		logger.Warn("No collector for job type, skipping", "error", collector.ErrNoCollector)
		return false
	}

	start := time.Now()
	var collected, saved int
	filter, err := collector.PipelineFor(s.deps, job)
	if err == nil {
		collected, saved, err = s.execute(ctx, logger, factory(s.deps, job.ID), filter)
	}

	if _, terr := s.tracker.Record(ctx, job.ID, tracker.RunResult{
		Collected: collected,
		Saved:     saved,
		Err:       err,
	}); terr != nil {
		logger.Error("Failed to record run", "error", terr)
	}

	if err != nil {
		logger.Error("Collection failed", "error", err, "duration", time.Since(start))
		return false
	}
	logger.Info("Collection finished",
		"collected", collected,
		"saved", saved,
		"duration", time.Since(start),
	)
	return true
}

// execute runs the collector, turning a panic into an error.
func (s *Scheduler) execute(ctx context.Context, logger *slog.Logger, c collector.Collector, filter *processor.Pipeline) (collected, saved int, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			logger.Error("Collector panicked",
				"correlation_id", correlationID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("collector panic (correlation_id=%s): %v", correlationID, r)
		}
	}()
	return collector.Run(ctx, c, filter)
}

// Run calls RunOnce immediately and then every pollInterval until ctx is
// cancelled or Stop is called. It blocks until the loop exits.
func (s *Scheduler) Run(ctx context.Context, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		return fmt.Errorf("scheduler: invalid poll interval %v", pollInterval)
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrRunning
	}
	s.running = true
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.running = false
		s.cancel = nil
		s.mu.Unlock()
		close(done)
		s.logger.Info("Scheduler stopped")
	}()

	s.logger.Info("Scheduler started", "poll_interval", pollInterval)
	s.cycle(loopCtx)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cycle(loopCtx)
		case <-loopCtx.Done():
			return nil
		}
	}
}

func (s *Scheduler) cycle(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("Scheduler cycle failed", "error", err)
	}
}

// Stop asks a running loop to exit and waits until it has. The job in flight,
// if any, finishes first. Stop is a no-op when the loop is not running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	running := s.running
	s.mu.Unlock()

	if !running || cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
