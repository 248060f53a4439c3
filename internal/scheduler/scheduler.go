// Package scheduler runs named fixed-interval background jobs.
//
// Each refreshable component (indexes cache, capability gate) owns its own
// Scheduler. Jobs run in singleton mode: a run that is still in progress
// when the next tick arrives causes that tick to be skipped, so a job never
// overlaps itself. The clock is injectable so tests can drive time.
package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"aeroquery/internal/logging"
)

var (
	ErrJobExists      = errors.New("scheduled job already exists")
	ErrJobNotFound    = errors.New("scheduled job not found")
	ErrInvalidPeriod  = errors.New("job interval must be positive")
	ErrSchedulerState = errors.New("scheduler is stopped")
)

// JobInfo describes a registered job for external inspection.
type JobInfo struct {
	ID       string        // unique job ID (gocron UUID)
	Name     string        // human-readable name (e.g. "index-refresh")
	Interval time.Duration // delay between runs
	LastRun  time.Time     // zero if never run
	NextRun  time.Time     // zero if not scheduled
}

// Config configures a Scheduler.
type Config struct {
	// Clock drives job timing. Defaults to the real clock.
	Clock clockwork.Clock

	// Logger for lifecycle events. If nil, logging is disabled.
	Logger *slog.Logger
}

// Scheduler owns a gocron scheduler and the jobs registered on it.
type Scheduler struct {
	mu        sync.Mutex
	scheduler gocron.Scheduler
	jobs      map[string]gocron.Job    // name → job
	intervals map[string]time.Duration // name → interval (for ListJobs)
	stopped   bool
	logger    *slog.Logger
}

// New creates a stopped scheduler. Call Start to begin running jobs.
func New(cfg Config) (*Scheduler, error) {
	logger := logging.Default(cfg.Logger).With("component", "scheduler")

	opts := []gocron.SchedulerOption{gocron.WithLogger(logger)}
	if cfg.Clock != nil {
		opts = append(opts, gocron.WithClock(cfg.Clock))
	}
	s, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{
		scheduler: s,
		jobs:      make(map[string]gocron.Job),
		intervals: make(map[string]time.Duration),
		logger:    logger,
	}, nil
}

// AddJob registers task to run every interval. The name must be unique.
func (s *Scheduler) AddJob(name string, interval time.Duration, task func()) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPeriod, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerState
	}
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, name)
	}

	j, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("create scheduled job %s: %w", name, err)
	}

	s.jobs[name] = j
	s.intervals[name] = interval
	s.logger.Info("scheduled job added", "name", name, "interval", interval)
	return nil
}

// RemoveJob stops and removes a named job. No-op if the job doesn't exist.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[name]
	if !ok {
		return
	}
	if err := s.scheduler.RemoveJob(j.ID()); err != nil {
		s.logger.Warn("failed to remove scheduled job", "name", name, "error", err)
	}
	delete(s.jobs, name)
	delete(s.intervals, name)
	s.logger.Info("scheduled job removed", "name", name)
}

// RunNow triggers a named job immediately, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return j.RunNow()
}

// HasJob returns true if a job with the given name exists.
func (s *Scheduler) HasJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[name]
	return ok
}

// ListJobs returns info about all registered jobs.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, j := range s.jobs {
		info := JobInfo{
			ID:       j.ID().String(),
			Name:     name,
			Interval: s.intervals[name],
		}
		if lr, err := j.LastRun(); err == nil {
			info.LastRun = lr
		}
		if nr, err := j.NextRun(); err == nil {
			info.NextRun = nr
		}
		infos = append(infos, info)
	}
	return infos
}

// Start begins executing all registered jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	n := len(s.jobs)
	s.mu.Unlock()
	s.scheduler.Start()
	s.logger.Info("scheduler started", "jobs", n)
}

// Stop shuts down the scheduler and waits for running jobs to finish.
// Calling Stop more than once is safe.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("stop scheduler: %w", err)
	}
	s.logger.Info("scheduler stopped")
	return nil
}
