package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"vigil/internal/config"
)

// PeriodicJob is a named task the scheduler runs on a fixed interval.
type PeriodicJob struct {
	ID       string
	Interval time.Duration
	Task     func(context.Context) error

	// RunOnStart fires the task once immediately when the job starts.
	RunOnStart bool

	ticker  *time.Ticker
	cancel  context.CancelFunc
	running bool
}

// Scheduler runs periodic jobs and one-off submissions on a bounded worker
// pool. When all workers are busy a periodic firing is skipped rather than
// queued; the next tick retries.
type Scheduler struct {
	config config.SchedulerConfig

	jobs   map[string]*PeriodicJob
	jobsMu sync.RWMutex

	workers chan struct{}

	running bool
	mu      sync.RWMutex
	wg      sync.WaitGroup

	// baseCtx is derived from the Start context; every job context hangs
	// off it, so cancelling the Start parent stops all jobs.
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler with the configured worker pool size.
func NewScheduler(cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		config:  cfg,
		jobs:    make(map[string]*PeriodicJob),
		workers: make(chan struct{}, cfg.WorkerCount),
	}
}

// Start initializes the worker pool.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	s.baseCtx, s.cancel = context.WithCancel(ctx)

	for i := 0; i < s.config.WorkerCount; i++ {
		s.workers <- struct{}{}
	}

	s.running = true
	log.Info().Int("worker_count", s.config.WorkerCount).Msg("Scheduler started")
	return nil
}

// Stop stops all jobs and waits for in-flight work.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	log.Info().Msg("Stopping scheduler")

	if s.cancel != nil {
		s.cancel()
	}

	s.jobsMu.Lock()
	for _, job := range s.jobs {
		s.stopJobLocked(job)
	}
	s.jobsMu.Unlock()

	s.wg.Wait()
	s.running = false
	log.Info().Msg("Scheduler stopped")
}

// AddJob registers a periodic job and starts it immediately.
func (s *Scheduler) AddJob(job *PeriodicJob) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.running {
		return fmt.Errorf("scheduler is not running")
	}

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}

	s.startJobLocked(job)
	s.jobs[job.ID] = job

	log.Debug().Str("job_id", job.ID).Dur("interval", job.Interval).Msg("Periodic job added")
	return nil
}

// RemoveJob stops and unregisters a periodic job.
func (s *Scheduler) RemoveJob(jobID string) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("job %s not found", jobID)
	}

	s.stopJobLocked(job)
	delete(s.jobs, jobID)
	return nil
}

// JobCount returns the number of registered periodic jobs.
func (s *Scheduler) JobCount() int {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	return len(s.jobs)
}

// Submit runs a one-off task on the worker pool. It returns false without
// running when no worker is free.
func (s *Scheduler) Submit(ctx context.Context, id string, task func(context.Context) error) bool {
	select {
	case <-s.workers:
	default:
		log.Warn().Str("task", id).Msg("No workers available, task skipped")
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { s.workers <- struct{}{} }()

		if err := task(ctx); err != nil {
			log.Error().Str("task", id).Err(err).Msg("Task failed")
		}
	}()
	return true
}

func (s *Scheduler) startJobLocked(job *PeriodicJob) {
	jobCtx, cancel := context.WithCancel(s.baseCtx)
	job.cancel = cancel
	job.ticker = time.NewTicker(job.Interval)
	job.running = true

	s.wg.Add(1)
	go s.runJob(jobCtx, job)
}

func (s *Scheduler) stopJobLocked(job *PeriodicJob) {
	if !job.running {
		return
	}
	if job.cancel != nil {
		job.cancel()
	}
	if job.ticker != nil {
		job.ticker.Stop()
	}
	job.running = false
}

func (s *Scheduler) runJob(ctx context.Context, job *PeriodicJob) {
	defer s.wg.Done()
	defer job.ticker.Stop()

	log.Debug().Str("job_id", job.ID).Msg("Periodic job started")

	if job.RunOnStart {
		s.fire(ctx, job)
	}

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("job_id", job.ID).Msg("Periodic job stopped")
			return
		case <-job.ticker.C:
			s.fire(ctx, job)
		}
	}
}

// fire executes one periodic firing on the worker pool with retry.
func (s *Scheduler) fire(ctx context.Context, job *PeriodicJob) {
	select {
	case <-s.workers:
	default:
		log.Warn().Str("job_id", job.ID).Msg("No workers available, firing skipped")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { s.workers <- struct{}{} }()
		s.runWithRetry(ctx, job)
	}()
}

func (s *Scheduler) runWithRetry(ctx context.Context, job *PeriodicJob) {
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return
		}

		err := job.Task(ctx)
		if err == nil {
			if attempt > 0 {
				log.Info().Str("job_id", job.ID).Int("attempt", attempt+1).Msg("Job succeeded after retry")
			}
			return
		}

		if attempt == s.config.MaxRetries {
			log.Error().Str("job_id", job.ID).Int("attempts", attempt+1).Err(err).Msg("Job failed after all retries")
			return
		}

		log.Warn().Str("job_id", job.ID).Int("attempt", attempt+1).Err(err).Msg("Job failed, retrying")

		backoff := time.Duration(attempt+1) * time.Second
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}
