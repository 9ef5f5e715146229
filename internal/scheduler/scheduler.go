// Package scheduler runs the collectors and engines on fixed intervals
// in live mode. Each job gets its own goroutine and ticker; a panicking
// job is logged and retried on its next tick instead of taking the
// process down.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"cascade-trader/internal/logging"
)

// JobFunc is one scheduled unit of work.
type JobFunc func(ctx context.Context) error

// Job pairs a name and interval with its work function.
type Job struct {
	Name       string
	Interval   time.Duration
	RunAtStart bool
	Fn         JobFunc
}

// Scheduler owns a set of interval jobs.
type Scheduler struct {
	jobs []Job
	log  zerolog.Logger
	wg   sync.WaitGroup
}

func New() *Scheduler {
	return &Scheduler{log: logging.Component("scheduler")}
}

// Add registers a job. Must be called before Start.
func (s *Scheduler) Add(name string, interval time.Duration, runAtStart bool, fn JobFunc) {
	s.jobs = append(s.jobs, Job{Name: name, Interval: interval, RunAtStart: runAtStart, Fn: fn})
}

// Start launches all jobs and returns immediately. Jobs stop when ctx is
// cancelled; Wait blocks until they have all exited.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.runJob(ctx, job)
	}
	s.log.Info().Int("jobs", len(s.jobs)).Msg("scheduler started")
}

// Wait blocks until all jobs have stopped.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	defer s.wg.Done()

	if job.RunAtStart {
		s.invoke(ctx, job)
	}

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.invoke(ctx, job)
		}
	}
}

// invoke runs one tick of the job, containing panics and logging errors.
func (s *Scheduler) invoke(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("job", job.Name).Interface("panic", r).Msg("job panicked")
		}
	}()

	start := time.Now()
	if err := job.Fn(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Warn().Err(err).Str("job", job.Name).Msg("job failed")
		return
	}
	s.log.Debug().Str("job", job.Name).Dur("took", time.Since(start)).Msg("job done")
}
