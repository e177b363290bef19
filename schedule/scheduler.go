// Package schedule runs the timer callbacks behind the state machine's
// schedule and delay capabilities on a gocron scheduler.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

// ErrInvalidInterval is returned by Every for a non-positive interval.
var ErrInvalidInterval = errors.New("interval must be positive")

// Delays shorter than this start immediately; gocron rejects one-time start
// times already in the past.
const minDelay = time.Millisecond

// Scheduler wraps a gocron scheduler.
type Scheduler struct {
	scheduler gocron.Scheduler
}

// New creates and starts a scheduler.
func New(opts ...gocron.SchedulerOption) (*Scheduler, error) {
	s, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	s.Start()

	return &Scheduler{scheduler: s}, nil
}

// Every runs fn every interval until cancelled. Returns the job ID.
func (s *Scheduler) Every(interval time.Duration, fn func()) (uuid.UUID, error) {
	if interval <= 0 {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}

	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(fn),
		gocron.WithName(fmt.Sprintf("every-%s", interval)),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create periodic job: %w", err)
	}
	return job.ID(), nil
}

// After runs fn once after timeout. Returns the job ID.
func (s *Scheduler) After(timeout time.Duration, fn func()) (uuid.UUID, error) {
	start := gocron.OneTimeJobStartImmediately()
	if timeout >= minDelay {
		start = gocron.OneTimeJobStartDateTime(time.Now().Add(timeout))
	}

	job, err := s.scheduler.NewJob(
		gocron.OneTimeJob(start),
		gocron.NewTask(fn),
		gocron.WithName(fmt.Sprintf("after-%s", timeout)),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create one-time job: %w", err)
	}
	return job.ID(), nil
}

// Cancel removes a job. Cancelling an unknown or finished job is an error
// from gocron.
func (s *Scheduler) Cancel(id uuid.UUID) error {
	if err := s.scheduler.RemoveJob(id); err != nil {
		return fmt.Errorf("failed to cancel job %s: %w", id, err)
	}
	return nil
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.scheduler.Jobs())
}

// Shutdown stops the scheduler and waits for running jobs.
func (s *Scheduler) Shutdown() error {
	return s.scheduler.Shutdown()
}
