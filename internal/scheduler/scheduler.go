// Package scheduler wraps robfig/cron/v3 to run periodic maintenance
// (compaction, vacuum, checkpointing) against a table, mirroring the
// teacher's CatalogManager-driven job scheduler but scoped to a single
// in-process table owner rather than a SQL catalog of jobs.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Target is the narrow surface a Scheduler drives; Table implements it.
type Target interface {
	Compact(ctx context.Context) error
	Vacuum(ctx context.Context) error
	Checkpoint(ctx context.Context) error
}

// JobKind selects which Target method a Job invokes.
type JobKind int

const (
	JobCompact JobKind = iota
	JobVacuum
	JobCheckpoint
)

func (k JobKind) String() string {
	switch k {
	case JobCompact:
		return "compact"
	case JobVacuum:
		return "vacuum"
	case JobCheckpoint:
		return "checkpoint"
	default:
		return "unknown"
	}
}

// Job describes one scheduled maintenance run.
type Job struct {
	Name      string
	Kind      JobKind
	CronExpr  string
	NoOverlap bool
	Timeout   time.Duration
}

// Scheduler runs Jobs against a Target on a cron schedule.
type Scheduler struct {
	target Target
	cron   *cron.Cron

	mu      sync.Mutex
	running map[string]context.CancelFunc
	entries map[string]cron.EntryID
}

// New creates a Scheduler for target, parsing CRON expressions with
// second-level precision and running entries in UTC.
func New(target Target) *Scheduler {
	return &Scheduler{
		target:  target,
		cron:    cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
		running: make(map[string]context.CancelFunc),
		entries: make(map[string]cron.EntryID),
	}
}

// AddJob registers job with the underlying cron scheduler. It does not
// start execution until Start is called.
func (s *Scheduler) AddJob(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("scheduler: job name required")
	}
	if job.CronExpr == "" {
		return fmt.Errorf("scheduler: job %q has no cron expression", job.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[job.Name]; exists {
		return fmt.Errorf("scheduler: job %q already registered", job.Name)
	}
	id, err := s.cron.AddFunc(job.CronExpr, func() { s.run(job) })
	if err != nil {
		return fmt.Errorf("scheduler: invalid cron expression %q for job %q: %w", job.CronExpr, job.Name, err)
	}
	s.entries[job.Name] = id
	return nil
}

// RemoveJob unregisters a job and cancels it if currently running.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
	if cancel, ok := s.running[name]; ok {
		cancel()
		delete(s.running, name)
	}
}

// Start begins executing scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and blocks until all in-flight cron
// invocations finish, then cancels any job whose Target call is still
// running.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, cancel := range s.running {
		cancel()
		delete(s.running, name)
	}
}

// run executes one job, honoring NoOverlap and Timeout.
func (s *Scheduler) run(job Job) {
	s.mu.Lock()
	if job.NoOverlap {
		if _, inFlight := s.running[job.Name]; inFlight {
			s.mu.Unlock()
			log.Printf("scheduler: job %q already running, skipping", job.Name)
			return
		}
	}
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	s.running[job.Name] = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.running, job.Name)
		s.mu.Unlock()
	}()

	var err error
	switch job.Kind {
	case JobCompact:
		err = s.target.Compact(ctx)
	case JobVacuum:
		err = s.target.Vacuum(ctx)
	case JobCheckpoint:
		err = s.target.Checkpoint(ctx)
	default:
		err = fmt.Errorf("unknown job kind %v", job.Kind)
	}
	if err != nil {
		log.Printf("scheduler: job %q (%s) failed: %v", job.Name, job.Kind, err)
	}
}
