package tasks

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"

	"vigil-eoc/core/utils"
)

// Job is one recurring unit of work. Schedule takes anything the cron
// parser accepts, including @every descriptors.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Scheduler drives the registered jobs on their cron schedules. Jobs
// run on the cron goroutine one at a time per entry; a slow tick delays
// the next one instead of overlapping it.
type Scheduler struct {
	logger *utils.Logger

	mu      sync.Mutex
	jobs    []Job
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

func NewScheduler(logger *utils.Logger) *Scheduler {
	return &Scheduler{logger: logger}
}

// Register adds a job. Registration after start takes effect on the
// next StartWithContext.
func (s *Scheduler) Register(name, schedule string, run func(ctx context.Context) error) {
	if s == nil || run == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, Job{Name: name, Schedule: schedule, Run: run})
}

func (s *Scheduler) StartWithContext(ctx context.Context) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || len(s.jobs) == 0 {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New()
	for _, job := range s.jobs {
		job := job
		_, err := c.AddFunc(job.Schedule, func() {
			if runCtx.Err() != nil {
				return
			}
			if err := job.Run(runCtx); err != nil && s.logger != nil {
				s.logger.Errorf("job %s: %v", job.Name, err)
			}
		})
		if err != nil {
			if s.logger != nil {
				s.logger.Errorf("job %s schedule %q: %v", job.Name, job.Schedule, err)
			}
			continue
		}
	}
	c.Start()
	s.cron = c
	s.cancel = cancel
	s.running = true
}

func (s *Scheduler) StopWithContext(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	c := s.cron
	cancel := s.cancel
	s.cron = nil
	s.cancel = nil
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()
	if !wasRunning || c == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	stopped := c.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow executes one registered job synchronously, outside its
// schedule. It reports whether the name was known.
func (s *Scheduler) RunNow(ctx context.Context, name string) bool {
	s.mu.Lock()
	var run func(ctx context.Context) error
	for _, job := range s.jobs {
		if job.Name == name {
			run = job.Run
			break
		}
	}
	s.mu.Unlock()
	if run == nil {
		return false
	}
	if err := run(ctx); err != nil && s.logger != nil {
		s.logger.Errorf("job %s: %v", name, err)
	}
	return true
}
