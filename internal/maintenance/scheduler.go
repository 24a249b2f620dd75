// Package maintenance runs the engine's background upkeep, periodic
// checkpoints and vacuum sweeps of both page stores, on cron schedules.
package maintenance

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled maintenance task.
type Job struct {
	Name string
	Spec string // cron expression with a seconds field
	Run  func() error
}

// Scheduler executes registered jobs on their cron schedules. A job that
// is still running when its next tick fires is skipped, not stacked.
type Scheduler struct {
	cron    *cron.Cron
	mu      sync.Mutex
	running map[string]time.Time
	tag     string
}

// NewScheduler builds a stopped scheduler. tag is prefixed to log lines
// so jobs from concurrently open files can be told apart.
func NewScheduler(tag string) *Scheduler {
	loc, _ := time.LoadLocation("UTC")
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc), cron.WithSeconds()),
		running: make(map[string]time.Time),
		tag:     tag,
	}
}

// Add registers a job. Returns an error when the cron expression does not
// parse.
func (s *Scheduler) Add(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("maintenance: job %q has no body", job.Name)
	}
	_, err := s.cron.AddFunc(job.Spec, func() { s.execute(job) })
	if err != nil {
		return fmt.Errorf("maintenance: schedule job %q: %w", job.Name, err)
	}
	return nil
}

func (s *Scheduler) execute(job Job) {
	s.mu.Lock()
	if _, busy := s.running[job.Name]; busy {
		s.mu.Unlock()
		log.Printf("maintenance[%s]: job %q still running, skipping tick", s.tag, job.Name)
		return
	}
	s.running[job.Name] = time.Now()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, job.Name)
		s.mu.Unlock()
	}()

	if err := job.Run(); err != nil {
		log.Printf("maintenance[%s]: job %q failed: %v", s.tag, job.Name, err)
	}
}

// Start begins firing jobs.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
