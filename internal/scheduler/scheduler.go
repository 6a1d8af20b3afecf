// Package scheduler drives periodic scans and queue processing per
// workspace.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Engine is the surface the scheduler drives. Satisfied by the engine's
// scanner and executor pair (kept as an interface to avoid an import cycle
// with test fakes).
type Engine interface {
	Scan(ctx context.Context, workspaceID string, limit int) error
	Process(ctx context.Context, workspaceID string, batchSize int) error
}

// WorkspaceJob schedules one workspace. Both cron expressions use the
// standard five-field form; an empty expression falls back to every minute.
type WorkspaceJob struct {
	WorkspaceID string
	ScanCron    string
	ProcessCron string
	ScanLimit   int
	BatchSize   int

	scanNext    time.Time
	processNext time.Time
}

// Scheduler ticks every interval and fires due workspace jobs. A job already
// in flight is skipped, never stacked.
type Scheduler struct {
	engine   Engine
	parser   cron.Parser
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	jobs   map[string]*WorkspaceJob
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

func New(engine Engine, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		engine:   engine,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		interval: 15 * time.Second,
		logger:   logger,
		jobs:     make(map[string]*WorkspaceJob),
		inflight: make(map[string]struct{}),
	}
}

// Register adds or replaces the schedule for a workspace. Invalid cron
// expressions are rejected before the job is stored.
func (s *Scheduler) Register(job WorkspaceJob) error {
	if job.WorkspaceID == "" {
		return fmt.Errorf("workspace job needs a workspace id")
	}
	if job.ScanCron == "" {
		job.ScanCron = "* * * * *"
	}
	if job.ProcessCron == "" {
		job.ProcessCron = "* * * * *"
	}
	now := time.Now().UTC()
	scanNext, err := s.nextRun(job.ScanCron, now)
	if err != nil {
		return err
	}
	processNext, err := s.nextRun(job.ProcessCron, now)
	if err != nil {
		return err
	}
	job.scanNext = scanNext
	job.processNext = processNext

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.WorkspaceID] = &job
	return nil
}

// Start launches the ticking loop. It returns an error when already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(loopCtx)
	s.logger.Info("scheduler started")
	return nil
}

// Stop cancels the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick fires every due job. Scan and process are independent schedules so a
// slow process run does not delay scanning.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()

	s.mu.Lock()
	jobs := make([]*WorkspaceJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	s.mu.Unlock()

	for _, job := range jobs {
		if !job.scanNext.After(now) {
			s.fire(ctx, job.WorkspaceID+"/scan", func(ctx context.Context) error {
				return s.engine.Scan(ctx, job.WorkspaceID, job.ScanLimit)
			})
			s.reschedule(job, now, true)
		}
		if !job.processNext.After(now) {
			s.fire(ctx, job.WorkspaceID+"/process", func(ctx context.Context) error {
				return s.engine.Process(ctx, job.WorkspaceID, job.BatchSize)
			})
			s.reschedule(job, now, false)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, key string, fn func(context.Context) error) {
	if !s.tryAcquire(key) {
		return
	}
	go func() {
		defer s.release(key)
		if err := fn(ctx); err != nil {
			s.logger.Error("scheduled job failed",
				slog.String("job", key),
				slog.String("error", err.Error()))
		}
	}()
}

func (s *Scheduler) reschedule(job *WorkspaceJob, now time.Time, scan bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if scan {
		if next, err := s.nextRun(job.ScanCron, now); err == nil {
			job.scanNext = next
		}
	} else {
		if next, err := s.nextRun(job.ProcessCron, now); err == nil {
			job.processNext = next
		}
	}
}

func (s *Scheduler) nextRun(expr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return schedule.Next(from), nil
}

func (s *Scheduler) tryAcquire(key string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, running := s.inflight[key]; running {
		return false
	}
	s.inflight[key] = struct{}{}
	return true
}

func (s *Scheduler) release(key string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, key)
}
