// Package maintenance runs periodic housekeeping on a cron schedule:
// purging replayed dead letters and reporting projection checkpoint
// lag. Tasks are plain functions keyed by name; schedules use
// standard 5-field cron expressions or descriptors like "@every 5m".
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// TaskFunc is one housekeeping task run on its schedule.
type TaskFunc func(ctx context.Context) error

// cronParser supports standard 5-field cron and descriptors like
// "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

type task struct {
	name    string
	sched   cronlib.Schedule
	fn      TaskFunc
	nextRun time.Time
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due tasks.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// Scheduler runs registered tasks on a tick loop.
type Scheduler struct {
	logger       *slog.Logger
	tickInterval time.Duration

	mu    sync.Mutex
	tasks []*task

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		logger:       logger,
		tickInterval: 1 * time.Second,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a task under the given cron expression. The first run
// happens at the expression's next firing, not immediately.
func (s *Scheduler) Register(name, expr string, fn TaskFunc) error {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return fmt.Errorf("maintenance: parse schedule %q for %s: %w", expr, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, &task{
		name:    name,
		sched:   sched,
		fn:      fn,
		nextRun: sched.Next(time.Now().UTC()),
	})
	return nil
}

// Start launches the tick loop.
func (s *Scheduler) Start(_ context.Context) error {
	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("maintenance scheduler started",
		slog.Duration("tick_interval", s.tickInterval),
		slog.Int("tasks", len(s.tasks)),
	)
	return nil
}

// Stop signals the scheduler to stop and waits for the loop to finish.
func (s *Scheduler) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("maintenance scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	now := time.Now().UTC()

	s.mu.Lock()
	var due []*task
	for _, t := range s.tasks {
		if !t.nextRun.After(now) {
			due = append(due, t)
			t.nextRun = t.sched.Next(now)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		s.runTask(t)
	}
}

// runTask executes one task, containing panics so a broken task cannot
// kill the loop.
func (s *Scheduler) runTask(t *task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("maintenance task panicked",
				slog.String("task", t.name),
				slog.Any("panic", r),
			)
		}
	}()

	start := time.Now()
	if err := t.fn(context.Background()); err != nil {
		s.logger.Error("maintenance task failed",
			slog.String("task", t.name),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Debug("maintenance task ran",
		slog.String("task", t.name),
		slog.Duration("elapsed", time.Since(start)),
	)
}
