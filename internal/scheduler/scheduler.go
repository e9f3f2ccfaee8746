// Package scheduler runs self-pacing background task loops.
//
// Every loop computes its next wake-up after the previous run finishes, so
// a slow run delays the next one instead of overlapping it.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/quantumlife/worktrail/internal/logging"
)

// Scheduler manages scheduled tasks
type Scheduler struct {
	tasks    map[string]*Task
	running  map[string]context.CancelFunc
	mu       sync.RWMutex
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	location *time.Location
	logger   *logging.Logger
}

// Config configures the scheduler
type Config struct {
	Location *time.Location // for daily schedules (default: Local)
	Logger   *logging.Logger
}

// New creates a new scheduler
func New(cfg Config) *Scheduler {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		tasks:    make(map[string]*Task),
		running:  make(map[string]context.CancelFunc),
		ctx:      ctx,
		cancel:   cancel,
		location: loc,
		logger:   logger.Component("scheduler"),
	}
}

// Task represents a scheduled task
type Task struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Schedule   Schedule      `json:"schedule"`
	Handler    TaskHandler   `json:"-"`
	Enabled    bool          `json:"enabled"`
	LastRun    *time.Time    `json:"last_run,omitempty"`
	NextRun    *time.Time    `json:"next_run,omitempty"`
	RunCount   int64         `json:"run_count"`
	ErrorCount int64         `json:"error_count"`
	PanicCount int64         `json:"panic_count"`
	LastError  string        `json:"last_error,omitempty"`
	Timeout    time.Duration `json:"timeout"`
}

// TaskHandler is the function executed for a task
type TaskHandler func(ctx context.Context) error

// Schedule defines when a task runs
type Schedule struct {
	Type     ScheduleType  `json:"type"`
	Interval time.Duration `json:"interval,omitempty"` // interval schedules
	At       string        `json:"at,omitempty"`       // daily schedules, "HH:MM"

	// Next returns the wait before the following run of an adaptive task.
	// It is called after every run.
	Next func() time.Duration `json:"-"`

	// Immediate runs the task once as soon as it starts.
	Immediate bool `json:"immediate,omitempty"`
}

// ScheduleType represents the type of schedule
type ScheduleType string

const (
	ScheduleInterval ScheduleType = "interval" // every Interval
	ScheduleAdaptive ScheduleType = "adaptive" // wait computed by Next
	ScheduleDaily    ScheduleType = "daily"    // at a wall-clock time
)

// Register adds a task to the scheduler
func (s *Scheduler) Register(task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.ID == "" {
		return fmt.Errorf("task ID is required")
	}
	if task.Handler == nil {
		return fmt.Errorf("task handler is required")
	}
	switch task.Schedule.Type {
	case ScheduleInterval:
		if task.Schedule.Interval <= 0 {
			return fmt.Errorf("task %s: interval must be positive", task.ID)
		}
	case ScheduleAdaptive:
		if task.Schedule.Next == nil {
			return fmt.Errorf("task %s: adaptive schedule needs Next", task.ID)
		}
	case ScheduleDaily:
	default:
		return fmt.Errorf("task %s: unknown schedule type %q", task.ID, task.Schedule.Type)
	}
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already registered", task.ID)
	}

	if task.Timeout == 0 {
		task.Timeout = time.Minute
	}
	task.Enabled = true
	next := s.firstRun(task.Schedule)
	task.NextRun = &next

	s.tasks[task.ID] = task
	if s.started {
		s.startTask(task)
	}
	return nil
}

// Unregister removes a task from the scheduler
func (s *Scheduler) Unregister(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, ok := s.running[taskID]; ok {
		cancel()
		delete(s.running, taskID)
	}
	delete(s.tasks, taskID)
}

// Start starts every registered task loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.started = true

	for _, task := range s.tasks {
		if task.Enabled {
			next := s.firstRun(task.Schedule)
			task.NextRun = &next
			s.startTask(task)
		}
	}
	return nil
}

// Stop cancels every loop and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.StopWithTimeout(0)
}

// StopWithTimeout cancels every loop and waits up to timeout for in-flight
// runs to return. A zero timeout waits indefinitely. It reports whether all
// loops finished in time. The scheduler can be started again afterwards.
func (s *Scheduler) StopWithTimeout(timeout time.Duration) bool {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return true
	}
	s.cancel()
	for _, cancel := range s.running {
		cancel()
	}
	s.running = make(map[string]context.CancelFunc)
	s.started = false
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	if timeout <= 0 {
		<-done
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		s.logger.Warn("stop timed out after %s with runs still in flight", timeout)
		return false
	}
}

// Running reports whether the scheduler has been started.
func (s *Scheduler) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// startTask starts a single task's loop. Caller holds s.mu.
func (s *Scheduler) startTask(task *Task) {
	taskCtx, cancel := context.WithCancel(s.ctx)
	s.running[task.ID] = cancel

	s.wg.Add(1)
	go s.runTaskLoop(taskCtx, task)
}

func (s *Scheduler) runTaskLoop(ctx context.Context, task *Task) {
	defer s.wg.Done()

	for {
		s.mu.RLock()
		wait := time.Until(*task.NextRun)
		s.mu.RUnlock()
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.executeTask(ctx, task)

		if ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		next := s.nextRun(task.Schedule)
		task.NextRun = &next
		s.mu.Unlock()
	}
}

// executeTask runs the handler once, recovering panics.
func (s *Scheduler) executeTask(ctx context.Context, task *Task) {
	execCtx, cancel := context.WithTimeout(ctx, task.Timeout)
	defer cancel()

	now := time.Now()
	s.mu.Lock()
	task.LastRun = &now
	task.RunCount++
	s.mu.Unlock()

	err := s.safeCall(execCtx, task)

	s.mu.Lock()
	if err != nil {
		task.ErrorCount++
		task.LastError = err.Error()
	} else {
		task.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.WithField("task", task.ID).Debug("run failed: %v", err)
	}
}

func (s *Scheduler) safeCall(ctx context.Context, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.mu.Lock()
			task.PanicCount++
			s.mu.Unlock()
			s.logger.WithField("task", task.ID).Error("recovered panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return task.Handler(ctx)
}

func (s *Scheduler) firstRun(schedule Schedule) time.Time {
	if schedule.Immediate {
		return time.Now()
	}
	return s.nextRun(schedule)
}

// nextRun calculates the next run time for a schedule
func (s *Scheduler) nextRun(schedule Schedule) time.Time {
	now := time.Now().In(s.location)

	switch schedule.Type {
	case ScheduleInterval:
		return now.Add(schedule.Interval)

	case ScheduleAdaptive:
		wait := schedule.Next()
		if wait < 0 {
			wait = 0
		}
		return now.Add(wait)

	case ScheduleDaily:
		hour, minute := 3, 0
		if t, err := time.Parse("15:04", schedule.At); err == nil {
			hour, minute = t.Hour(), t.Minute()
		}
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, s.location)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next

	default:
		return now.Add(time.Hour)
	}
}

// RunNow executes a task synchronously, outside its loop.
func (s *Scheduler) RunNow(ctx context.Context, taskID string) error {
	s.mu.RLock()
	task, ok := s.tasks[taskID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("task not found: %s", taskID)
	}
	s.executeTask(ctx, task)
	return nil
}

// GetTask returns a snapshot of a task.
func (s *Scheduler) GetTask(taskID string) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// GetStats returns scheduler statistics
func (s *Scheduler) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Started:      s.started,
		TotalTasks:   len(s.tasks),
		RunningTasks: len(s.running),
	}
	for _, task := range s.tasks {
		stats.TotalRuns += task.RunCount
		stats.TotalErrors += task.ErrorCount
		stats.TotalPanics += task.PanicCount
	}
	return stats
}

// Stats contains scheduler statistics
type Stats struct {
	Started      bool  `json:"started"`
	TotalTasks   int   `json:"total_tasks"`
	RunningTasks int   `json:"running_tasks"`
	TotalRuns    int64 `json:"total_runs"`
	TotalErrors  int64 `json:"total_errors"`
	TotalPanics  int64 `json:"total_panics"`
}

// IntervalTask creates a task that runs at a fixed interval
func IntervalTask(id, name string, interval time.Duration, handler TaskHandler) *Task {
	return &Task{
		ID:       id,
		Name:     name,
		Schedule: Schedule{Type: ScheduleInterval, Interval: interval},
		Handler:  handler,
	}
}

// AdaptiveTask creates a task whose next wait is computed after each run.
// The first run happens immediately.
func AdaptiveTask(id, name string, next func() time.Duration, handler TaskHandler) *Task {
	return &Task{
		ID:       id,
		Name:     name,
		Schedule: Schedule{Type: ScheduleAdaptive, Next: next, Immediate: true},
		Handler:  handler,
	}
}

// DailyTask creates a task that runs daily at a specific time
func DailyTask(id, name, at string, handler TaskHandler) *Task {
	return &Task{
		ID:       id,
		Name:     name,
		Schedule: Schedule{Type: ScheduleDaily, At: at},
		Handler:  handler,
	}
}
