// Package scheduler runs named periodic tasks until its context is
// cancelled.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TaskFunc is one run of a periodic task.
type TaskFunc func(ctx context.Context, now time.Time) error

type task struct {
	name     string
	interval time.Duration
	fn       TaskFunc
}

// TaskStatus reports the outcome of a task's latest run.
type TaskStatus struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	Runs     int           `json:"runs"`
	LastRun  time.Time     `json:"last_run,omitzero"`
	LastErr  string        `json:"last_error,omitempty"`
}

// Scheduler owns a set of tasks. Each task runs once at start and then on
// its own ticker; a run never overlaps the previous run of the same task.
type Scheduler struct {
	mu      sync.RWMutex
	tasks   map[string]*task
	status  map[string]*TaskStatus
	running bool
	now     func() time.Time
	log     *zap.Logger
}

func New() *Scheduler {
	return &Scheduler{
		tasks:  make(map[string]*task),
		status: make(map[string]*TaskStatus),
		now:    func() time.Time { return time.Now().UTC() },
		log:    zap.L().Named("scheduler"),
	}
}

// Add registers a task. Adding a name twice replaces the earlier task; tasks
// added after Run has started are rejected.
func (s *Scheduler) Add(name string, interval time.Duration, fn TaskFunc) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: task %q: interval must be positive", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler: task %q added after start", name)
	}
	s.tasks[name] = &task{name: name, interval: interval, fn: fn}
	s.status[name] = &TaskStatus{Name: name, Interval: interval}
	return nil
}

// Run starts every task and blocks until ctx is done and all runs have
// returned.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: already running")
	}
	s.running = true
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	s.log.Info("scheduler started", zap.Int("tasks", len(tasks)))
	var wg sync.WaitGroup
	for _, t := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, t)
		}()
	}
	wg.Wait()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.log.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context, t *task) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	s.RunTask(ctx, t.name)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunTask(ctx, t.name)
		}
	}
}

// RunTask runs the named task once, synchronously, and records the result.
// It reports false for unknown names.
func (s *Scheduler) RunTask(ctx context.Context, name string) bool {
	s.mu.RLock()
	t, ok := s.tasks[name]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	if ctx.Err() != nil {
		return true
	}

	start := s.now()
	err := s.safeRun(ctx, t, start)
	fields := []zap.Field{zap.String("task", name), zap.Duration("took", time.Since(start))}

	s.mu.Lock()
	st := s.status[name]
	st.Runs++
	st.LastRun = start
	st.LastErr = ""
	if err != nil {
		st.LastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error("task failed", append(fields, zap.Error(err))...)
	} else {
		s.log.Debug("task done", fields...)
	}
	return true
}

func (s *Scheduler) safeRun(ctx context.Context, t *task, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.fn(ctx, now)
}

// Status returns a snapshot of every task sorted by name.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TaskStatus, 0, len(s.status))
	for _, st := range s.status {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
