package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sandwichfarm/nobo/internal/ops"
)

// Task is a named periodic job. Tasks are cancellable individually by
// name, so a behavior can be switched off at runtime without touching
// the rest of the schedule.
type Task struct {
	Name      string
	Interval  time.Duration
	Immediate bool // run once on registration before the first tick
	Run       func(ctx context.Context) error
}

// Scheduler runs named periodic tasks, each on its own goroutine with
// its own cancel handle.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    *ops.Logger

	mu    sync.Mutex
	tasks map[string]context.CancelFunc
	wg    sync.WaitGroup
}

// NewScheduler creates a scheduler bound to the parent context
func NewScheduler(ctx context.Context, log *ops.Logger) *Scheduler {
	sctx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		ctx:    sctx,
		cancel: cancel,
		log:    log.WithComponent("scheduler"),
		tasks:  make(map[string]context.CancelFunc),
	}
}

// Add registers and starts a task. Names must be unique.
func (s *Scheduler) Add(t Task) error {
	if t.Name == "" || t.Run == nil {
		return fmt.Errorf("task needs a name and a run function")
	}
	if t.Interval <= 0 {
		return fmt.Errorf("task %q: interval must be positive", t.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[t.Name]; exists {
		return fmt.Errorf("task %q already registered", t.Name)
	}

	tctx, tcancel := context.WithCancel(s.ctx)
	s.tasks[t.Name] = tcancel

	s.wg.Add(1)
	go s.loop(tctx, t)

	s.log.Debug("task registered", "task", t.Name, "interval", t.Interval.String())
	return nil
}

// Cancel stops a single task by name
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, ok := s.tasks[name]
	if !ok {
		return false
	}
	cancel()
	delete(s.tasks, name)
	s.log.Info("task cancelled", "task", name)
	return true
}

// Stop cancels all tasks and waits for their goroutines to exit
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, t Task) {
	defer s.wg.Done()

	if t.Immediate {
		s.runOnce(ctx, t)
	}

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, t)
		}
	}
}

// runOnce executes one task iteration. A panicking task is contained
// and keeps its schedule.
func (s *Scheduler) runOnce(ctx context.Context, t Task) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.LogPanic(rec, string(debug.Stack()))
		}
	}()

	if err := t.Run(ctx); err != nil && ctx.Err() == nil {
		s.log.Warn("task failed", "task", t.Name, "error", err)
	}
}
