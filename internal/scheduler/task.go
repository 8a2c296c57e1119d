// Package scheduler runs the pipeline's background work: interval tasks with
// explicit cancellation and cron-scheduled retention jobs.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/Wikid82/sentinel/backend/internal/logger"
)

// Task runs fn on a fixed interval until stopped. RunNow executes a cycle
// synchronously so tests and shutdown paths never wait on wall-clock time.
type Task struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)

	mu      sync.Mutex // serializes cycles
	stateMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewTask creates a stopped task.
func NewTask(name string, interval time.Duration, fn func(ctx context.Context)) *Task {
	return &Task{name: name, interval: interval, fn: fn}
}

// Name returns the task name.
func (t *Task) Name() string { return t.name }

// Start launches the ticker loop. Calling Start on a running task is a no-op.
// A non-positive interval leaves the task manual-only.
func (t *Task) Start(ctx context.Context) {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	if t.cancel != nil || t.interval <= 0 {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				t.RunNow(loopCtx)
			}
		}
	}(t.done)

	logger.Source("scheduler").WithField("task", t.name).WithField("interval", t.interval.String()).Debug("task started")
}

// Stop cancels the loop and waits for an in-flight cycle to finish.
func (t *Task) Stop() {
	t.stateMu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.stateMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	logger.Source("scheduler").WithField("task", t.name).Debug("task stopped")
}

// Running reports whether the ticker loop is active.
func (t *Task) Running() bool {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.cancel != nil
}

// RunNow executes one cycle on the caller's goroutine. Cycles never overlap.
func (t *Task) RunNow(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			logger.Source("scheduler").WithField("task", t.name).Errorf("PANIC in task: %v", r)
		}
	}()
	t.fn(ctx)
}
