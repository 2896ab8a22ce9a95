// Package sched provides cancellable periodic tasks. Every timer handed out
// here carries an explicit stop handle so teardown never leaks a ticker.
package sched

import (
	"context"
	"sync"
	"time"
)

// Task is a periodic job with an explicit lifecycle. A paused task keeps its
// ticker running but skips invocations, which is how the rider surface
// suspends polling while the tab is hidden or the device offline.
type Task struct {
	mu     sync.Mutex
	paused bool

	cancel context.CancelFunc
	done   chan struct{}
}

// Every runs fn every interval until Stop is called. The context passed to
// fn is cancelled when the task stops.
func Every(interval time.Duration, fn func(context.Context)) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	task := &Task{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(task.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if task.isPaused() {
					continue
				}
				fn(ctx)
			}
		}
	}()

	return task
}

// Stop cancels the task and waits for the loop to exit. Safe to call more
// than once.
func (t *Task) Stop() {
	t.cancel()
	<-t.done
}

// Pause suspends invocations without releasing the ticker.
func (t *Task) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = true
}

// Resume lifts a pause.
func (t *Task) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = false
}

func (t *Task) isPaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}
