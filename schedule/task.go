// Package schedule runs functions on a fixed interval until cancelled. Each Task owns its
// cancellation; Stop is idempotent and waits for an in-flight tick to return.
package schedule

import (
	"context"
	"sync"
	"time"
)

// Task is a running fixed-interval job.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Every calls fn every interval until ctx is cancelled or Stop is called. With immediate set,
// fn also runs once right away. Ticks never overlap: a slow fn delays the next tick.
func Every(ctx context.Context, interval time.Duration, immediate bool, fn func(ctx context.Context)) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		if immediate {
			fn(ctx)
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ctx.Err() != nil {
					return
				}
				fn(ctx)
			}
		}
	}()
	return t
}

// Stop cancels the task and waits for it to exit. Calling Stop from inside fn would
// deadlock; use StopAsync there.
func (t *Task) Stop() {
	if t == nil {
		return
	}
	t.StopAsync()
	<-t.done
}

// StopAsync cancels the task without waiting.
func (t *Task) StopAsync() {
	if t == nil {
		return
	}
	t.once.Do(t.cancel)
}

// Done is closed once the task has exited.
func (t *Task) Done() <-chan struct{} { return t.done }
