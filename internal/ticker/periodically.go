package ticker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Periodically runs the provided task function at the specified interval until the context is done or an error occurs.
func Periodically(ctx context.Context, interval time.Duration, task func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := task(ctx); err != nil {
				return fmt.Errorf("periodic task failed: %w", err)
			}
		}
	}
}

// Handle on a background periodic task.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

// Starts running task every interval in a background goroutine. The task keeps running until Stop is called, the parent context is done, or the task returns an error.
func Start(ctx context.Context, interval time.Duration, task func(context.Context) error) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(t.done)
		t.err = Periodically(ctx, interval, task)
	}()
	return t
}

// Cancels the task and waits for it to exit. Safe to call more than once.
func (t *Task) Stop() {
	t.once.Do(t.cancel)
	<-t.done
}

// Closed once the task has exited.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Error the task exited with; only meaningful after Done is closed. Cancellation is not reported.
func (t *Task) Err() error {
	select {
	case <-t.done:
	default:
		return nil
	}
	if t.err == context.Canceled {
		return nil
	}
	return t.err
}
