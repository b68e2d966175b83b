// Package task provides a cancellable goroutine with an explicit stop signal
// and a bounded join. Both the key-cycle worker and the control loop run on it.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrJoinTimeout is returned by Stop when the goroutine did not exit in time.
var ErrJoinTimeout = errors.New("task did not exit before join timeout")

// Func is the body of a task. It must return once ctx is done.
type Func func(ctx context.Context) error

// Task is a running goroutine that can be cancelled and joined.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Go starts fn in a new goroutine with a context derived from parent.
// A panic in fn is recovered and reported as the task's error.
func Go(parent context.Context, fn Func) *Task {
	ctx, cancel := context.WithCancel(parent)
	t := &Task{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(t.done)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				t.setErr(fmt.Errorf("task panicked: %v", r))
			}
		}()
		t.setErr(fn(ctx))
	}()

	return t
}

func (t *Task) setErr(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

// Cancel signals the task to stop without waiting.
func (t *Task) Cancel() {
	t.cancel()
}

// Stop cancels the task and waits up to timeout for it to exit.
// A non-positive timeout waits indefinitely.
func (t *Task) Stop(timeout time.Duration) error {
	t.cancel()
	return t.Join(timeout)
}

// Join waits up to timeout for the task to exit without cancelling it.
func (t *Task) Join(timeout time.Duration) error {
	if timeout <= 0 {
		<-t.done
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-t.done:
		return nil
	case <-timer.C:
		return ErrJoinTimeout
	}
}

// Done is closed once the task has exited.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Running reports whether the task has not yet exited.
func (t *Task) Running() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Err returns the error the task exited with. It is nil while the task is
// still running.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Sleep waits for d or until ctx is done, whichever comes first.
// It reports whether the full duration elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
