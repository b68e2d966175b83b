// Package keycycle runs the background activity that alternates two key holds
// while a fish is being reeled in.
package keycycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/npratt/reeler/internal/actuator"
	"github.com/npratt/reeler/internal/task"
)

// Config holds the key-cycle schedule.
type Config struct {
	KeyA        string
	KeyB        string
	Hold        time.Duration
	Gap         time.Duration
	JoinTimeout time.Duration
}

// Worker alternates KeyA and KeyB holds until stopped:
// hold A, wait, hold B, wait, repeat.
type Worker struct {
	cfg    Config
	keys   actuator.KeyPresser
	logger *slog.Logger

	mu      sync.Mutex
	current *task.Task
	// lastErr is the error of the most recent run that failed on its own.
	lastErr error
}

// New creates a stopped Worker.
func New(cfg Config, keys actuator.KeyPresser, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{cfg: cfg, keys: keys, logger: logger}
}

// Start launches the cycle. It is a no-op returning false if the cycle is
// already running.
func (w *Worker) Start(ctx context.Context) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current != nil && w.current.Running() {
		return false
	}

	w.lastErr = nil
	w.current = task.Go(ctx, w.run)
	w.logger.Info("key cycle started", "key_a", w.cfg.KeyA, "key_b", w.cfg.KeyB)
	return true
}

// Stop cancels the cycle and waits up to JoinTimeout for it to exit. A join
// timeout is logged, not returned. Keys are released either way.
func (w *Worker) Stop() {
	w.mu.Lock()
	t := w.current
	w.current = nil
	w.mu.Unlock()

	if t != nil {
		if err := t.Stop(w.cfg.JoinTimeout); err != nil {
			w.logger.Warn("key cycle did not exit in time",
				"timeout", w.cfg.JoinTimeout,
				"error", err,
			)
		} else {
			w.logger.Info("key cycle stopped")
		}
		if err := t.Err(); err != nil && !errors.Is(err, context.Canceled) {
			w.mu.Lock()
			w.lastErr = err
			w.mu.Unlock()
		}
	}

	if err := w.keys.ReleaseKeys(); err != nil {
		w.logger.Warn("release keys after key cycle failed", "error", err)
	}
}

// Running reports whether the cycle goroutine is alive.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current != nil && w.current.Running()
}

// Err returns the failure that ended the cycle on its own, if any. A cycle
// ended by Stop or context cancellation reports nil.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current != nil && !w.current.Running() {
		if err := w.current.Err(); err != nil && !errors.Is(err, context.Canceled) {
			w.lastErr = err
		}
	}
	return w.lastErr
}

func (w *Worker) run(ctx context.Context) error {
	keys := [2]string{w.cfg.KeyA, w.cfg.KeyB}
	for i := 0; ; i = (i + 1) % 2 {
		if ctx.Err() != nil {
			return nil
		}
		if err := w.keys.PressKey(ctx, keys[i], w.cfg.Hold); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("key cycle press failed", "key", keys[i], "error", err)
			return fmt.Errorf("press %q: %w", keys[i], err)
		}
		if !task.Sleep(ctx, w.cfg.Gap) {
			return nil
		}
	}
}
