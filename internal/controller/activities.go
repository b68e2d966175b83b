package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/npratt/reeler/internal/actuator"
	"github.com/npratt/reeler/internal/keycycle"
)

// activities guards the two background activities the loop drives: the
// actuator's click loop and the key-cycle worker. Rapid 2/3 oscillation and
// concurrent Pause/Stop calls all go through one lock, so each actuator
// command is issued once per real state change.
type activities struct {
	act    actuator.Actuator
	keys   *keycycle.Worker
	logger *slog.Logger

	mu        sync.Mutex
	wantClick actuator.ClickState // what the loop asked for
	haveClick actuator.ClickState // what the actuator was last told
	wantKeys  bool
	keysCtx   context.Context
	suspended bool
}

func newActivities(act actuator.Actuator, keys *keycycle.Worker, logger *slog.Logger) *activities {
	return &activities{
		act:       act,
		keys:      keys,
		logger:    logger,
		wantClick: actuator.ClickOff,
		haveClick: actuator.ClickOff,
	}
}

// click moves the click loop to state. While suspended only the request is
// remembered.
func (a *activities) click(state actuator.ClickState) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.wantClick = state
	if a.suspended {
		return nil
	}
	return a.applyClick(state)
}

// applyClick must be called with a.mu held.
func (a *activities) applyClick(target actuator.ClickState) error {
	if a.haveClick == target {
		return nil
	}

	var err error
	switch target {
	case actuator.ClickActive:
		if a.haveClick == actuator.ClickPaused {
			err = a.act.ResumeClicking()
		} else {
			err = a.act.StartClicking()
		}
	case actuator.ClickPaused:
		if a.haveClick == actuator.ClickOff {
			return nil
		}
		err = a.act.PauseClicking()
	case actuator.ClickOff:
		err = a.act.StopClicking()
	}
	if err != nil {
		return fmt.Errorf("set clicking %s: %w", target, err)
	}
	a.logger.Debug("clicking changed", "from", a.haveClick, "to", target)
	a.haveClick = target
	return nil
}

// startKeys starts the key cycle once per round. Later calls are no-ops.
func (a *activities) startKeys(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.wantKeys {
		return
	}
	a.wantKeys = true
	a.keysCtx = ctx
	if !a.suspended {
		a.keys.Start(ctx)
	}
}

// stopKeys stops the key cycle if it was requested and reports a press
// failure that ended it early.
func (a *activities) stopKeys() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.wantKeys {
		return nil
	}
	a.wantKeys = false
	a.keysCtx = nil
	a.keys.Stop()
	if err := a.keys.Err(); err != nil {
		return fmt.Errorf("key cycle: %w", err)
	}
	return nil
}

// keysRunning reports whether the key cycle was requested this round.
func (a *activities) keysRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.wantKeys
}

// keyCycleErr reports a key-cycle failure that ended the worker on its own.
func (a *activities) keyCycleErr() error {
	return a.keys.Err()
}

// suspend pauses clicking and the key cycle without forgetting what the loop
// asked for.
func (a *activities) suspend() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.suspended {
		return nil
	}
	a.suspended = true

	if a.wantKeys {
		a.keys.Stop()
	}
	if a.haveClick == actuator.ClickActive {
		return a.applyClick(actuator.ClickPaused)
	}
	return nil
}

// resume restores whatever the loop last asked for.
func (a *activities) resume() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.suspended {
		return nil
	}
	a.suspended = false

	if a.wantKeys && a.keysCtx != nil {
		a.keys.Start(a.keysCtx)
	}
	return a.applyClick(a.wantClick)
}

// shutdown stops the key cycle, stops clicking, and releases held keys. Every
// step runs even when an earlier one fails.
func (a *activities) shutdown() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.wantKeys = false
	a.keysCtx = nil
	a.suspended = false
	a.keys.Stop()

	var errs []error
	if err := a.act.StopClicking(); err != nil {
		errs = append(errs, fmt.Errorf("stop clicking: %w", err))
	}
	a.wantClick = actuator.ClickOff
	a.haveClick = actuator.ClickOff

	if err := a.act.ReleaseKeys(); err != nil {
		errs = append(errs, fmt.Errorf("release keys: %w", err))
	}
	return errors.Join(errs...)
}
