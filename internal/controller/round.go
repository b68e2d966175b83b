package controller

import (
	"context"
	"fmt"

	"github.com/npratt/reeler/internal/actuator"
	"github.com/npratt/reeler/internal/fishing"
)

// round plays one bite-to-cast cycle. Expected endings are returned as an
// outcome; an error means the run cannot continue.
func (c *Controller) round(ctx context.Context) (outcome, error) {
	c.tracker.Reset()
	c.transition(ctx, fishing.WaitingInitial)

	if err := c.waitForBite(ctx); err != nil {
		return 0, err
	}

	first, stalled, err := c.hooked(ctx)
	if err != nil {
		return 0, err
	}
	if stalled {
		return outcomeStalled, c.stallRetry(ctx)
	}

	if err := c.reel(ctx, first); err != nil {
		return 0, err
	}
	if err := c.confirmCatch(ctx); err != nil {
		return 0, err
	}
	if err := c.cast(ctx); err != nil {
		return 0, err
	}
	return outcomeCaught, nil
}

// waitForBite covers WaitingInitial and WaitingHook. The bite deadline runs
// from the start of WaitingInitial across both phases.
func (c *Controller) waitForBite(ctx context.Context) error {
	bite := c.newDeadline(c.cfg.Timeouts.Bite)
	hooks := 0

	for {
		if !c.hold(ctx) {
			return ctx.Err()
		}
		if bite.expired() {
			return fmt.Errorf("%w: no hook confirmed within %s", ErrBiteTimeout, c.cfg.Timeouts.Bite)
		}

		det, obs, err := c.observe(ctx, biteQuery)
		if err != nil {
			return err
		}

		switch obs {
		case obsSilence:
			hooks = 0
		case obsAccepted:
			if det.Label == fishing.LabelHook {
				hooks++
			} else {
				hooks = 0
			}
			if c.Phase() == fishing.WaitingInitial {
				c.transition(ctx, fishing.WaitingHook)
			}
		}

		if hooks >= c.cfg.Hook.Confirmations {
			c.transition(ctx, fishing.FishHooked)
			return nil
		}

		if !c.sleep(ctx, c.cfg.Polling.Initial) {
			return ctx.Err()
		}
	}
}

// hooked starts clicking and waits for the first pulling label. It reports
// stalled when none arrives before the hook-to-pull deadline.
func (c *Controller) hooked(ctx context.Context) (fishing.Label, bool, error) {
	if err := c.activities.click(actuator.ClickActive); err != nil {
		return 0, false, err
	}

	pull := c.newDeadline(c.cfg.Timeouts.HookToPull)
	for {
		if !c.hold(ctx) {
			return 0, false, ctx.Err()
		}
		if pull.expired() {
			return 0, true, nil
		}

		det, obs, err := c.observe(ctx, reelQuery)
		if err != nil {
			return 0, false, err
		}
		if obs == obsAccepted {
			return det.Label, false, nil
		}

		if !c.sleep(ctx, c.cfg.Polling.Hooked) {
			return 0, false, ctx.Err()
		}
	}
}

// stallRetry shifts the pointer and recasts after a hook that never pulled.
// The caller does not count the round.
func (c *Controller) stallRetry(ctx context.Context) error {
	c.logger.Info("hook stalled, recasting",
		"run_id", c.RunID(),
		"waited", c.cfg.Timeouts.HookToPull,
		"key_cycle", c.activities.keysRunning(),
	)

	if err := c.activities.click(actuator.ClickOff); err != nil {
		return err
	}
	if err := c.activities.stopKeys(); err != nil {
		return err
	}

	if err := c.act.MoveMouseRight(c.cfg.Reel.RetryMouseCM); err != nil {
		return fmt.Errorf("move mouse: %w", err)
	}
	if err := c.act.Cast(ctx); err != nil {
		return fmt.Errorf("cast: %w", err)
	}
	c.tracker.Reset()
	return nil
}

// reel follows labels 2 and 3 until label 4 appears. Reeling has no
// deadline of its own; Stop ends it.
func (c *Controller) reel(ctx context.Context, label fishing.Label) error {
	for {
		switch label {
		case fishing.LabelPullLow:
			c.transition(ctx, fishing.PullingNormal)
			if err := c.activities.click(actuator.ClickActive); err != nil {
				return err
			}
			c.activities.startKeys(ctx)

		case fishing.LabelPullHalf:
			c.transition(ctx, fishing.PullingHalfway)
			if err := c.activities.click(actuator.ClickPaused); err != nil {
				return err
			}
			if !c.sleep(ctx, c.cfg.Reel.HalfwayPause) {
				return ctx.Err()
			}

		case fishing.LabelSuccess:
			c.transition(ctx, fishing.Success)
			return nil
		}

		next, err := c.nextPull(ctx)
		if err != nil {
			return err
		}
		label = next
	}
}

// nextPull polls until a label is accepted while reeling.
func (c *Controller) nextPull(ctx context.Context) (fishing.Label, error) {
	for {
		if !c.sleep(ctx, c.cfg.Polling.Reeling) {
			return 0, ctx.Err()
		}
		if err := c.activities.keyCycleErr(); err != nil {
			return 0, fmt.Errorf("key cycle: %w", err)
		}

		det, obs, err := c.observe(ctx, reelQuery)
		if err != nil {
			return 0, err
		}
		if obs == obsAccepted {
			return det.Label, nil
		}
	}
}

// confirmCatch dismisses the catch screen. It confirms until label 4 is gone,
// giving up after the configured number of attempts.
func (c *Controller) confirmCatch(ctx context.Context) error {
	if err := c.activities.click(actuator.ClickOff); err != nil {
		return err
	}
	if err := c.activities.stopKeys(); err != nil {
		return err
	}

	for attempt := 1; attempt <= c.cfg.Success.MaxAttempts; attempt++ {
		if !c.sleep(ctx, c.cfg.Success.ConfirmDelay) {
			return ctx.Err()
		}
		if err := c.act.Confirm(); err != nil {
			return fmt.Errorf("confirm: %w", err)
		}

		_, obs, err := c.observe(ctx, successQuery)
		if err != nil {
			return err
		}
		if obs != obsAccepted {
			c.logger.Debug("catch confirmed", "run_id", c.RunID(), "attempts", attempt)
			return nil
		}
	}

	c.logger.Warn("success marker still visible, casting anyway",
		"run_id", c.RunID(),
		"attempts", c.cfg.Success.MaxAttempts,
	)
	return nil
}

// cast throws the line and lets it settle.
func (c *Controller) cast(ctx context.Context) error {
	c.transition(ctx, fishing.Casting)
	if err := c.act.Cast(ctx); err != nil {
		return fmt.Errorf("cast: %w", err)
	}
	if !c.sleep(ctx, c.cfg.Cast.Settle) {
		return ctx.Err()
	}
	return nil
}
