package actuator

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ClickState is the state of the repeated-click activity.
type ClickState string

// Click states.
const (
	ClickOff    ClickState = "off"
	ClickActive ClickState = "active"
	ClickPaused ClickState = "paused"
)

// DryRunConfig holds the durations a dry-run actuator simulates.
type DryRunConfig struct {
	CastDuration time.Duration
	ConfirmKey   string
	DPI          int
}

var _ Actuator = (*DryRun)(nil)

// DryRun logs every command instead of generating input. Blocking commands
// sleep for their nominal duration so the control loop sees realistic timing.
type DryRun struct {
	cfg    DryRunConfig
	logger *slog.Logger

	mu       sync.Mutex
	clicking ClickState
	held     string
}

// NewDryRun creates a dry-run actuator.
func NewDryRun(cfg DryRunConfig, logger *slog.Logger) *DryRun {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 96
	}
	return &DryRun{cfg: cfg, logger: logger, clicking: ClickOff}
}

func (d *DryRun) setClicking(to ClickState) {
	d.mu.Lock()
	from := d.clicking
	d.clicking = to
	d.mu.Unlock()
	if from != to {
		d.logger.Debug("clicking", "from", from, "to", to)
	}
}

// StartClicking begins the click activity.
func (d *DryRun) StartClicking() error {
	d.setClicking(ClickActive)
	return nil
}

// PauseClicking suspends the click activity if it is running.
func (d *DryRun) PauseClicking() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.clicking == ClickActive {
		d.clicking = ClickPaused
		d.logger.Debug("clicking", "from", ClickActive, "to", ClickPaused)
	}
	return nil
}

// ResumeClicking continues a paused click activity.
func (d *DryRun) ResumeClicking() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.clicking == ClickPaused {
		d.clicking = ClickActive
		d.logger.Debug("clicking", "from", ClickPaused, "to", ClickActive)
	}
	return nil
}

// StopClicking ends the click activity.
func (d *DryRun) StopClicking() error {
	d.setClicking(ClickOff)
	return nil
}

// PressKey holds key for dur, or until ctx is done.
func (d *DryRun) PressKey(ctx context.Context, key string, dur time.Duration) error {
	d.mu.Lock()
	d.held = key
	d.mu.Unlock()
	d.logger.Debug("key down", "key", key, "duration", dur)

	defer func() {
		d.mu.Lock()
		d.held = ""
		d.mu.Unlock()
		d.logger.Debug("key up", "key", key)
	}()

	return hold(ctx, dur)
}

// MoveMouseRight converts the distance to pixels at the configured DPI.
func (d *DryRun) MoveMouseRight(distanceCM float64) error {
	px := int(distanceCM / 2.54 * float64(d.cfg.DPI))
	d.logger.Info("move mouse right", "cm", distanceCM, "pixels", px)
	return nil
}

// Cast performs the long cast press.
func (d *DryRun) Cast(ctx context.Context) error {
	d.logger.Info("cast", "duration", d.cfg.CastDuration)
	return hold(ctx, d.cfg.CastDuration)
}

// Confirm taps the confirm key.
func (d *DryRun) Confirm() error {
	d.logger.Info("confirm", "key", d.cfg.ConfirmKey)
	return nil
}

// ReleaseKeys releases whatever key is held.
func (d *DryRun) ReleaseKeys() error {
	d.mu.Lock()
	held := d.held
	d.held = ""
	d.mu.Unlock()
	if held != "" {
		d.logger.Debug("key released", "key", held)
	}
	return nil
}

// Clicking returns the current click state.
func (d *DryRun) Clicking() ClickState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clicking
}

// Held returns the key currently held, or "".
func (d *DryRun) Held() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.held
}

// hold waits for d, returning early without error when ctx is done. An
// interrupted press still releases its key, which is all the caller needs.
func hold(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	return nil
}
