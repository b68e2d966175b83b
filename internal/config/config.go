// Package config provides configuration types and defaults for reeler.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds all configuration for reeler.
type Config struct {
	Polling     PollingConfig     `yaml:"polling" mapstructure:"polling"`
	Timeouts    TimeoutConfig     `yaml:"timeouts" mapstructure:"timeouts"`
	Hook        HookConfig        `yaml:"hook" mapstructure:"hook"`
	Reel        ReelConfig        `yaml:"reel" mapstructure:"reel"`
	Success     SuccessConfig     `yaml:"success" mapstructure:"success"`
	Cast        CastConfig        `yaml:"cast" mapstructure:"cast"`
	KeyCycle    KeyCycleConfig    `yaml:"key_cycle" mapstructure:"key_cycle"`
	Classifier  ClassifierConfig  `yaml:"classifier" mapstructure:"classifier"`
	Actuator    ActuatorConfig    `yaml:"actuator" mapstructure:"actuator"`
	Paths       PathsConfig       `yaml:"paths" mapstructure:"paths"`
	LogRotation LogRotationConfig `yaml:"log_rotation" mapstructure:"log_rotation"`
}

// PollingConfig holds classifier polling intervals per stage.
type PollingConfig struct {
	Initial time.Duration `yaml:"initial" mapstructure:"initial"` // WaitingInitial / WaitingHook
	Hooked  time.Duration `yaml:"hooked" mapstructure:"hooked"`   // FishHooked
	Reeling time.Duration `yaml:"reeling" mapstructure:"reeling"` // PullingNormal / PullingHalfway
}

// TimeoutConfig holds the control loop deadlines.
type TimeoutConfig struct {
	Bite          time.Duration `yaml:"bite" mapstructure:"bite"`                     // WaitingInitial + WaitingHook
	HookToPull    time.Duration `yaml:"hook_to_pull" mapstructure:"hook_to_pull"`     // FishHooked before stall retry
	Stop          time.Duration `yaml:"stop" mapstructure:"stop"`                     // bounded join on Stop
	EmergencyStop time.Duration `yaml:"emergency_stop" mapstructure:"emergency_stop"` // bounded join on EmergencyStop
}

// HookConfig holds hook debounce settings.
type HookConfig struct {
	Confirmations int `yaml:"confirmations" mapstructure:"confirmations"` // consecutive hook labels required
}

// ReelConfig holds reeling behaviour.
type ReelConfig struct {
	HalfwayPause time.Duration `yaml:"halfway_pause" mapstructure:"halfway_pause"`
	RetryMouseCM float64       `yaml:"retry_mouse_cm" mapstructure:"retry_mouse_cm"` // pointer shift before recasting a stalled hook
}

// SuccessConfig holds the catch confirmation loop.
type SuccessConfig struct {
	ConfirmDelay time.Duration `yaml:"confirm_delay" mapstructure:"confirm_delay"`
	MaxAttempts  int           `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// CastConfig holds cast timing.
type CastConfig struct {
	Duration time.Duration `yaml:"duration" mapstructure:"duration"` // long press length
	Settle   time.Duration `yaml:"settle" mapstructure:"settle"`     // wait after casting
}

// KeyCycleConfig holds the alternating key-hold schedule.
type KeyCycleConfig struct {
	KeyA        string        `yaml:"key_a" mapstructure:"key_a"`
	KeyB        string        `yaml:"key_b" mapstructure:"key_b"`
	Hold        time.Duration `yaml:"hold" mapstructure:"hold"`
	Gap         time.Duration `yaml:"gap" mapstructure:"gap"`
	JoinTimeout time.Duration `yaml:"join_timeout" mapstructure:"join_timeout"`
}

// ClassifierConfig holds detection settings.
type ClassifierConfig struct {
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"` // minimum confidence
	Script    string  `yaml:"script" mapstructure:"script"`       // detection script for rehearsal runs
}

// ActuatorConfig holds input simulation settings.
type ActuatorConfig struct {
	ConfirmKey string `yaml:"confirm_key" mapstructure:"confirm_key"`
	DPI        int    `yaml:"dpi" mapstructure:"dpi"`
}

// PathsConfig holds file paths for the status journal, stats, and log.
type PathsConfig struct {
	Journal string `yaml:"journal" mapstructure:"journal"`
	Stats   string `yaml:"stats" mapstructure:"stats"`
	Log     string `yaml:"log" mapstructure:"log"`
}

// LogRotationConfig holds settings for log file rotation.
type LogRotationConfig struct {
	MaxSizeMB  int  `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool `yaml:"compress" mapstructure:"compress"`
}

// Default returns a Config with the stock minigame timings.
func Default() *Config {
	return &Config{
		Polling: PollingConfig{
			Initial: 100 * time.Millisecond,
			Hooked:  50 * time.Millisecond,
			Reeling: 50 * time.Millisecond,
		},
		Timeouts: TimeoutConfig{
			Bite:          180 * time.Second,
			HookToPull:    3 * time.Second,
			Stop:          2 * time.Second,
			EmergencyStop: 500 * time.Millisecond,
		},
		Hook: HookConfig{
			Confirmations: 3,
		},
		Reel: ReelConfig{
			HalfwayPause: time.Second,
			RetryMouseCM: 3.0,
		},
		Success: SuccessConfig{
			ConfirmDelay: 1500 * time.Millisecond,
			MaxAttempts:  20,
		},
		Cast: CastConfig{
			Duration: 2 * time.Second,
			Settle:   time.Second,
		},
		KeyCycle: KeyCycleConfig{
			KeyA:        "a",
			KeyB:        "d",
			Hold:        1500 * time.Millisecond,
			Gap:         500 * time.Millisecond,
			JoinTimeout: 2 * time.Second,
		},
		Classifier: ClassifierConfig{
			Threshold: 0.5,
		},
		Actuator: ActuatorConfig{
			ConfirmKey: "f",
			DPI:        96,
		},
		Paths: PathsConfig{
			Journal: ".reeler/journal.jsonl",
			Stats:   ".reeler/stats.json",
			Log:     "",
		},
		LogRotation: LogRotationConfig{
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
		},
	}
}

// Validate reports every setting that would make the control loop misbehave.
func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}

	positive("polling.initial", c.Polling.Initial)
	positive("polling.hooked", c.Polling.Hooked)
	positive("polling.reeling", c.Polling.Reeling)
	positive("timeouts.bite", c.Timeouts.Bite)
	positive("timeouts.hook_to_pull", c.Timeouts.HookToPull)
	positive("timeouts.stop", c.Timeouts.Stop)
	positive("timeouts.emergency_stop", c.Timeouts.EmergencyStop)
	positive("key_cycle.hold", c.KeyCycle.Hold)
	positive("key_cycle.join_timeout", c.KeyCycle.JoinTimeout)

	if c.Reel.HalfwayPause < 0 {
		errs = append(errs, fmt.Errorf("reel.halfway_pause must not be negative, got %s", c.Reel.HalfwayPause))
	}
	if c.Success.ConfirmDelay < 0 {
		errs = append(errs, fmt.Errorf("success.confirm_delay must not be negative, got %s", c.Success.ConfirmDelay))
	}
	if c.Cast.Duration < 0 || c.Cast.Settle < 0 {
		errs = append(errs, errors.New("cast durations must not be negative"))
	}
	if c.KeyCycle.Gap < 0 {
		errs = append(errs, fmt.Errorf("key_cycle.gap must not be negative, got %s", c.KeyCycle.Gap))
	}
	if c.Hook.Confirmations < 1 {
		errs = append(errs, fmt.Errorf("hook.confirmations must be at least 1, got %d", c.Hook.Confirmations))
	}
	if c.Success.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("success.max_attempts must be at least 1, got %d", c.Success.MaxAttempts))
	}
	if c.KeyCycle.KeyA == "" || c.KeyCycle.KeyB == "" {
		errs = append(errs, errors.New("key_cycle.key_a and key_cycle.key_b are required"))
	}
	if c.Classifier.Threshold < 0 || c.Classifier.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("classifier.threshold must be in [0, 1), got %v", c.Classifier.Threshold))
	}
	if c.Reel.RetryMouseCM < 0 {
		errs = append(errs, fmt.Errorf("reel.retry_mouse_cm must not be negative, got %v", c.Reel.RetryMouseCM))
	}

	return errors.Join(errs...)
}
