// Package actuator defines the simulated-input surface the control core
// drives, and a dry-run implementation that only logs.
package actuator

import (
	"context"
	"time"
)

// Actuator performs simulated clicks, key holds, and pointer movement.
// Click commands are idempotent. PressKey and Cast block for their duration
// and must return early (releasing the key) when ctx is done.
type Actuator interface {
	StartClicking() error
	PauseClicking() error
	ResumeClicking() error
	StopClicking() error

	PressKey(ctx context.Context, key string, d time.Duration) error
	MoveMouseRight(distanceCM float64) error
	Cast(ctx context.Context) error
	Confirm() error

	// ReleaseKeys releases any key currently held.
	ReleaseKeys() error
}

// KeyPresser is the subset of Actuator the key-cycle worker needs.
type KeyPresser interface {
	PressKey(ctx context.Context, key string, d time.Duration) error
	ReleaseKeys() error
}
