// Package testutil provides fakes and helpers shared by the package tests.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/npratt/reeler/internal/actuator"
)

// Actuator method names used in recorded calls and canned errors.
const (
	MethodStartClicking  = "StartClicking"
	MethodPauseClicking  = "PauseClicking"
	MethodResumeClicking = "ResumeClicking"
	MethodStopClicking   = "StopClicking"
	MethodPressKey       = "PressKey"
	MethodMoveMouseRight = "MoveMouseRight"
	MethodCast           = "Cast"
	MethodConfirm        = "Confirm"
	MethodReleaseKeys    = "ReleaseKeys"
)

// ActuatorCall records one actuator invocation.
type ActuatorCall struct {
	Method   string
	Key      string
	Duration time.Duration
	Distance float64
}

// FakeActuator records every call and tracks click and key state the way a
// real actuator would. Blocking calls honour their context.
type FakeActuator struct {
	mu       sync.Mutex
	calls    []ActuatorCall
	clicking actuator.ClickState
	held     string

	// Errors maps a method name to the error it returns.
	Errors map[string]error
	// CastDuration is how long Cast blocks.
	CastDuration time.Duration
	// IgnoreCancel makes PressKey ignore its context, simulating a stuck
	// input backend.
	IgnoreCancel bool
}

var _ actuator.Actuator = (*FakeActuator)(nil)

// NewFakeActuator creates a FakeActuator that is not clicking and holds no key.
func NewFakeActuator() *FakeActuator {
	return &FakeActuator{
		clicking: actuator.ClickOff,
		Errors:   make(map[string]error),
	}
}

func (f *FakeActuator) record(call ActuatorCall) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.Errors[call.Method]
}

// SetError makes method return err from now on.
func (f *FakeActuator) SetError(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[method] = err
}

// StartClicking implements actuator.Actuator.
func (f *FakeActuator) StartClicking() error {
	if err := f.record(ActuatorCall{Method: MethodStartClicking}); err != nil {
		return err
	}
	f.mu.Lock()
	f.clicking = actuator.ClickActive
	f.mu.Unlock()
	return nil
}

// PauseClicking implements actuator.Actuator.
func (f *FakeActuator) PauseClicking() error {
	if err := f.record(ActuatorCall{Method: MethodPauseClicking}); err != nil {
		return err
	}
	f.mu.Lock()
	if f.clicking == actuator.ClickActive {
		f.clicking = actuator.ClickPaused
	}
	f.mu.Unlock()
	return nil
}

// ResumeClicking implements actuator.Actuator.
func (f *FakeActuator) ResumeClicking() error {
	if err := f.record(ActuatorCall{Method: MethodResumeClicking}); err != nil {
		return err
	}
	f.mu.Lock()
	if f.clicking == actuator.ClickPaused {
		f.clicking = actuator.ClickActive
	}
	f.mu.Unlock()
	return nil
}

// StopClicking implements actuator.Actuator.
func (f *FakeActuator) StopClicking() error {
	err := f.record(ActuatorCall{Method: MethodStopClicking})
	f.mu.Lock()
	f.clicking = actuator.ClickOff
	f.mu.Unlock()
	return err
}

// PressKey implements actuator.Actuator.
func (f *FakeActuator) PressKey(ctx context.Context, key string, d time.Duration) error {
	if err := f.record(ActuatorCall{Method: MethodPressKey, Key: key, Duration: d}); err != nil {
		return err
	}

	f.mu.Lock()
	f.held = key
	ignore := f.IgnoreCancel
	f.mu.Unlock()

	if ignore {
		time.Sleep(d)
	} else {
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
		timer.Stop()
	}

	f.mu.Lock()
	if f.held == key {
		f.held = ""
	}
	f.mu.Unlock()
	return nil
}

// MoveMouseRight implements actuator.Actuator.
func (f *FakeActuator) MoveMouseRight(distanceCM float64) error {
	return f.record(ActuatorCall{Method: MethodMoveMouseRight, Distance: distanceCM})
}

// Cast implements actuator.Actuator.
func (f *FakeActuator) Cast(ctx context.Context) error {
	if err := f.record(ActuatorCall{Method: MethodCast, Duration: f.CastDuration}); err != nil {
		return err
	}
	if f.CastDuration > 0 {
		timer := time.NewTimer(f.CastDuration)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
	}
	return nil
}

// Confirm implements actuator.Actuator.
func (f *FakeActuator) Confirm() error {
	return f.record(ActuatorCall{Method: MethodConfirm})
}

// ReleaseKeys implements actuator.Actuator.
func (f *FakeActuator) ReleaseKeys() error {
	err := f.record(ActuatorCall{Method: MethodReleaseKeys})
	f.mu.Lock()
	f.held = ""
	f.mu.Unlock()
	return err
}

// Calls returns a copy of every recorded call.
func (f *FakeActuator) Calls() []ActuatorCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ActuatorCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// Methods returns the recorded method names in call order.
func (f *FakeActuator) Methods() []string {
	calls := f.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Method
	}
	return out
}

// CallCount returns how many times method was called.
func (f *FakeActuator) CallCount(method string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Clicking returns the current click state.
func (f *FakeActuator) Clicking() actuator.ClickState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clicking
}

// Held returns the key currently held, or "".
func (f *FakeActuator) Held() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held
}
