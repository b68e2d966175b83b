package testutil

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npratt/reeler/internal/actuator"
	"github.com/npratt/reeler/internal/events"
	"github.com/npratt/reeler/internal/fishing"
)

func TestWriteReadFile(t *testing.T) {
	dir := t.TempDir()

	path := WriteFile(t, dir, "nested/dir/test.txt", "hello world")
	assert.Equal(t, filepath.Join(dir, "nested/dir/test.txt"), path)
	assert.True(t, FileExists(t, path))
	assert.Equal(t, "hello world", ReadFile(t, path))
	assert.False(t, FileExists(t, filepath.Join(dir, "missing")))
}

func TestFakeActuatorState(t *testing.T) {
	fake := NewFakeActuator()

	require.NoError(t, fake.StartClicking())
	require.NoError(t, fake.PauseClicking())
	assert.Equal(t, actuator.ClickPaused, fake.Clicking())
	require.NoError(t, fake.ResumeClicking())
	assert.Equal(t, actuator.ClickActive, fake.Clicking())

	boom := errors.New("boom")
	fake.SetError(MethodStopClicking, boom)
	assert.ErrorIs(t, fake.StopClicking(), boom)
	assert.Equal(t, actuator.ClickOff, fake.Clicking(), "stop still takes effect")

	require.NoError(t, fake.PressKey(context.Background(), "a", 0))
	assert.Empty(t, fake.Held())

	AssertCallCount(t, fake, MethodStopClicking, 1)
	AssertCalled(t, fake, MethodPressKey)
	AssertNotCalled(t, fake, MethodCast)
	AssertSubsequence(t, fake.Methods(), []string{MethodStartClicking, MethodStopClicking, MethodPressKey})
}

func TestFakeClassifier(t *testing.T) {
	boom := errors.New("camera unplugged")
	fc := NewFakeClassifier(See(fishing.LabelHook, 0.9), See(fishing.LabelSuccess, 0.8), Silence(), Fail(boom))
	initial := fishing.Labels(fishing.LabelWaiting, fishing.LabelHook)

	d, ok, err := fc.Detect(context.Background(), initial)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, fishing.LabelHook, d.Label)

	_, ok, err = fc.Detect(context.Background(), initial)
	require.NoError(t, err)
	assert.False(t, ok, "label outside the allowed set reads as silence")

	_, ok, _ = fc.Detect(context.Background(), initial)
	assert.False(t, ok)

	_, _, err = fc.Detect(context.Background(), initial)
	assert.ErrorIs(t, err, boom)

	fc.Fallback = func(fishing.LabelSet) Result { return See(fishing.LabelWaiting, 0.7) }
	d, ok, _ = fc.Detect(context.Background(), initial)
	assert.True(t, ok)
	assert.Equal(t, fishing.LabelWaiting, d.Label)

	assert.Equal(t, 5, fc.Calls())
	assert.Equal(t, 0, fc.Remaining())
	assert.Len(t, fc.AllowedSets(), 5)
}

func TestPhaseHelpers(t *testing.T) {
	walk := []fishing.Phase{fishing.Stopped, fishing.WaitingInitial, fishing.WaitingHook, fishing.Failed("timeout")}
	AssertValidWalk(t, walk)
	assert.True(t, ContainsPhase(walk, fishing.WaitingHook))
	assert.Equal(t, fishing.KindError, PhaseKinds(walk)[3])
}

func TestRecorder(t *testing.T) {
	p := events.NewPublisher(nil)
	r := Record(p)

	_, ok := r.Last()
	assert.False(t, ok)

	p.Publish(events.StatusSnapshot{Phase: fishing.WaitingInitial})
	p.Publish(events.StatusSnapshot{Phase: fishing.WaitingInitial, Paused: true})
	p.Publish(events.StatusSnapshot{Phase: fishing.WaitingHook, RoundCount: 2})

	assert.Len(t, r.Snapshots(), 3)
	assert.Equal(t, []fishing.Phase{fishing.WaitingInitial, fishing.WaitingHook}, r.Phases())
	assert.True(t, r.Saw(fishing.WaitingHook))
	assert.False(t, r.Saw(fishing.Casting))

	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, 2, last.RoundCount)

	r.WaitForPhase(t, fishing.WaitingHook, time.Second)
}
