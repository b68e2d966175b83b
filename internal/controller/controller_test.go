package controller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npratt/reeler/internal/actuator"
	"github.com/npratt/reeler/internal/config"
	"github.com/npratt/reeler/internal/events"
	"github.com/npratt/reeler/internal/fishing"
	"github.com/npratt/reeler/internal/testutil"
)

const waitTimeout = 3 * time.Second

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig shrinks every timing to milliseconds.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Polling = config.PollingConfig{
		Initial: time.Millisecond,
		Hooked:  time.Millisecond,
		Reeling: time.Millisecond,
	}
	cfg.Timeouts = config.TimeoutConfig{
		Bite:          2 * time.Second,
		HookToPull:    30 * time.Millisecond,
		Stop:          time.Second,
		EmergencyStop: 200 * time.Millisecond,
	}
	cfg.Reel.HalfwayPause = time.Millisecond
	cfg.Success.ConfirmDelay = time.Millisecond
	cfg.Cast = config.CastConfig{Duration: 0, Settle: time.Millisecond}
	cfg.KeyCycle.Hold = 5 * time.Millisecond
	cfg.KeyCycle.Gap = 2 * time.Millisecond
	cfg.KeyCycle.JoinTimeout = 500 * time.Millisecond
	return cfg
}

type harness struct {
	ctrl *Controller
	cls  *testutil.FakeClassifier
	act  *testutil.FakeActuator
	rec  *testutil.Recorder
}

func newHarness(cfg *config.Config, results ...testutil.Result) *harness {
	cls := testutil.NewFakeClassifier(results...)
	act := testutil.NewFakeActuator()
	pub := events.NewPublisher(quietLogger())
	return &harness{
		ctrl: New(cfg, cls, act, pub, quietLogger()),
		cls:  cls,
		act:  act,
		rec:  testutil.Record(pub),
	}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.ctrl.Start(context.Background()))
	t.Cleanup(func() { _ = h.ctrl.Stop() })
}

// assertReleased checks the actuator is idle with nothing held.
func (h *harness) assertReleased(t *testing.T) {
	t.Helper()
	assert.Equal(t, actuator.ClickOff, h.act.Clicking())
	assert.Empty(t, h.act.Held())
	testutil.AssertCalled(t, h.act, testutil.MethodStopClicking)
	testutil.AssertCalled(t, h.act, testutil.MethodReleaseKeys)
}

// waitForRound waits until the loop is back in WaitingInitial with the given
// counters.
func (h *harness) waitForRound(t *testing.T, rounds, stalls int) {
	t.Helper()
	testutil.WaitFor(t, waitTimeout, func() bool {
		s := h.ctrl.Status()
		return s.Phase == fishing.WaitingInitial && s.RoundCount == rounds && s.StallRetries == stalls
	}, "expected %d rounds and %d stalls; phases %v", rounds, stalls, h.rec.Phases())
}

func see(l fishing.Label) testutil.Result {
	return testutil.See(l, 0.9)
}

// bite is a clean WaitingInitial -> FishHooked sequence.
func bite() []testutil.Result {
	return []testutil.Result{see(0), see(1), see(1), see(1)}
}

// catch is a full round ending in a single confirmation.
func catch() []testutil.Result {
	return append(bite(), see(2), see(3), see(4), testutil.Silence())
}

func TestConcreteRound(t *testing.T) {
	h := newHarness(testConfig(), append(bite(), see(2))...)
	h.start(t)

	// Hold the round in PullingNormal until the key cycle has pressed a key.
	testutil.WaitFor(t, waitTimeout, func() bool {
		return h.act.CallCount(testutil.MethodPressKey) > 0
	}, "key cycle never started")
	assert.Equal(t, fishing.PullingNormal, h.ctrl.Phase())
	assert.Equal(t, actuator.ClickActive, h.act.Clicking())

	h.cls.Push(see(3), see(4), testutil.Silence())

	h.waitForRound(t, 1, 0)

	require.NoError(t, h.ctrl.Stop())
	require.NoError(t, h.ctrl.Wait())

	assert.Equal(t, []fishing.Phase{
		fishing.WaitingInitial,
		fishing.WaitingHook,
		fishing.FishHooked,
		fishing.PullingNormal,
		fishing.PullingHalfway,
		fishing.Success,
		fishing.Casting,
		fishing.WaitingInitial,
		fishing.Stopped,
	}, h.rec.Phases())

	testutil.AssertSubsequence(t, h.act.Methods(), []string{
		testutil.MethodStartClicking,
		testutil.MethodPressKey,
		testutil.MethodPauseClicking,
		testutil.MethodStopClicking,
		testutil.MethodConfirm,
		testutil.MethodCast,
	})
	testutil.AssertCallCount(t, h.act, testutil.MethodConfirm, 1)
	testutil.AssertCallCount(t, h.act, testutil.MethodStartClicking, 1)
	testutil.AssertNotCalled(t, h.act, testutil.MethodMoveMouseRight)
	h.assertReleased(t)

	final := h.ctrl.Status()
	assert.Equal(t, fishing.Stopped, final.Phase)
	assert.Equal(t, 1, final.RoundCount)
	assert.Equal(t, 0, final.StallRetries)
}

func TestSnapshotsCarryRunState(t *testing.T) {
	h := newHarness(testConfig(), catch()...)
	h.start(t)

	testutil.WaitFor(t, waitTimeout, func() bool { return h.ctrl.Status().RoundCount == 1 })
	require.NoError(t, h.ctrl.Stop())

	snaps := h.rec.Snapshots()
	require.NotEmpty(t, snaps)
	runID := snaps[0].RunID
	assert.NotEmpty(t, runID)
	for _, s := range snaps {
		assert.Equal(t, runID, s.RunID)
		assert.False(t, s.StartedAt.IsZero())
		assert.False(t, s.Timestamp.Before(s.StartedAt))
	}

	assert.Equal(t, fishing.NoLabel, snaps[0].LastLabel, "nothing accepted before the first transition")
	for _, s := range snaps {
		if s.Phase == fishing.Success {
			assert.Equal(t, fishing.LabelSuccess, s.LastLabel)
			assert.InDelta(t, 0.9, s.Confidence, 1e-9)
		}
	}

	// A second run gets a fresh identity and counters.
	h.cls.Push(testutil.Silence())
	require.NoError(t, h.ctrl.Start(context.Background()))
	assert.NotEqual(t, runID, h.ctrl.RunID())
	assert.Equal(t, 0, h.ctrl.Status().RoundCount)
	require.NoError(t, h.ctrl.Stop())
}

func TestStallRetry(t *testing.T) {
	cfg := testConfig()
	h := newHarness(cfg, bite()...)
	h.start(t)

	h.waitForRound(t, 0, 1)
	require.NoError(t, h.ctrl.Stop())

	assert.Equal(t, []fishing.Phase{
		fishing.WaitingInitial,
		fishing.WaitingHook,
		fishing.FishHooked,
		fishing.WaitingInitial,
		fishing.Stopped,
	}, h.rec.Phases())

	testutil.AssertSubsequence(t, h.act.Methods(), []string{
		testutil.MethodStartClicking,
		testutil.MethodStopClicking,
		testutil.MethodMoveMouseRight,
		testutil.MethodCast,
	})
	testutil.AssertCallCount(t, h.act, testutil.MethodMoveMouseRight, 1)
	testutil.AssertCallCount(t, h.act, testutil.MethodCast, 1)
	testutil.AssertNotCalled(t, h.act, testutil.MethodPressKey)

	for _, c := range h.act.Calls() {
		if c.Method == testutil.MethodMoveMouseRight {
			assert.InDelta(t, cfg.Reel.RetryMouseCM, c.Distance, 1e-9)
		}
	}

	s := h.ctrl.Status()
	assert.Equal(t, 0, s.RoundCount, "a stalled round is not counted")
	assert.Empty(t, s.ErrorMessage, "a stall is not an error")
}

func TestRoundCountingAcrossStalls(t *testing.T) {
	h := newHarness(testConfig(), append(catch(), bite()...)...)
	h.start(t)

	h.waitForRound(t, 1, 1)

	h.cls.Push(catch()...)
	h.waitForRound(t, 2, 1)
	require.NoError(t, h.ctrl.Stop())

	s := h.ctrl.Status()
	assert.Equal(t, 2, s.RoundCount)
	assert.Equal(t, 1, s.StallRetries)
	testutil.AssertValidWalk(t, h.rec.Phases())

	// round_count only ever moves up by one, and only on Casting -> WaitingInitial.
	snaps := h.rec.Snapshots()
	for i := 1; i < len(snaps); i++ {
		prev, cur := snaps[i-1], snaps[i]
		switch cur.RoundCount - prev.RoundCount {
		case 0:
		case 1:
			assert.Equal(t, fishing.Casting, prev.Phase)
			assert.Equal(t, fishing.WaitingInitial, cur.Phase)
		default:
			t.Fatalf("round count jumped from %d to %d", prev.RoundCount, cur.RoundCount)
		}
	}
}

func TestHookDebounce(t *testing.T) {
	silence := testutil.Silence()
	tests := []struct {
		name    string
		results []testutil.Result
		hooked  bool
	}{
		{"three in a row", []testutil.Result{see(0), see(1), see(1), see(1)}, true},
		{"first label may be the hook", []testutil.Result{see(1), see(1), see(1)}, true},
		{"silence breaks the run", []testutil.Result{see(1), see(1), silence, see(1), see(1)}, false},
		{"run rebuilt after silence", []testutil.Result{see(1), see(1), silence, see(1), see(1), see(1)}, true},
		{"rejected label does not break the run", []testutil.Result{see(1), see(1), see(0), see(1)}, true},
		{"waiting label alone never hooks", testutil.Repeat(see(0), 10), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Timeouts.Bite = 100 * time.Millisecond
			cfg.Timeouts.HookToPull = 10 * time.Millisecond
			h := newHarness(cfg, tt.results...)

			err := h.ctrl.Run(context.Background())

			var failure *FailureError
			require.ErrorAs(t, err, &failure, "run should end on the bite deadline")
			assert.Equal(t, tt.hooked, h.rec.Saw(fishing.FishHooked), "phases %v", h.rec.Phases())
			testutil.AssertValidWalk(t, h.rec.Phases())
		})
	}
}

func TestBiteTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Timeouts.Bite = 50 * time.Millisecond
	h := newHarness(cfg, see(0))

	start := time.Now()
	err := h.ctrl.Run(context.Background())
	elapsed := time.Since(start)

	var failure *FailureError
	require.ErrorAs(t, err, &failure)
	assert.Contains(t, failure.Reason, ErrBiteTimeout.Error())
	assert.GreaterOrEqual(t, elapsed, cfg.Timeouts.Bite)

	s := h.ctrl.Status()
	assert.Equal(t, fishing.KindError, s.Phase.Kind())
	assert.Contains(t, s.ErrorMessage, "bite timeout")
	assert.Equal(t, testutil.PhaseKinds([]fishing.Phase{
		fishing.WaitingInitial,
		fishing.WaitingHook,
		fishing.Failed(""),
	}), testutil.PhaseKinds(h.rec.Phases()))

	last, ok := h.rec.Last()
	require.True(t, ok)
	assert.Equal(t, s.ErrorMessage, last.ErrorMessage)
	h.assertReleased(t)
}

func TestRejectedLabelDoesNotTransition(t *testing.T) {
	// Label 4 straight after the hook fails validation: no 2 or 3 yet.
	h := newHarness(testConfig(), append(bite(), see(4))...)
	h.start(t)

	testutil.WaitFor(t, waitTimeout, func() bool { return h.ctrl.Status().StallRetries == 1 })
	require.NoError(t, h.ctrl.Stop())

	assert.False(t, h.rec.Saw(fishing.Success))
	testutil.AssertNotCalled(t, h.act, testutil.MethodConfirm)
}

func TestLingeringHookLabelStalls(t *testing.T) {
	// The hook label outside the reel query reads as silence while hooked.
	h := newHarness(testConfig(), append(bite(), see(1), see(1), see(1))...)
	h.start(t)

	testutil.WaitFor(t, waitTimeout, func() bool { return h.ctrl.Status().StallRetries == 1 })
	require.NoError(t, h.ctrl.Stop())

	assert.False(t, h.rec.Saw(fishing.PullingNormal))
	assert.False(t, h.rec.Saw(fishing.PullingHalfway))
	assert.Zero(t, h.ctrl.Status().RoundCount)
}

func TestSuccessConfirmationBound(t *testing.T) {
	cfg := testConfig()
	h := newHarness(cfg, append(bite(), see(2))...)
	h.cls.Fallback = func(fishing.LabelSet) testutil.Result { return see(4) }
	h.start(t)

	h.waitForRound(t, 1, 0)
	require.NoError(t, h.ctrl.Stop())

	testutil.AssertCallCount(t, h.act, testutil.MethodConfirm, cfg.Success.MaxAttempts)
	assert.Equal(t, []fishing.Phase{
		fishing.WaitingInitial,
		fishing.WaitingHook,
		fishing.FishHooked,
		fishing.PullingNormal,
		fishing.Success,
		fishing.Casting,
		fishing.WaitingInitial,
		fishing.Stopped,
	}, h.rec.Phases())
}

func TestHalfwayOscillationDedupesClicks(t *testing.T) {
	results := append(bite(), see(2), see(3), see(2), see(3), see(2), see(3), see(4), testutil.Silence())
	h := newHarness(testConfig(), results...)
	h.start(t)

	testutil.WaitFor(t, waitTimeout, func() bool { return h.ctrl.Status().RoundCount == 1 })
	require.NoError(t, h.ctrl.Stop())

	testutil.AssertCallCount(t, h.act, testutil.MethodStartClicking, 1)
	testutil.AssertCallCount(t, h.act, testutil.MethodPauseClicking, 3)
	testutil.AssertCallCount(t, h.act, testutil.MethodResumeClicking, 2)
	testutil.AssertValidWalk(t, h.rec.Phases())
}

func TestStopFromEveryPhase(t *testing.T) {
	type setup struct {
		results  []testutil.Result
		fallback func(fishing.LabelSet) testutil.Result
		tweak    func(*config.Config, *testutil.FakeActuator)
	}
	alwaysSuccess := func(fishing.LabelSet) testutil.Result { return see(4) }

	phases := map[fishing.PhaseKind]setup{
		fishing.KindWaitingInitial: {},
		fishing.KindWaitingHook:    {results: []testutil.Result{see(0)}},
		fishing.KindFishHooked: {
			results: bite(),
			tweak:   func(c *config.Config, _ *testutil.FakeActuator) { c.Timeouts.HookToPull = time.Minute },
		},
		fishing.KindPullingNormal:  {results: append(bite(), see(2))},
		fishing.KindPullingHalfway: {results: append(bite(), see(2), see(3))},
		fishing.KindSuccess: {
			results:  append(bite(), see(2)),
			fallback: alwaysSuccess,
			tweak: func(c *config.Config, _ *testutil.FakeActuator) {
				c.Success.ConfirmDelay = 5 * time.Millisecond
				c.Success.MaxAttempts = 100000
			},
		},
		fishing.KindCasting: {
			results: append(bite(), see(2), see(4), testutil.Silence()),
			tweak: func(_ *config.Config, a *testutil.FakeActuator) {
				a.CastDuration = time.Minute
			},
		},
	}

	stops := map[string]func(*Controller) error{
		"stop":           (*Controller).Stop,
		"emergency stop": (*Controller).EmergencyStop,
	}

	for kind, s := range phases {
		for name, stop := range stops {
			t.Run(kind.String()+"/"+name, func(t *testing.T) {
				cfg := testConfig()
				cfg.Timeouts.Bite = time.Minute
				h := newHarness(cfg, s.results...)
				h.cls.Fallback = s.fallback
				if s.tweak != nil {
					s.tweak(cfg, h.act)
				}
				h.start(t)

				testutil.WaitFor(t, waitTimeout, func() bool {
					return h.ctrl.Phase().Kind() == kind
				}, "never reached %s; phases %v", kind, h.rec.Phases())

				begin := time.Now()
				require.NoError(t, stop(h.ctrl))
				assert.Less(t, time.Since(begin), time.Second)
				require.NoError(t, h.ctrl.Wait())

				assert.Equal(t, fishing.Stopped, h.ctrl.Phase())
				h.assertReleased(t)
				testutil.AssertValidWalk(t, h.rec.Phases())
				assert.ErrorIs(t, stop(h.ctrl), ErrNotRunning)
			})
		}
	}
}

func TestUnrecoverableErrors(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name    string
		results []testutil.Result
		method  string
		panics  bool
		want    string
	}{
		{name: "classifier error", results: []testutil.Result{see(0), testutil.Fail(boom)}, want: "classifier: boom"},
		{name: "start clicking", results: bite(), method: testutil.MethodStartClicking, want: "boom"},
		{name: "confirm", results: append(bite(), see(2), see(4)), method: testutil.MethodConfirm, want: "confirm: boom"},
		{name: "cast", results: catch(), method: testutil.MethodCast, want: "cast: boom"},
		{name: "classifier panic", results: []testutil.Result{see(0)}, panics: true, want: "panicked"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(testConfig(), tt.results...)
			if tt.method != "" {
				h.act.SetError(tt.method, boom)
			}
			if tt.panics {
				h.cls.Fallback = func(fishing.LabelSet) testutil.Result { panic("classifier exploded") }
			}

			err := h.ctrl.Run(context.Background())

			var failure *FailureError
			require.ErrorAs(t, err, &failure)
			assert.Contains(t, failure.Reason, tt.want)

			s := h.ctrl.Status()
			assert.Equal(t, fishing.KindError, s.Phase.Kind())
			assert.Contains(t, s.ErrorMessage, tt.want)
			h.assertReleased(t)
		})
	}
}

func TestKeyCycleFailureEndsRun(t *testing.T) {
	h := newHarness(testConfig(), append(bite(), see(2))...)
	h.act.SetError(testutil.MethodPressKey, errors.New("keyboard unplugged"))

	err := h.ctrl.Run(context.Background())

	var failure *FailureError
	require.ErrorAs(t, err, &failure)
	assert.Contains(t, failure.Reason, "keyboard unplugged")
	h.assertReleased(t)
}

func TestReleaseFailureStillStops(t *testing.T) {
	h := newHarness(testConfig())
	h.act.SetError(testutil.MethodStopClicking, errors.New("stuck"))
	h.start(t)

	h.rec.WaitForPhase(t, fishing.WaitingInitial, waitTimeout)
	require.NoError(t, h.ctrl.Stop())

	assert.Equal(t, fishing.Stopped, h.ctrl.Phase())
	testutil.AssertCalled(t, h.act, testutil.MethodReleaseKeys)
}

func TestControlSurfaceErrors(t *testing.T) {
	h := newHarness(testConfig())

	assert.ErrorIs(t, h.ctrl.Stop(), ErrNotRunning)
	assert.ErrorIs(t, h.ctrl.EmergencyStop(), ErrNotRunning)
	assert.ErrorIs(t, h.ctrl.Pause(), ErrNotRunning)
	assert.ErrorIs(t, h.ctrl.Resume(), ErrNotRunning)
	assert.ErrorIs(t, h.ctrl.Wait(), ErrNotRunning)
	assert.Equal(t, fishing.Stopped, h.ctrl.Phase())

	h.start(t)
	assert.ErrorIs(t, h.ctrl.Start(context.Background()), ErrAlreadyRunning)
}

func TestContextCancelStops(t *testing.T) {
	h := newHarness(testConfig())
	ctx, cancel := context.WithCancel(context.Background())

	var err error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err = h.ctrl.Run(ctx)
	}()

	h.rec.WaitForPhase(t, fishing.WaitingInitial, waitTimeout)
	cancel()
	wg.Wait()

	require.NoError(t, err)
	assert.Equal(t, fishing.Stopped, h.ctrl.Phase())
	h.assertReleased(t)
}

func TestPauseExtendsBiteDeadline(t *testing.T) {
	cfg := testConfig()
	cfg.Timeouts.Bite = 150 * time.Millisecond
	h := newHarness(cfg, see(0))
	h.start(t)

	h.rec.WaitForPhase(t, fishing.WaitingHook, waitTimeout)
	require.NoError(t, h.ctrl.Pause())
	require.NoError(t, h.ctrl.Pause(), "pausing twice is a no-op")
	assert.True(t, h.ctrl.Status().Paused)

	time.Sleep(20 * time.Millisecond)
	calls := h.cls.Calls()
	time.Sleep(250 * time.Millisecond)

	assert.Equal(t, calls, h.cls.Calls(), "no polling while paused")
	assert.Equal(t, fishing.WaitingHook, h.ctrl.Phase(), "deadline does not run while paused")

	last, ok := h.rec.Last()
	require.True(t, ok)
	assert.True(t, last.Paused)

	require.NoError(t, h.ctrl.Resume())
	require.NoError(t, h.ctrl.Resume(), "resuming twice is a no-op")
	assert.False(t, h.ctrl.Status().Paused)

	err := h.ctrl.Wait()
	var failure *FailureError
	require.ErrorAs(t, err, &failure, "deadline still applies after resume")
	assert.Contains(t, failure.Reason, "bite timeout")
}

func TestPauseSuspendsActivities(t *testing.T) {
	h := newHarness(testConfig(), append(bite(), see(2))...)
	h.start(t)

	testutil.WaitFor(t, waitTimeout, func() bool {
		return h.act.CallCount(testutil.MethodPressKey) > 0
	})

	require.NoError(t, h.ctrl.Pause())
	assert.Equal(t, actuator.ClickPaused, h.act.Clicking())
	assert.Empty(t, h.act.Held(), "key cycle releases on pause")

	presses := h.act.CallCount(testutil.MethodPressKey)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, presses, h.act.CallCount(testutil.MethodPressKey))
	assert.Equal(t, fishing.PullingNormal, h.ctrl.Phase())

	require.NoError(t, h.ctrl.Resume())
	assert.Equal(t, actuator.ClickActive, h.act.Clicking())
	testutil.WaitFor(t, waitTimeout, func() bool {
		return h.act.CallCount(testutil.MethodPressKey) > presses
	}, "key cycle not restarted")

	require.NoError(t, h.ctrl.Stop())
	h.assertReleased(t)
}

func TestStopWhilePaused(t *testing.T) {
	h := newHarness(testConfig(), see(0))
	h.start(t)

	h.rec.WaitForPhase(t, fishing.WaitingHook, waitTimeout)
	require.NoError(t, h.ctrl.Pause())
	require.NoError(t, h.ctrl.Stop())

	assert.Equal(t, fishing.Stopped, h.ctrl.Phase())
	assert.False(t, h.ctrl.Paused())
	h.assertReleased(t)
}

// Random classifier noise must never produce an illegal phase walk.
func TestRandomLabelsProduceValidWalks(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		results := make([]testutil.Result, 80)
		for i := range results {
			if rng.Intn(6) == 0 {
				results[i] = testutil.Silence()
				continue
			}
			results[i] = testutil.See(fishing.Label(rng.Intn(fishing.NumLabels)), 0.5+rng.Float64()/2)
		}

		cfg := testConfig()
		cfg.Timeouts.Bite = 40 * time.Millisecond
		cfg.Timeouts.HookToPull = 10 * time.Millisecond
		cfg.Success.MaxAttempts = 3
		h := newHarness(cfg, results...)

		// Pulling has no deadline, so end runs that are still reeling once the
		// noise runs out.
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		_ = h.ctrl.Run(ctx)
		cancel()

		phases := h.rec.Phases()
		testutil.AssertValidWalk(t, phases)
		require.NotEmpty(t, phases)
		assert.True(t, phases[len(phases)-1].IsTerminal(), "seed %d ended in %s", seed, phases[len(phases)-1])
		h.assertReleased(t)
	}
}
