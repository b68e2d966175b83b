// Package controller runs the fishing control loop: it debounces classifier
// labels into phase transitions, drives the click loop and key cycle, and
// recovers from stalled hooks.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/npratt/reeler/internal/actuator"
	"github.com/npratt/reeler/internal/classifier"
	"github.com/npratt/reeler/internal/config"
	"github.com/npratt/reeler/internal/events"
	"github.com/npratt/reeler/internal/fishing"
	"github.com/npratt/reeler/internal/keycycle"
	"github.com/npratt/reeler/internal/task"
	"github.com/npratt/reeler/internal/tracker"
)

var (
	// ErrAlreadyRunning is returned by Start while a run is in progress.
	ErrAlreadyRunning = errors.New("controller already running")
	// ErrNotRunning is returned by control calls that need a live run.
	ErrNotRunning = errors.New("controller not running")
	// ErrBiteTimeout is the cause of the Error phase when no hook is
	// confirmed before the bite deadline.
	ErrBiteTimeout = errors.New("bite timeout")
)

// FailureError is returned by Run and Wait when a run ends in the Error phase.
type FailureError struct {
	Reason string
}

func (e *FailureError) Error() string {
	return "fishing run failed: " + e.Reason
}

// Labels the classifier is asked about in each stage.
var (
	biteQuery    = fishing.Labels(fishing.LabelWaiting, fishing.LabelHook)
	reelQuery    = fishing.Labels(fishing.LabelPullLow, fishing.LabelPullHalf, fishing.LabelSuccess)
	successQuery = fishing.Labels(fishing.LabelSuccess)
)

// outcome is how a round ended when it did not fail.
type outcome int

const (
	outcomeCaught outcome = iota
	outcomeStalled
)

// observation classifies one classifier poll.
type observation int

const (
	obsSilence observation = iota
	obsRejected
	obsAccepted
)

// Controller owns one fishing run at a time.
type Controller struct {
	cfg        *config.Config
	classifier classifier.Classifier
	act        actuator.Actuator
	publisher  *events.Publisher
	logger     *slog.Logger
	activities *activities
	now        func() time.Time

	// tracker is only touched by the loop goroutine.
	tracker *tracker.Tracker

	// mu guards the status fields and the loop handle.
	mu           sync.RWMutex
	loop         *task.Task
	runID        string
	phase        fishing.Phase
	lastLabel    fishing.Label
	confidence   float64
	rounds       int
	stallRetries int
	startedAt    time.Time
	errMsg       string
	ended        bool // the run has entered its terminal phase

	pauseMu     sync.Mutex
	resumeCh    chan struct{} // non-nil while paused, closed on resume
	pausedAt    time.Time
	pausedTotal time.Duration
}

// New creates a stopped Controller. A nil publisher disables status
// notifications and a nil logger uses slog.Default().
func New(cfg *config.Config, cls classifier.Classifier, act actuator.Actuator, pub *events.Publisher, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	keys := keycycle.New(keycycle.Config{
		KeyA:        cfg.KeyCycle.KeyA,
		KeyB:        cfg.KeyCycle.KeyB,
		Hold:        cfg.KeyCycle.Hold,
		Gap:         cfg.KeyCycle.Gap,
		JoinTimeout: cfg.KeyCycle.JoinTimeout,
	}, act, logger.With("component", "keycycle"))

	return &Controller{
		cfg:        cfg,
		classifier: cls,
		act:        act,
		publisher:  pub,
		logger:     logger,
		activities: newActivities(act, keys, logger),
		now:        time.Now,
		tracker:    tracker.New(logger),
		phase:      fishing.Stopped,
		lastLabel:  fishing.NoLabel,
	}
}

// Start launches a run in the background. The run ends when ctx is done,
// on Stop or EmergencyStop, or when it fails.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loop != nil && c.loop.Running() {
		return ErrAlreadyRunning
	}

	c.runID = uuid.NewString()
	c.phase = fishing.Stopped
	c.ended = false
	c.lastLabel = fishing.NoLabel
	c.confidence = 0
	c.rounds = 0
	c.stallRetries = 0
	c.startedAt = c.now()
	c.errMsg = ""
	c.tracker = tracker.New(c.logger)

	c.pauseMu.Lock()
	c.resumeCh = nil
	c.pausedTotal = 0
	c.pauseMu.Unlock()

	c.logger.Info("fishing run started", "run_id", c.runID)
	c.loop = task.Go(ctx, c.run)
	return nil
}

// Run starts a run and blocks until it ends. It returns nil after a stop and
// a *FailureError when the run ends in the Error phase.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	return c.Wait()
}

// Wait blocks until the current run ends.
func (c *Controller) Wait() error {
	c.mu.RLock()
	t := c.loop
	c.mu.RUnlock()

	if t == nil {
		return ErrNotRunning
	}
	<-t.Done()
	return c.result()
}

func (c *Controller) result() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.phase.Kind() == fishing.KindError {
		return &FailureError{Reason: c.phase.Reason()}
	}
	return nil
}

// Stop cancels the run, waits up to the stop timeout for the loop and the
// key cycle to exit, then stops clicking and releases keys regardless.
func (c *Controller) Stop() error {
	t := c.currentLoop()
	if t == nil {
		return ErrNotRunning
	}
	c.logger.Info("stop requested", "run_id", c.RunID())

	err := t.Stop(c.cfg.Timeouts.Stop)
	c.release()
	c.afterStop(err)
	return nil
}

// EmergencyStop releases the actuator first, then cancels the run with the
// shorter emergency join bound.
func (c *Controller) EmergencyStop() error {
	t := c.currentLoop()
	if t == nil {
		return ErrNotRunning
	}
	c.logger.Warn("emergency stop requested", "run_id", c.RunID())

	t.Cancel()
	c.release()
	err := t.Join(c.cfg.Timeouts.EmergencyStop)
	c.afterStop(err)
	return nil
}

func (c *Controller) currentLoop() *task.Task {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.loop == nil || !c.loop.Running() {
		return nil
	}
	return c.loop
}

// afterStop handles a loop that ignored cancellation past its join bound.
func (c *Controller) afterStop(joinErr error) {
	if joinErr == nil {
		return
	}
	c.logger.Warn("control loop did not exit in time",
		"run_id", c.RunID(),
		"error", joinErr,
	)
	c.terminate(fishing.Stopped, "")
}

// Pause suspends polling, clicking, and the key cycle. Phase and history are
// kept, and deadlines are extended by the time spent paused.
func (c *Controller) Pause() error {
	if c.currentLoop() == nil {
		return ErrNotRunning
	}

	c.pauseMu.Lock()
	if c.resumeCh != nil {
		c.pauseMu.Unlock()
		return nil
	}
	c.resumeCh = make(chan struct{})
	c.pausedAt = c.now()
	c.pauseMu.Unlock()

	c.logger.Info("paused", "run_id", c.RunID(), "phase", c.Phase().String())
	err := c.activities.suspend()
	c.publish(c.Status())
	if err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	return nil
}

// Resume continues a paused run.
func (c *Controller) Resume() error {
	if c.currentLoop() == nil {
		return ErrNotRunning
	}

	c.pauseMu.Lock()
	if c.resumeCh == nil {
		c.pauseMu.Unlock()
		return nil
	}
	paused := c.now().Sub(c.pausedAt)
	c.pausedTotal += paused
	close(c.resumeCh)
	c.resumeCh = nil
	c.pauseMu.Unlock()

	c.logger.Info("resumed", "run_id", c.RunID(), "paused_for", paused)
	err := c.activities.resume()
	c.publish(c.Status())
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	return nil
}

// Paused reports whether the run is paused.
func (c *Controller) Paused() bool {
	c.pauseMu.Lock()
	defer c.pauseMu.Unlock()
	return c.resumeCh != nil
}

// pausedSoFar returns the total paused time of this run, including a pause
// still in progress.
func (c *Controller) pausedSoFar() time.Duration {
	c.pauseMu.Lock()
	defer c.pauseMu.Unlock()
	total := c.pausedTotal
	if c.resumeCh != nil {
		total += c.now().Sub(c.pausedAt)
	}
	return total
}

// clearPause drops a pause left over when the run ends.
func (c *Controller) clearPause() {
	c.pauseMu.Lock()
	defer c.pauseMu.Unlock()
	if c.resumeCh != nil {
		close(c.resumeCh)
		c.resumeCh = nil
	}
}

// Status returns the current snapshot.
func (c *Controller) Status() events.StatusSnapshot {
	paused := c.Paused()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked(paused)
}

func (c *Controller) snapshotLocked(paused bool) events.StatusSnapshot {
	return events.StatusSnapshot{
		RunID:        c.runID,
		Phase:        c.phase,
		LastLabel:    c.lastLabel,
		Confidence:   c.confidence,
		RoundCount:   c.rounds,
		StallRetries: c.stallRetries,
		Paused:       paused,
		StartedAt:    c.startedAt,
		ErrorMessage: c.errMsg,
		Timestamp:    c.now(),
	}
}

// Phase returns the current phase.
func (c *Controller) Phase() fishing.Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

// RunID returns the identifier of the current or most recent run.
func (c *Controller) RunID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.runID
}

// run is the body of the loop task.
func (c *Controller) run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("control loop panicked",
				"run_id", c.RunID(),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("control loop panicked: %v", r)
		}
		c.finish(ctx, err)
	}()

	for {
		out, err := c.round(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}

		c.mu.Lock()
		switch out {
		case outcomeCaught:
			c.rounds++
		case outcomeStalled:
			c.stallRetries++
		}
		c.mu.Unlock()
	}
}

// finish releases the actuator and settles the terminal phase.
func (c *Controller) finish(ctx context.Context, err error) {
	c.clearPause()
	c.release()

	if err == nil || ctx.Err() != nil {
		c.terminate(fishing.Stopped, "")
		c.logger.Info("fishing run stopped", "run_id", c.RunID(), "rounds", c.Status().RoundCount)
		return
	}

	reason := err.Error()
	c.logger.Error("fishing run failed", "run_id", c.RunID(), "error", err)
	c.terminate(fishing.Failed(reason), reason)
}

// release stops every activity and releases held keys. Failures are logged.
func (c *Controller) release() {
	if err := c.activities.shutdown(); err != nil {
		c.logger.Warn("release actuator failed", "run_id", c.RunID(), "error", err)
	}
}

// terminate enters a terminal phase once per run.
func (c *Controller) terminate(p fishing.Phase, errMsg string) {
	paused := c.Paused()
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.ended = true
	from := c.phase
	c.phase = p
	c.errMsg = errMsg
	snap := c.snapshotLocked(paused)
	c.mu.Unlock()

	c.logger.Info("phase changed", "run_id", snap.RunID, "from", from.String(), "to", p.String())
	c.publish(snap)
}

// transition moves to a non-terminal phase and publishes the change. Once
// the run is cancelled no further transitions are made.
func (c *Controller) transition(ctx context.Context, to fishing.Phase) {
	if ctx.Err() != nil {
		return
	}

	paused := c.Paused()
	c.mu.Lock()
	from := c.phase
	if from == to {
		c.mu.Unlock()
		return
	}
	if !fishing.CanTransition(from, to) {
		c.logger.Debug("transition outside the phase graph", "from", from.String(), "to", to.String())
	}
	c.phase = to
	snap := c.snapshotLocked(paused)
	c.mu.Unlock()

	c.tracker.Advance(to)
	c.logger.Info("phase changed", "run_id", snap.RunID, "from", from.String(), "to", to.String())
	c.publish(snap)
}

func (c *Controller) publish(snap events.StatusSnapshot) {
	if c.publisher != nil {
		c.publisher.Publish(snap)
	}
}

// observe polls the classifier and runs the answer through the tracker.
func (c *Controller) observe(ctx context.Context, query fishing.LabelSet) (fishing.Detection, observation, error) {
	det, ok, err := c.classifier.Detect(ctx, query)
	if err != nil {
		return det, obsSilence, fmt.Errorf("classifier: %w", err)
	}
	if !ok {
		return det, obsSilence, nil
	}
	if !c.tracker.Validate(det.Label) {
		return det, obsRejected, nil
	}
	c.tracker.Record(det.Label)

	c.mu.Lock()
	c.lastLabel = det.Label
	c.confidence = det.Confidence
	c.mu.Unlock()
	return det, obsAccepted, nil
}

// hold blocks while the run is paused. It reports false once ctx is done.
func (c *Controller) hold(ctx context.Context) bool {
	c.pauseMu.Lock()
	ch := c.resumeCh
	c.pauseMu.Unlock()

	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
		}
	}
	return ctx.Err() == nil
}

// sleep waits d and then any pause. It reports false once ctx is done.
func (c *Controller) sleep(ctx context.Context, d time.Duration) bool {
	return task.Sleep(ctx, d) && c.hold(ctx)
}

// deadline is a wall-clock limit that does not run while the loop is paused.
type deadline struct {
	c           *Controller
	start       time.Time
	pausedStart time.Duration
	limit       time.Duration
}

func (c *Controller) newDeadline(limit time.Duration) deadline {
	return deadline{c: c, start: c.now(), pausedStart: c.pausedSoFar(), limit: limit}
}

func (d deadline) expired() bool {
	elapsed := d.c.now().Sub(d.start) - (d.c.pausedSoFar() - d.pausedStart)
	return elapsed >= d.limit
}
