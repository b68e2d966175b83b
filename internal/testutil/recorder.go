package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/npratt/reeler/internal/events"
	"github.com/npratt/reeler/internal/fishing"
)

// Recorder keeps every snapshot a publisher hands out.
type Recorder struct {
	mu    sync.Mutex
	snaps []events.StatusSnapshot
}

// Record subscribes a new Recorder to p.
func Record(p *events.Publisher) *Recorder {
	r := &Recorder{}
	p.Subscribe(r.observe)
	return r
}

func (r *Recorder) observe(s events.StatusSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

// Snapshots returns a copy of the recorded snapshots.
func (r *Recorder) Snapshots() []events.StatusSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.StatusSnapshot, len(r.snaps))
	copy(out, r.snaps)
	return out
}

// Phases returns the recorded phases with consecutive repeats collapsed, so
// pause and resume notifications do not show up as transitions.
func (r *Recorder) Phases() []fishing.Phase {
	var out []fishing.Phase
	for _, s := range r.Snapshots() {
		if n := len(out); n > 0 && out[n-1] == s.Phase {
			continue
		}
		out = append(out, s.Phase)
	}
	return out
}

// Last returns the most recent snapshot, or false if none was recorded.
func (r *Recorder) Last() (events.StatusSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return events.StatusSnapshot{}, false
	}
	return r.snaps[len(r.snaps)-1], true
}

// Saw reports whether p was ever published.
func (r *Recorder) Saw(p fishing.Phase) bool {
	return ContainsPhase(r.Phases(), p)
}

// WaitFor polls cond until it holds, failing the test after timeout.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool, msgAndArgs ...any) {
	t.Helper()
	require.Eventually(t, cond, timeout, 2*time.Millisecond, msgAndArgs...)
}

// WaitForPhase waits until r has seen p.
func (r *Recorder) WaitForPhase(t *testing.T, p fishing.Phase, timeout time.Duration) {
	t.Helper()
	WaitFor(t, timeout, func() bool { return r.Saw(p) }, "phase %s never published; saw %v", p, r.Phases())
}
