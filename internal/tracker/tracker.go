// Package tracker validates classifier labels against the current phase and
// the labels already confirmed this round.
package tracker

import (
	"log/slog"

	"github.com/npratt/reeler/internal/fishing"
)

// History bounds. When the history grows past MaxHistory it is trimmed to the
// most recent TrimmedHistory entries.
const (
	MaxHistory     = 100
	TrimmedHistory = 50
)

// initialAllowed is the allowed set at the start of every round.
var initialAllowed = fishing.Labels(fishing.LabelWaiting, fishing.LabelHook)

// allowedByPhase maps each phase kind to the labels accepted while in it.
// Kinds missing from the table accept nothing.
var allowedByPhase = map[fishing.PhaseKind]fishing.LabelSet{
	fishing.KindWaitingInitial: initialAllowed,
	fishing.KindWaitingHook:    initialAllowed,
	fishing.KindFishHooked:     fishing.Labels(fishing.LabelHook, fishing.LabelPullLow, fishing.LabelPullHalf),
	fishing.KindPullingNormal:  fishing.Labels(fishing.LabelPullLow, fishing.LabelPullHalf, fishing.LabelSuccess),
	fishing.KindPullingHalfway: fishing.Labels(fishing.LabelPullLow, fishing.LabelPullHalf, fishing.LabelSuccess),
	fishing.KindSuccess:        fishing.Labels(fishing.LabelSuccess),
}

// AllowedFor returns the labels accepted while in phase p.
func AllowedFor(p fishing.Phase) fishing.LabelSet {
	return allowedByPhase[p.Kind()]
}

// Tracker owns the current phase, its allowed label set, and the bounded
// history of confirmed labels. It is not safe for concurrent use; the control
// loop is its only writer.
type Tracker struct {
	phase   fishing.Phase
	allowed fishing.LabelSet
	history []fishing.Label
	// seen holds every label recorded this round. It survives history
	// trimming so the ordering rules keep working in long rounds.
	seen   fishing.LabelSet
	logger *slog.Logger
}

// New creates a Tracker in the Stopped phase with the round-start allowed set.
func New(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		phase:   fishing.Stopped,
		allowed: initialAllowed,
		history: make([]fishing.Label, 0, MaxHistory+1),
		logger:  logger,
	}
}

// Validate reports whether label may be recorded now. It never mutates the
// tracker.
func (t *Tracker) Validate(label fishing.Label) bool {
	if !t.allowed.Has(label) {
		t.reject(label, "not in allowed set")
		return false
	}

	switch label {
	case fishing.LabelWaiting:
		if t.seen.Has(fishing.LabelHook) {
			t.reject(label, "waiting label after hook")
			return false
		}
	case fishing.LabelPullLow, fishing.LabelPullHalf:
		if !t.seen.Has(fishing.LabelHook) {
			t.reject(label, "pulling label before hook")
			return false
		}
	case fishing.LabelSuccess:
		if !t.phase.IsPulling() && t.phase != fishing.Success {
			t.reject(label, "success label outside pulling")
			return false
		}
		if !t.seen.Has(fishing.LabelPullLow) && !t.seen.Has(fishing.LabelPullHalf) {
			t.reject(label, "success label before pulling")
			return false
		}
	}
	return true
}

func (t *Tracker) reject(label fishing.Label, why string) {
	t.logger.Debug("label rejected",
		"label", int(label),
		"reason", why,
		"phase", t.phase.String(),
		"allowed", t.allowed.String(),
	)
}

// Record appends label to the history. Call only after Validate succeeds.
func (t *Tracker) Record(label fishing.Label) {
	t.history = append(t.history, label)
	t.seen = t.seen.With(label)
	if len(t.history) > MaxHistory {
		n := copy(t.history, t.history[len(t.history)-TrimmedHistory:])
		t.history = t.history[:n]
	}
}

// Advance moves to phase p and recomputes the allowed set.
func (t *Tracker) Advance(p fishing.Phase) {
	t.phase = p
	t.allowed = AllowedFor(p)
}

// Reset clears the round state: empty history, round-start allowed set.
// The phase is left untouched; the caller advances it.
func (t *Tracker) Reset() {
	t.history = t.history[:0]
	t.seen = 0
	t.allowed = initialAllowed
}

// Phase returns the current phase.
func (t *Tracker) Phase() fishing.Phase { return t.phase }

// Allowed returns the currently accepted labels.
func (t *Tracker) Allowed() fishing.LabelSet { return t.allowed }

// Seen reports whether label was recorded at any point this round.
func (t *Tracker) Seen(label fishing.Label) bool { return t.seen.Has(label) }

// History returns a copy of the confirmed labels of this round.
func (t *Tracker) History() []fishing.Label {
	out := make([]fishing.Label, len(t.history))
	copy(out, t.history)
	return out
}
