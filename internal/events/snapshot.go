// Package events fans controller status snapshots out to observers and
// persists them as a JSON-lines journal and lifetime statistics.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/npratt/reeler/internal/fishing"
)

// StatusSnapshot is an immutable view of the control loop, taken after every
// confirmed transition.
type StatusSnapshot struct {
	RunID        string        `json:"run_id"`
	Phase        fishing.Phase `json:"phase"`
	LastLabel    fishing.Label `json:"last_label"`
	Confidence   float64       `json:"confidence"`
	RoundCount   int           `json:"round_count"`
	StallRetries int           `json:"stall_retries"`
	Paused       bool          `json:"paused"`
	StartedAt    time.Time     `json:"started_at"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// snapshotFields has the fields of StatusSnapshot without its JSON methods.
type snapshotFields StatusSnapshot

// wireSnapshot is the journal form of a snapshot. last_label is null until a
// label has been accepted.
type wireSnapshot struct {
	snapshotFields
	LastLabel *fishing.Label `json:"last_label"`
}

// MarshalJSON writes last_label as null when no label has been accepted.
func (s StatusSnapshot) MarshalJSON() ([]byte, error) {
	w := wireSnapshot{snapshotFields: snapshotFields(s)}
	if s.HasLabel() {
		label := s.LastLabel
		w.LastLabel = &label
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads a null or missing last_label as fishing.NoLabel.
func (s *StatusSnapshot) UnmarshalJSON(data []byte) error {
	var w wireSnapshot
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*s = StatusSnapshot(w.snapshotFields)
	s.LastLabel = fishing.NoLabel
	if w.LastLabel != nil {
		if !w.LastLabel.Valid() {
			return fmt.Errorf("last_label %d outside 0..4", *w.LastLabel)
		}
		s.LastLabel = *w.LastLabel
	}
	return nil
}

// HasLabel reports whether a label has been accepted since the last reset.
func (s StatusSnapshot) HasLabel() bool {
	return s.LastLabel.Valid()
}

// Uptime returns how long the run had been going when the snapshot was taken.
func (s StatusSnapshot) Uptime() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return s.Timestamp.Sub(s.StartedAt)
}

func (s StatusSnapshot) String() string {
	out := fmt.Sprintf("%s rounds=%d stalls=%d", s.Phase, s.RoundCount, s.StallRetries)
	if s.HasLabel() {
		out += fmt.Sprintf(" label=%s@%.2f", s.LastLabel, s.Confidence)
	}
	if s.Paused {
		out += " paused"
	}
	return out
}
