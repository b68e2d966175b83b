// Package fishing defines the shared vocabulary of the fishing control core:
// phases, classifier labels, and detections.
package fishing

import (
	"encoding/json"
	"fmt"
)

// PhaseKind identifies a Phase variant.
type PhaseKind int

// Phase kinds. The zero value is KindStopped.
const (
	KindStopped PhaseKind = iota
	KindWaitingInitial
	KindWaitingHook
	KindFishHooked
	KindPullingNormal
	KindPullingHalfway
	KindSuccess
	KindCasting
	KindError
)

var kindNames = map[PhaseKind]string{
	KindStopped:        "stopped",
	KindWaitingInitial: "waiting_initial",
	KindWaitingHook:    "waiting_hook",
	KindFishHooked:     "fish_hooked",
	KindPullingNormal:  "pulling_normal",
	KindPullingHalfway: "pulling_halfway",
	KindSuccess:        "success",
	KindCasting:        "casting",
	KindError:          "error",
}

// String returns the snake_case name of the kind.
func (k PhaseKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Phase is the controller-level stage of the minigame. Only the Error variant
// carries data (its reason). Phase values are comparable, so
// p == fishing.Casting works for every variant except Error, whose reason
// participates in equality; use p.Kind() == fishing.KindError there.
type Phase struct {
	kind   PhaseKind
	reason string
}

// The data-less phases.
var (
	Stopped        = Phase{kind: KindStopped}
	WaitingInitial = Phase{kind: KindWaitingInitial}
	WaitingHook    = Phase{kind: KindWaitingHook}
	FishHooked     = Phase{kind: KindFishHooked}
	PullingNormal  = Phase{kind: KindPullingNormal}
	PullingHalfway = Phase{kind: KindPullingHalfway}
	Success        = Phase{kind: KindSuccess}
	Casting        = Phase{kind: KindCasting}
)

// Failed returns the Error phase carrying reason.
func Failed(reason string) Phase {
	return Phase{kind: KindError, reason: reason}
}

// Kind returns the variant of p.
func (p Phase) Kind() PhaseKind { return p.kind }

// Reason returns the failure reason of an Error phase, or "" for any other.
func (p Phase) Reason() string { return p.reason }

// IsTerminal reports whether the control loop has finished in this phase.
func (p Phase) IsTerminal() bool {
	return p.kind == KindStopped || p.kind == KindError
}

// IsPulling reports whether p is one of the two reeling phases.
func (p Phase) IsPulling() bool {
	return p.kind == KindPullingNormal || p.kind == KindPullingHalfway
}

func (p Phase) String() string {
	if p.kind == KindError && p.reason != "" {
		return "error(" + p.reason + ")"
	}
	return p.kind.String()
}

// MarshalJSON encodes a phase as {"kind": "...", "reason": "..."}.
func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind   string `json:"kind"`
		Reason string `json:"reason,omitempty"`
	}{Kind: p.kind.String(), Reason: p.reason})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (p *Phase) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var raw struct {
		Kind   string `json:"kind"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, name := range kindNames {
		if name == raw.Kind {
			p.kind = k
			p.reason = ""
			if k == KindError {
				p.reason = raw.Reason
			}
			return nil
		}
	}
	return fmt.Errorf("unknown phase kind %q", raw.Kind)
}

// transitions lists the legal successor kinds of each kind, excluding the
// Stopped and Error exits which are legal from every non-terminal phase.
var transitions = map[PhaseKind][]PhaseKind{
	KindStopped:        {KindWaitingInitial},
	KindWaitingInitial: {KindWaitingHook},
	KindWaitingHook:    {KindFishHooked},
	KindFishHooked:     {KindPullingNormal, KindPullingHalfway, KindWaitingInitial},
	KindPullingNormal:  {KindPullingHalfway, KindSuccess},
	KindPullingHalfway: {KindPullingNormal, KindSuccess},
	KindSuccess:        {KindCasting},
	KindCasting:        {KindWaitingInitial},
	KindError:          {KindWaitingInitial},
}

// CanTransition reports whether the control loop may move from one phase to
// the next. Stopped and Error are reachable from every running phase, and a
// fresh start re-enters WaitingInitial from either terminal phase.
func CanTransition(from, to Phase) bool {
	if !from.IsTerminal() && to.IsTerminal() {
		return true
	}
	for _, k := range transitions[from.kind] {
		if k == to.kind {
			return true
		}
	}
	return false
}
