package fishing

import (
	"fmt"
	"strings"
)

// Label is one of the five mutually-exclusive classifier outcomes.
type Label int8

// Classifier labels.
const (
	LabelWaiting  Label = 0 // waiting for a bite
	LabelHook     Label = 1 // hook candidate
	LabelPullLow  Label = 2 // pulling, low stamina
	LabelPullHalf Label = 3 // pulling, half stamina
	LabelSuccess  Label = 4 // catch succeeded

	// NoLabel marks the absence of a label in snapshots.
	NoLabel Label = -1
)

// NumLabels is the size of the label space.
const NumLabels = 5

var labelNames = [NumLabels]string{"waiting", "hook", "pull_low", "pull_half", "success"}

// Valid reports whether l is inside 0..4.
func (l Label) Valid() bool { return l >= 0 && l < NumLabels }

func (l Label) String() string {
	if !l.Valid() {
		return "none"
	}
	return labelNames[l]
}

// LabelSet is a bitmask over the five labels.
type LabelSet uint8

// Labels builds a set from the given labels. Invalid labels are ignored.
func Labels(ls ...Label) LabelSet {
	var s LabelSet
	for _, l := range ls {
		s = s.With(l)
	}
	return s
}

// Has reports whether l is in the set.
func (s LabelSet) Has(l Label) bool {
	return l.Valid() && s&(1<<uint(l)) != 0
}

// With returns a copy of s that also contains l.
func (s LabelSet) With(l Label) LabelSet {
	if !l.Valid() {
		return s
	}
	return s | 1<<uint(l)
}

// Intersect returns the labels present in both sets.
func (s LabelSet) Intersect(o LabelSet) LabelSet { return s & o }

// Empty reports whether the set holds no labels.
func (s LabelSet) Empty() bool { return s == 0 }

// Slice returns the members in ascending order.
func (s LabelSet) Slice() []Label {
	var out []Label
	for l := Label(0); l < NumLabels; l++ {
		if s.Has(l) {
			out = append(out, l)
		}
	}
	return out
}

func (s LabelSet) String() string {
	parts := make([]string, 0, NumLabels)
	for _, l := range s.Slice() {
		parts = append(parts, fmt.Sprintf("%d", l))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Detection is a single classifier result.
type Detection struct {
	Label      Label   `json:"label"`
	Confidence float64 `json:"confidence"`
}
