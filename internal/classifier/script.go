package classifier

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/npratt/reeler/internal/fishing"
)

// ErrScriptInvalid is wrapped by every script validation failure.
var ErrScriptInvalid = errors.New("invalid detection script")

// Candidate is one label score inside a script step.
type Candidate struct {
	Label      int     `yaml:"label"`
	Confidence float64 `yaml:"confidence"`
}

// Step is one segment of a detection timeline. It lasts either For (wall
// clock) or Polls (Detect calls). A step with no label and no candidates
// reports silence.
type Step struct {
	Label      *int          `yaml:"label,omitempty"`
	Confidence float64       `yaml:"confidence,omitempty"`
	Candidates []Candidate   `yaml:"candidates,omitempty"`
	For        time.Duration `yaml:"for,omitempty"`
	Polls      int           `yaml:"polls,omitempty"`
}

// ScriptFile is the YAML document a Script is loaded from.
type ScriptFile struct {
	Name      string   `yaml:"name,omitempty"`
	Threshold *float64 `yaml:"threshold,omitempty"`
	Loop      bool     `yaml:"loop,omitempty"`
	Steps     []Step   `yaml:"steps"`
}

// ParseScript decodes and validates a detection script.
func ParseScript(data []byte) (*ScriptFile, error) {
	var sf ScriptFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScriptInvalid, err)
	}
	if err := sf.Validate(); err != nil {
		return nil, err
	}
	return &sf, nil
}

// LoadScript reads a detection script from path.
func LoadScript(path string) (*ScriptFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	sf, err := ParseScript(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sf, nil
}

// Validate checks every step.
func (sf *ScriptFile) Validate() error {
	if len(sf.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrScriptInvalid)
	}
	if sf.Threshold != nil && (*sf.Threshold < 0 || *sf.Threshold >= 1) {
		return fmt.Errorf("%w: threshold %v outside [0, 1)", ErrScriptInvalid, *sf.Threshold)
	}
	for i, st := range sf.Steps {
		if (st.For > 0) == (st.Polls > 0) {
			return fmt.Errorf("%w: step %d needs exactly one of for or polls", ErrScriptInvalid, i)
		}
		if st.Label != nil && len(st.Candidates) > 0 {
			return fmt.Errorf("%w: step %d sets both label and candidates", ErrScriptInvalid, i)
		}
		for _, label := range st.rawLabels() {
			if label < 0 || label >= fishing.NumLabels {
				return fmt.Errorf("%w: step %d has label %d outside 0..4", ErrScriptInvalid, i, label)
			}
		}
		for _, c := range st.candidates() {
			if c.Confidence < 0 || c.Confidence > 1 {
				return fmt.Errorf("%w: step %d has confidence %v outside [0, 1]", ErrScriptInvalid, i, c.Confidence)
			}
		}
	}
	return nil
}

// Duration returns the wall-clock length of one pass, ignoring poll-counted
// steps.
func (sf *ScriptFile) Duration() time.Duration {
	var d time.Duration
	for _, st := range sf.Steps {
		d += st.For
	}
	return d
}

// rawLabels returns the labels as written, before narrowing to fishing.Label.
func (st Step) rawLabels() []int {
	if st.Label != nil {
		return []int{*st.Label}
	}
	out := make([]int, 0, len(st.Candidates))
	for _, c := range st.Candidates {
		out = append(out, c.Label)
	}
	return out
}

func (st Step) candidates() []fishing.Detection {
	if st.Label != nil {
		return []fishing.Detection{{Label: fishing.Label(*st.Label), Confidence: st.Confidence}}
	}
	out := make([]fishing.Detection, 0, len(st.Candidates))
	for _, c := range st.Candidates {
		out = append(out, fishing.Detection{Label: fishing.Label(c.Label), Confidence: c.Confidence})
	}
	return out
}

// Describe renders a step for humans.
func (st Step) Describe() string {
	var what string
	switch cands := st.candidates(); len(cands) {
	case 0:
		what = "silence"
	case 1:
		what = fmt.Sprintf("label %d (%s) @ %.2f", cands[0].Label, cands[0].Label, cands[0].Confidence)
	default:
		what = fmt.Sprintf("%d candidates", len(cands))
	}
	if st.Polls > 0 {
		return fmt.Sprintf("%s for %d polls", what, st.Polls)
	}
	return fmt.Sprintf("%s for %s", what, st.For)
}

var _ Classifier = (*Script)(nil)

// Script replays a ScriptFile. The timeline starts at the first Detect call.
// Once a non-looping script runs out it reports silence.
type Script struct {
	file      *ScriptFile
	threshold float64
	now       func() time.Time

	mu        sync.Mutex
	started   bool
	index     int
	stepStart time.Time
	stepPolls int
}

// ScriptOption configures a Script.
type ScriptOption func(*Script)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) ScriptOption {
	return func(s *Script) { s.now = now }
}

// NewScript creates a Script. The file's own threshold, when set, wins over
// threshold.
func NewScript(file *ScriptFile, threshold float64, opts ...ScriptOption) *Script {
	if file.Threshold != nil {
		threshold = *file.Threshold
	}
	s := &Script{file: file, threshold: threshold, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Detect implements Classifier.
func (s *Script) Detect(ctx context.Context, allowed fishing.LabelSet) (fishing.Detection, bool, error) {
	if err := ctx.Err(); err != nil {
		return fishing.Detection{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !s.started {
		s.started = true
		s.stepStart = now
	}

	s.advance(now)
	if s.index >= len(s.file.Steps) {
		return fishing.Detection{}, false, nil
	}

	st := s.file.Steps[s.index]
	s.stepPolls++
	det, ok := Best(st.candidates(), allowed, s.threshold)
	return det, ok, nil
}

// advance skips every step that has already run its course.
func (s *Script) advance(now time.Time) {
	steps := s.file.Steps
	for s.index < len(steps) {
		st := steps[s.index]
		switch {
		case st.Polls > 0 && s.stepPolls >= st.Polls:
			s.stepStart = now
		case st.For > 0 && now.Sub(s.stepStart) >= st.For:
			s.stepStart = s.stepStart.Add(st.For)
		default:
			return
		}
		s.stepPolls = 0
		s.index++
		if s.index == len(steps) && s.file.Loop {
			s.index = 0
		}
	}
}

// Done reports whether a non-looping script has played every step.
func (s *Script) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file.Loop || !s.started {
		return false
	}
	s.advance(s.now())
	return s.index >= len(s.file.Steps)
}
