package testutil

import (
	"context"
	"sync"

	"github.com/npratt/reeler/internal/fishing"
)

// Result is one canned classifier answer.
type Result struct {
	Detection fishing.Detection
	OK        bool
	Err       error
}

// See returns a result reporting label at conf.
func See(label fishing.Label, conf float64) Result {
	return Result{Detection: fishing.Detection{Label: label, Confidence: conf}, OK: true}
}

// Silence returns a result reporting no detection.
func Silence() Result {
	return Result{}
}

// Fail returns a result whose Detect call fails with err.
func Fail(err error) Result {
	return Result{Err: err}
}

// Repeat returns n copies of r.
func Repeat(r Result, n int) []Result {
	out := make([]Result, n)
	for i := range out {
		out[i] = r
	}
	return out
}

// FakeClassifier answers Detect calls from a queue of canned results. Once
// the queue is drained it answers with Fallback, or silence when Fallback is
// nil. It applies the allowed set the way a real gateway does: a queued
// label outside the set reads as silence and is still consumed.
type FakeClassifier struct {
	mu      sync.Mutex
	queue   []Result
	allowed []fishing.LabelSet

	// Fallback answers once the queue is empty.
	Fallback func(allowed fishing.LabelSet) Result
}

// NewFakeClassifier creates a classifier that replays results in order.
func NewFakeClassifier(results ...Result) *FakeClassifier {
	return &FakeClassifier{queue: results}
}

// Push appends results to the queue.
func (f *FakeClassifier) Push(results ...Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, results...)
}

// Detect implements classifier.Classifier.
func (f *FakeClassifier) Detect(ctx context.Context, allowed fishing.LabelSet) (fishing.Detection, bool, error) {
	f.mu.Lock()
	f.allowed = append(f.allowed, allowed)

	var r Result
	switch {
	case len(f.queue) > 0:
		r = f.queue[0]
		f.queue = f.queue[1:]
	case f.Fallback != nil:
		fb := f.Fallback
		f.mu.Unlock()
		r = fb(allowed)
		f.mu.Lock()
	}
	f.mu.Unlock()

	if r.Err != nil {
		return fishing.Detection{}, false, r.Err
	}
	if !r.OK || !allowed.Has(r.Detection.Label) {
		return fishing.Detection{}, false, nil
	}
	return r.Detection, true, nil
}

// Calls returns how many times Detect was called.
func (f *FakeClassifier) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.allowed)
}

// AllowedSets returns the allowed set passed to each Detect call.
func (f *FakeClassifier) AllowedSets() []fishing.LabelSet {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fishing.LabelSet, len(f.allowed))
	copy(out, f.allowed)
	return out
}

// Remaining returns how many queued results are left.
func (f *FakeClassifier) Remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}
