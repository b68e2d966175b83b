package testutil

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/npratt/reeler/internal/fishing"
)

// WriteFile writes content to a file in the given directory.
// It creates parent directories as needed and returns the full path.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// ReadFile reads a file and returns its contents.
// It fails the test if the file cannot be read.
func ReadFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

// FileExists checks if a file exists.
func FileExists(t *testing.T, path string) bool {
	t.Helper()
	_, err := os.Stat(path)
	return err == nil
}

// AssertCalled verifies that the actuator received method at least once.
func AssertCalled(t *testing.T, fake *FakeActuator, method string) {
	t.Helper()
	if fake.CallCount(method) == 0 {
		t.Errorf("expected call to %s not found in %v", method, fake.Methods())
	}
}

// AssertNotCalled verifies that the actuator never received method.
func AssertNotCalled(t *testing.T, fake *FakeActuator, method string) {
	t.Helper()
	if n := fake.CallCount(method); n > 0 {
		t.Errorf("unexpected %d call(s) to %s: %v", n, method, fake.Methods())
	}
}

// AssertCallCount verifies the number of times method was called.
func AssertCallCount(t *testing.T, fake *FakeActuator, method string, expected int) {
	t.Helper()
	if n := fake.CallCount(method); n != expected {
		t.Errorf("expected %d calls to %s, got %d (calls: %v)", expected, method, n, fake.Methods())
	}
}

// AssertSubsequence verifies that want appears in got in order, not
// necessarily contiguously.
func AssertSubsequence(t *testing.T, got, want []string) {
	t.Helper()
	i := 0
	for _, g := range got {
		if i < len(want) && g == want[i] {
			i++
		}
	}
	if i != len(want) {
		t.Errorf("expected %v in order within %v", want, got)
	}
}

// AssertValidWalk verifies that consecutive phases form legal transitions.
func AssertValidWalk(t *testing.T, phases []fishing.Phase) {
	t.Helper()
	for i := 1; i < len(phases); i++ {
		if !fishing.CanTransition(phases[i-1], phases[i]) {
			t.Errorf("illegal transition %s -> %s at step %d in %v", phases[i-1], phases[i], i, phases)
		}
	}
}

// PhaseKinds maps phases to their kinds, for order comparisons that ignore
// error reasons.
func PhaseKinds(phases []fishing.Phase) []fishing.PhaseKind {
	out := make([]fishing.PhaseKind, len(phases))
	for i, p := range phases {
		out[i] = p.Kind()
	}
	return out
}

// ContainsPhase reports whether phases contains p.
func ContainsPhase(phases []fishing.Phase, p fishing.Phase) bool {
	return slices.Contains(phases, p)
}
