package events

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npratt/reeler/internal/fishing"
)

func runSnap(run string, p fishing.Phase, rounds, stalls int) StatusSnapshot {
	s := snapshot(p, rounds)
	s.RunID = run
	s.StallRetries = stalls
	return s
}

func TestStatsSinkFoldsRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	sink := NewStatsSink(path, nil)

	sink.Observe(runSnap("a", fishing.WaitingInitial, 0, 0))
	sink.Observe(runSnap("a", fishing.Casting, 0, 0))
	sink.Observe(runSnap("a", fishing.WaitingInitial, 1, 0))
	sink.Observe(runSnap("a", fishing.WaitingInitial, 1, 1))
	sink.Observe(runSnap("a", fishing.WaitingInitial, 2, 1))
	sink.Observe(runSnap("a", fishing.Stopped, 2, 1))

	failed := runSnap("b", fishing.Failed("bite timeout"), 0, 0)
	failed.ErrorMessage = "bite timeout"
	sink.Observe(runSnap("b", fishing.WaitingInitial, 0, 0))
	sink.Observe(failed)

	stats := sink.Stats()
	assert.Equal(t, 2, stats.Runs)
	assert.Equal(t, 2, stats.Rounds)
	assert.Equal(t, 1, stats.StallRetries)
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, "b", stats.LastRunID)
	assert.Equal(t, "error(bite timeout)", stats.LastPhase)
	assert.Equal(t, "bite timeout", stats.LastError)

	// Terminal snapshots save immediately.
	onDisk, err := ReadStats(path)
	require.NoError(t, err)
	assert.Equal(t, stats.Rounds, onDisk.Rounds)
	assert.Equal(t, stats.Failures, onDisk.Failures)
}

func TestStatsSinkIgnoresAfterTerminal(t *testing.T) {
	sink := NewStatsSink(filepath.Join(t.TempDir(), "stats.json"), nil)

	sink.Observe(runSnap("a", fishing.Stopped, 3, 0))
	sink.Observe(runSnap("a", fishing.Stopped, 3, 0))
	sink.Observe(runSnap("a", fishing.Failed("late"), 5, 0))

	stats := sink.Stats()
	assert.Equal(t, 1, stats.Runs)
	assert.Equal(t, 3, stats.Rounds)
	assert.Equal(t, 0, stats.Failures)
}

func TestStatsSinkAccumulatesAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")

	first := NewStatsSink(path, nil)
	snaps := make(chan StatusSnapshot, 10)
	require.NoError(t, first.Start(context.Background(), snaps))
	snaps <- runSnap("a", fishing.WaitingInitial, 4, 2)
	snaps <- runSnap("a", fishing.Stopped, 4, 2)
	close(snaps)
	require.NoError(t, first.Stop())

	second := NewStatsSink(path, nil)
	snaps = make(chan StatusSnapshot, 10)
	require.NoError(t, second.Start(context.Background(), snaps))
	snaps <- runSnap("b", fishing.WaitingInitial, 1, 0)
	close(snaps)
	require.NoError(t, second.Stop())

	stats, err := ReadStats(path)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Runs)
	assert.Equal(t, 5, stats.Rounds)
	assert.Equal(t, 2, stats.StallRetries)
	assert.Equal(t, CurrentStatsVersion, stats.Version)
}

func TestStatsSinkDebouncesSaves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	sink := NewStatsSink(path, nil)

	sink.Observe(runSnap("a", fishing.WaitingInitial, 0, 0))
	_, err := os.Stat(path)
	require.NoError(t, err, "first change saves immediately")

	sink.Observe(runSnap("a", fishing.WaitingInitial, 1, 0))
	stats, err := ReadStats(path)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Rounds, "second change is debounced")

	sink.Flush()
	stats, err = ReadStats(path)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Rounds)

	sink.SetMinDelay(0)
	sink.Observe(runSnap("a", fishing.WaitingInitial, 2, 0))
	stats, err = ReadStats(path)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Rounds, "no debounce without a minimum delay")
	assert.Equal(t, path, sink.Path())
}

func TestStatsSinkBacksUpUnusableFiles(t *testing.T) {
	tests := map[string]string{
		"corrupted":    "{not json",
		"old version":  `{"version": 0, "rounds": 12}`,
		"newer format": `{"version": 99, "rounds": 12}`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "stats.json")
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))

			sink := NewStatsSink(path, nil)
			require.NoError(t, sink.Load())

			stats := sink.Stats()
			assert.Equal(t, CurrentStatsVersion, stats.Version)
			assert.Zero(t, stats.Rounds)

			backup, err := os.ReadFile(path + ".backup")
			require.NoError(t, err)
			assert.Equal(t, content, string(backup))
		})
	}
}

func TestReadStats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")

	_, err := ReadStats(path)
	assert.True(t, os.IsNotExist(err))

	data, err := json.Marshal(Stats{Version: CurrentStatsVersion, Runs: 2, Rounds: 7})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	stats, err := ReadStats(path)
	require.NoError(t, err)
	assert.Equal(t, 7, stats.Rounds)

	require.NoError(t, os.WriteFile(path, []byte(`{"version": 2}`), 0644))
	_, err = ReadStats(path)
	assert.ErrorIs(t, err, ErrStatsVersion)
}
