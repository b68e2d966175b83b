package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npratt/reeler/internal/events"
	"github.com/npratt/reeler/internal/fishing"
)

func snap(p fishing.Phase, rounds int) events.StatusSnapshot {
	return events.StatusSnapshot{
		RunID:      "0f8c2d1e-aaaa-bbbb-cccc-000000000000",
		Phase:      p,
		LastLabel:  fishing.NoLabel,
		RoundCount: rounds,
		Timestamp:  time.Date(2024, 5, 1, 14, 3, 7, 0, time.UTC),
	}
}

func TestConsoleFormatPlain(t *testing.T) {
	c := NewConsole(nil, false)

	s := snap(fishing.PullingHalfway, 3)
	s.StallRetries = 1
	s.LastLabel = fishing.LabelPullHalf
	s.Confidence = 0.87
	s.Paused = true

	assert.Equal(t,
		"14:03:07 pulling_halfway  rounds=3 stalls=1 label=pull_half@0.87 paused",
		c.Format(s))
}

func TestConsoleFormatColor(t *testing.T) {
	c := NewConsole(nil, true)
	line := c.Format(snap(fishing.Failed("bite timeout"), 0))
	assert.Contains(t, line, "error(bite timeout)")
	assert.Contains(t, line, "rounds=0")
}

func TestConsoleSkipsRepeats(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, false)

	c.Observe(snap(fishing.WaitingInitial, 0))
	c.Observe(snap(fishing.WaitingInitial, 0))
	c.Observe(snap(fishing.WaitingHook, 0))

	paused := snap(fishing.WaitingHook, 0)
	paused.Paused = true
	c.Observe(paused)
	c.Observe(paused)
	c.Observe(snap(fishing.WaitingHook, 0))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "waiting_initial")
	assert.Contains(t, lines[1], "waiting_hook")
	assert.True(t, strings.HasSuffix(lines[2], "paused"))
	assert.False(t, strings.HasSuffix(lines[3], "paused"))
}

func TestPhaseStyleCoversEveryKind(t *testing.T) {
	for k := fishing.KindStopped; k <= fishing.KindError; k++ {
		assert.NotPanics(t, func() { _ = phaseStyle(k).Render(k.String()) })
	}
	assert.Equal(t, consoleStyles.Error, phaseStyle(fishing.KindError))
	assert.Equal(t, consoleStyles.Idle, phaseStyle(fishing.KindStopped))
}
