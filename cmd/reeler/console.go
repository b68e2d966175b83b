package main

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/npratt/reeler/internal/events"
	"github.com/npratt/reeler/internal/fishing"
)

// consoleStyles colors the phase column of each status line.
var consoleStyles = struct {
	Time    lipgloss.Style
	Idle    lipgloss.Style
	Waiting lipgloss.Style
	Hooked  lipgloss.Style
	Pulling lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Detail  lipgloss.Style
	Paused  lipgloss.Style
}{
	Time:    lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	Idle:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	Waiting: lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
	Hooked:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220")),
	Pulling: lipgloss.NewStyle().Foreground(lipgloss.Color("212")),
	Success: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("114")),
	Error:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	Detail:  lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
	Paused:  lipgloss.NewStyle().Foreground(lipgloss.Color("177")),
}

func phaseStyle(k fishing.PhaseKind) lipgloss.Style {
	switch k {
	case fishing.KindWaitingInitial, fishing.KindWaitingHook, fishing.KindCasting:
		return consoleStyles.Waiting
	case fishing.KindFishHooked:
		return consoleStyles.Hooked
	case fishing.KindPullingNormal, fishing.KindPullingHalfway:
		return consoleStyles.Pulling
	case fishing.KindSuccess:
		return consoleStyles.Success
	case fishing.KindError:
		return consoleStyles.Error
	default:
		return consoleStyles.Idle
	}
}

// stdoutIsTerminal reports whether status lines may carry color.
func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Console prints one line per phase or pause change.
type Console struct {
	out   io.Writer
	color bool

	mu         sync.Mutex
	lastPhase  fishing.Phase
	lastPaused bool
	printed    bool
}

// NewConsole creates a Console writing to out.
func NewConsole(out io.Writer, color bool) *Console {
	return &Console{out: out, color: color}
}

// Observe is an events.Observer.
func (c *Console) Observe(snap events.StatusSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.printed && snap.Phase == c.lastPhase && snap.Paused == c.lastPaused {
		return
	}
	c.printed = true
	c.lastPhase = snap.Phase
	c.lastPaused = snap.Paused

	_, _ = fmt.Fprintln(c.out, c.Format(snap))
}

// Format renders a snapshot as a single status line.
func (c *Console) Format(snap events.StatusSnapshot) string {
	ts := snap.Timestamp.Format("15:04:05")
	phase := fmt.Sprintf("%-16s", snap.Phase)
	detail := fmt.Sprintf("rounds=%d stalls=%d", snap.RoundCount, snap.StallRetries)
	if snap.HasLabel() {
		detail += fmt.Sprintf(" label=%s@%.2f", snap.LastLabel, snap.Confidence)
	}

	if !c.color {
		line := fmt.Sprintf("%s %s %s", ts, phase, detail)
		if snap.Paused {
			line += " paused"
		}
		return line
	}

	line := fmt.Sprintf("%s %s %s",
		consoleStyles.Time.Render(ts),
		phaseStyle(snap.Phase.Kind()).Render(phase),
		consoleStyles.Detail.Render(detail),
	)
	if snap.Paused {
		line += " " + consoleStyles.Paused.Render("paused")
	}
	return line
}
