// Package shutdown maps process signals onto the control surface of a
// running fishing loop.
package shutdown

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// Controls is the part of the controller that signals drive.
type Controls interface {
	Stop() error
	EmergencyStop() error
	Pause() error
	Resume() error
	Paused() bool
}

// Signals are the signals RunWithSignals listens for.
var Signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGUSR1}

// RunWithSignals runs runner and forwards process signals to ctl until runner
// returns. The first SIGINT or SIGTERM stops gracefully; a second one, or
// SIGQUIT, stops immediately; SIGUSR1 toggles pause.
func RunWithSignals(
	ctx context.Context,
	logger *slog.Logger,
	ctl Controls,
	runner func(ctx context.Context) error,
) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, Signals...)
	defer signal.Stop(sigChan)

	return Run(ctx, logger, ctl, sigChan, runner)
}

// Run is RunWithSignals with an explicit signal source.
func Run(
	ctx context.Context,
	logger *slog.Logger,
	ctl Controls,
	sigs <-chan os.Signal,
	runner func(ctx context.Context) error,
) error {
	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	runDone := make(chan error, 1)
	go func() {
		runDone <- runner(runCtx)
	}()

	stopping := false
	for {
		select {
		case err := <-runDone:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil

		case sig := <-sigs:
			switch {
			case sig == syscall.SIGUSR1:
				togglePause(logger, ctl)

			case sig == syscall.SIGQUIT || stopping:
				logger.Warn("received signal, emergency stop", "signal", sig)
				if err := ctl.EmergencyStop(); err != nil {
					logger.Debug("emergency stop", "error", err)
				}
				runCancel()

			default:
				stopping = true
				logger.Info("received signal, stopping", "signal", sig)
				// Stop blocks for its bounded join; keep listening so a second
				// signal can escalate.
				go func() {
					if err := ctl.Stop(); err != nil {
						logger.Debug("stop", "error", err)
					}
				}()
			}
		}
	}
}

func togglePause(logger *slog.Logger, ctl Controls) {
	if ctl.Paused() {
		logger.Info("received signal, resuming")
		if err := ctl.Resume(); err != nil {
			logger.Warn("resume failed", "error", err)
		}
		return
	}
	logger.Info("received signal, pausing")
	if err := ctl.Pause(); err != nil {
		logger.Warn("pause failed", "error", err)
	}
}
