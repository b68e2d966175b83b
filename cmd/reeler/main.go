package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/npratt/reeler/internal/actuator"
	"github.com/npratt/reeler/internal/classifier"
	"github.com/npratt/reeler/internal/config"
	"github.com/npratt/reeler/internal/controller"
	"github.com/npratt/reeler/internal/events"
	"github.com/npratt/reeler/internal/shutdown"
)

var version = "dev"

func main() {
	logLevel := &slog.LevelVar{}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	viper.SetEnvPrefix("REELER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd := newRootCmd(logger, logLevel)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd(logger *slog.Logger, logLevel *slog.LevelVar) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "reeler",
		Short: "Automated fishing minigame controller",
		Long: `reeler drives the fishing minigame: it waits for a bite, confirms the
hook, reels through the pull phases, confirms the catch and casts again,
round after round until stopped.

Detections come from a classifier and input goes through an actuator.
The run command replays a detection script against a dry-run actuator,
which rehearses the whole control loop without touching the game.`,
		SilenceUsage: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().Bool(FlagVerbose, false, "Enable verbose (debug) logging")
	rootCmd.PersistentFlags().String(FlagConfig, "", "Config file path (default: .reeler/config.yaml)")
	rootCmd.PersistentFlags().String(FlagLogFile, "", "Log file path (default: stderr)")
	rootCmd.PersistentFlags().String(FlagJournalFile, "", "Status journal path")
	rootCmd.PersistentFlags().String(FlagStatsFile, "", "Lifetime stats path")

	rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		_ = viper.BindPFlag(f.Name, f)
	})

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "reeler %s\n", version)
		},
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(newRunCmd(logger, logLevel))
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newValidateScriptCmd())
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newJournalCmd())
	return rootCmd
}

// loadConfig loads the layered config and applies explicitly set path flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed(FlagLogFile) {
		cfg.Paths.Log = viper.GetString(FlagLogFile)
	}
	if flags.Changed(FlagJournalFile) {
		cfg.Paths.Journal = viper.GetString(FlagJournalFile)
	}
	if flags.Changed(FlagStatsFile) {
		cfg.Paths.Stats = viper.GetString(FlagStatsFile)
	}
	if flags.Lookup(FlagScript) != nil && flags.Changed(FlagScript) {
		cfg.Classifier.Script = viper.GetString(FlagScript)
	}
	if flags.Lookup(FlagThreshold) != nil && flags.Changed(FlagThreshold) {
		cfg.Classifier.Threshold = viper.GetFloat64(FlagThreshold)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	}
	return cfg, nil
}

func newRunCmd(logger *slog.Logger, logLevel *slog.LevelVar) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the control loop against a detection script",
		Long: `Run the control loop with the scripted classifier and the dry-run
actuator. Every transition is printed, appended to the status journal and
folded into the lifetime stats.

Signals:
  SIGINT, SIGTERM   stop after releasing input (a second one stops immediately)
  SIGQUIT           stop immediately
  SIGUSR1           toggle pause`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if viper.GetBool(FlagVerbose) {
				logLevel.Set(slog.LevelDebug)
				logger.Debug("verbose logging enabled")
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Classifier.Script == "" {
				return errors.New("no detection script: pass --script or set classifier.script")
			}

			script, err := classifier.LoadScript(cfg.Classifier.Script)
			if err != nil {
				return err
			}

			runLogger := logger
			if cfg.Paths.Log != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.Paths.Log), 0755); err != nil {
					return fmt.Errorf("create log directory: %w", err)
				}
				logResult, err := SetupFileLogger(cfg.Paths.Log, logLevel, cfg.LogRotation)
				if err != nil {
					return err
				}
				defer func() { _ = logResult.Close() }()
				runLogger = logResult.Logger
			}

			color := stdoutIsTerminal()
			if cmd.Flags().Changed(FlagColor) {
				color = viper.GetBool(FlagColor)
			}

			return runScript(cmd.Context(), runOptions{
				cfg:          cfg,
				script:       script,
				logger:       runLogger,
				console:      NewConsole(cmd.OutOrStdout(), color),
				stopWhenDone: viper.GetBool(FlagStopWhenDone),
			})
		},
	}

	runCmd.Flags().String(FlagScript, "", "Detection script (YAML)")
	runCmd.Flags().Float64(FlagThreshold, 0, "Minimum detection confidence (overrides classifier.threshold)")
	runCmd.Flags().Bool(FlagColor, false, "Color status lines (default: when stdout is a terminal)")
	runCmd.Flags().Bool(FlagStopWhenDone, true, "Stop once a non-looping script has played out")
	runCmd.Flags().VisitAll(func(f *pflag.Flag) {
		_ = viper.BindPFlag(f.Name, f)
	})
	return runCmd
}

type runOptions struct {
	cfg          *config.Config
	script       *classifier.ScriptFile
	logger       *slog.Logger
	console      *Console
	stopWhenDone bool
	signals      <-chan os.Signal // nil: process signals
}

// runScript wires the scripted classifier, the dry-run actuator and the
// status sinks around a controller and runs it until it stops.
func runScript(ctx context.Context, opts runOptions) error {
	cfg, logger := opts.cfg, opts.logger

	cls := classifier.NewScript(opts.script, cfg.Classifier.Threshold)
	act := actuator.NewDryRun(actuator.DryRunConfig{
		CastDuration: cfg.Cast.Duration,
		ConfirmKey:   cfg.Actuator.ConfirmKey,
		DPI:          cfg.Actuator.DPI,
	}, logger)

	publisher := events.NewPublisher(logger)
	journal := events.NewJournalSink(cfg.Paths.Journal, logger)
	stats := events.NewStatsSink(cfg.Paths.Stats, logger)

	sinkCtx, sinkCancel := context.WithCancel(ctx)
	defer sinkCancel()

	sinks, err := startSinks(sinkCtx, publisher, []sinkSpec{
		{name: "journal", sink: journal, buffer: events.DefaultBufferSize},
		{name: "stats", sink: stats, buffer: events.StatsBufferSize},
	})
	if err != nil {
		sinkCancel()
		publisher.Close()
		stopSinks(sinks)
		return err
	}

	if opts.console != nil {
		publisher.Subscribe(opts.console.Observe)
	}

	ctrl := controller.New(cfg, cls, act, publisher, logger)

	logger.Info("reeler starting",
		"version", version,
		"script", cfg.Classifier.Script,
		"script_name", opts.script.Name,
		"threshold", cfg.Classifier.Threshold,
		"journal", journal.Path(),
		"stats", stats.Path(),
	)

	runner := func(runCtx context.Context) error {
		if opts.stopWhenDone && !opts.script.Loop {
			go stopWhenScriptDone(runCtx, cls, ctrl, cfg.Polling.Initial, logger)
		}
		return ctrl.Run(runCtx)
	}

	if opts.signals != nil {
		err = shutdown.Run(ctx, logger, ctrl, opts.signals, runner)
	} else {
		err = shutdown.RunWithSignals(ctx, logger, ctrl, runner)
	}

	sinkCancel()
	publisher.Close()
	stopSinks(sinks)

	totals := stats.Stats()
	logger.Info("reeler stopped",
		"run_id", ctrl.RunID(),
		"phase", ctrl.Phase().String(),
		"lifetime_rounds", totals.Rounds,
		"lifetime_runs", totals.Runs,
	)
	return err
}

type sinkSpec struct {
	name   string
	sink   events.Sink
	buffer int
}

// startSinks subscribes and starts each sink in order. It returns the sinks
// that did start, even on error, so the caller can stop them.
func startSinks(ctx context.Context, publisher *events.Publisher, specs []sinkSpec) ([]events.Sink, error) {
	started := make([]events.Sink, 0, len(specs))
	for _, spec := range specs {
		snaps, _ := publisher.SubscribeChan(spec.buffer)
		if err := spec.sink.Start(ctx, snaps); err != nil {
			return started, fmt.Errorf("start %s: %w", spec.name, err)
		}
		started = append(started, spec.sink)
	}
	return started, nil
}

func stopSinks(sinks []events.Sink) {
	for _, s := range sinks {
		_ = s.Stop()
	}
}

// stopWhenScriptDone stops ctrl once the script has nothing left to replay.
func stopWhenScriptDone(ctx context.Context, cls *classifier.Script, ctrl *controller.Controller, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !cls.Done() {
				continue
			}
			logger.Info("detection script finished, stopping", "run_id", ctrl.RunID())
			if err := ctrl.Stop(); err != nil && !errors.Is(err, controller.ErrNotRunning) {
				logger.Warn("stop after script failed", "error", err)
			}
			return
		}
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			return enc.Close()
		},
	}
}

func newValidateScriptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-script FILE",
		Short: "Check a detection script and list its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sf, err := classifier.LoadScript(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			name := sf.Name
			if name == "" {
				name = filepath.Base(args[0])
			}
			_, _ = fmt.Fprintf(out, "Script: %s\n", name)
			if sf.Threshold != nil {
				_, _ = fmt.Fprintf(out, "Threshold: %.2f\n", *sf.Threshold)
			}
			_, _ = fmt.Fprintf(out, "Loop: %t\n", sf.Loop)
			_, _ = fmt.Fprintf(out, "Timed length: %s\n", sf.Duration())
			_, _ = fmt.Fprintf(out, "Steps:\n")
			for i, st := range sf.Steps {
				_, _ = fmt.Fprintf(out, "  %2d. %s\n", i+1, st.Describe())
			}
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show lifetime statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			stats, err := events.ReadStats(cfg.Paths.Stats)
			if err != nil {
				if os.IsNotExist(err) {
					_, _ = fmt.Fprintln(out, "No stats yet")
					return nil
				}
				return fmt.Errorf("read stats: %w", err)
			}

			if viper.GetBool(FlagJSON) {
				data, err := json.MarshalIndent(stats, "", "  ")
				if err != nil {
					return fmt.Errorf("marshal stats: %w", err)
				}
				_, _ = fmt.Fprintln(out, string(data))
				return nil
			}

			_, _ = fmt.Fprintf(out, "Runs: %d\n", stats.Runs)
			_, _ = fmt.Fprintf(out, "Rounds: %d\n", stats.Rounds)
			_, _ = fmt.Fprintf(out, "Stall retries: %d\n", stats.StallRetries)
			_, _ = fmt.Fprintf(out, "Failures: %d\n", stats.Failures)
			if stats.LastRunID != "" {
				_, _ = fmt.Fprintf(out, "Last run: %s (%s)\n", stats.LastRunID, stats.LastPhase)
			}
			if stats.LastError != "" {
				_, _ = fmt.Fprintf(out, "Last error: %s\n", stats.LastError)
			}
			if !stats.UpdatedAt.IsZero() {
				_, _ = fmt.Fprintf(out, "Updated: %s\n", stats.UpdatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	statsCmd.Flags().Bool(FlagJSON, false, "Output stats as JSON")
	_ = viper.BindPFlag(FlagJSON, statsCmd.Flags().Lookup(FlagJSON))
	return statsCmd
}

func newJournalCmd() *cobra.Command {
	journalCmd := &cobra.Command{
		Use:   "journal",
		Short: "View recent status snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if viper.GetBool(FlagFollow) {
				return tailFollow(cmd.Context(), cmd.OutOrStdout(), cfg.Paths.Journal)
			}
			return tailLast(cmd.OutOrStdout(), cfg.Paths.Journal, viper.GetInt(FlagCount))
		},
	}

	journalCmd.Flags().Bool(FlagFollow, false, "Follow the journal (like tail -f)")
	journalCmd.Flags().Int(FlagCount, 20, "Number of recent snapshots to show")
	journalCmd.Flags().VisitAll(func(f *pflag.Flag) {
		_ = viper.BindPFlag(f.Name, f)
	})
	return journalCmd
}
