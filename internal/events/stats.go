package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/npratt/reeler/internal/fishing"
)

// StatsBufferSize is the recommended buffer size for stats sink subscriptions.
const StatsBufferSize = 1000

// CurrentStatsVersion is the current stats file format version.
// Increment this when making incompatible changes to the Stats struct.
const CurrentStatsVersion = 1

// Stats holds lifetime totals across runs.
type Stats struct {
	Version      int       `json:"version"`
	Runs         int       `json:"runs"`
	Rounds       int       `json:"rounds"`
	StallRetries int       `json:"stall_retries"`
	Failures     int       `json:"failures"`
	LastRunID    string    `json:"last_run_id,omitempty"`
	LastPhase    string    `json:"last_phase,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DefaultMinSaveDelay is the minimum time between saves.
const DefaultMinSaveDelay = 5 * time.Second

// runCounters tracks how much of the current run is already in the totals.
type runCounters struct {
	id        string
	rounds    int
	stalls    int
	failed    bool
	finalized bool
}

// StatsSink folds snapshots into lifetime totals and persists them to a JSON
// file.
type StatsSink struct {
	path     string
	logger   *slog.Logger
	stats    *Stats
	run      runCounters
	dirty    bool
	mu       sync.Mutex
	done     chan struct{}
	lastSave time.Time
	minDelay time.Duration
}

// NewStatsSink creates a StatsSink that writes to path.
func NewStatsSink(path string, logger *slog.Logger) *StatsSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsSink{
		path:     path,
		logger:   logger,
		stats:    &Stats{Version: CurrentStatsVersion},
		done:     make(chan struct{}),
		minDelay: DefaultMinSaveDelay,
	}
}

// Start ensures the directory exists, loads existing totals, and begins
// processing snapshots.
func (s *StatsSink) Start(ctx context.Context, snaps <-chan StatusSnapshot) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create stats directory: %w", err)
	}

	if err := s.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load stats: %w", err)
	}

	go s.loop(ctx, snaps)
	return nil
}

func (s *StatsSink) loop(ctx context.Context, snaps <-chan StatusSnapshot) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			s.drain(snaps)
			s.flushIfDirty()
			return
		case snap, ok := <-snaps:
			if !ok {
				s.flushIfDirty()
				return
			}
			s.handle(snap)
		}
	}
}

func (s *StatsSink) drain(snaps <-chan StatusSnapshot) {
	for {
		select {
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			s.handle(snap)
		default:
			return
		}
	}
}

// Observe folds a single snapshot into the totals. Start calls it for every
// snapshot on its channel.
func (s *StatsSink) Observe(snap StatusSnapshot) {
	s.handle(snap)
}

func (s *StatsSink) handle(snap StatusSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.RunID != s.run.id {
		s.run = runCounters{id: snap.RunID}
		s.stats.Runs++
		s.stats.LastRunID = snap.RunID
		s.dirty = true
	}
	if s.run.finalized {
		return
	}

	if d := snap.RoundCount - s.run.rounds; d > 0 {
		s.stats.Rounds += d
		s.run.rounds = snap.RoundCount
		s.dirty = true
	}
	if d := snap.StallRetries - s.run.stalls; d > 0 {
		s.stats.StallRetries += d
		s.run.stalls = snap.StallRetries
		s.dirty = true
	}

	if phase := snap.Phase.String(); phase != s.stats.LastPhase {
		s.stats.LastPhase = phase
		s.dirty = true
	}

	if snap.Phase.Kind() == fishing.KindError && !s.run.failed {
		s.run.failed = true
		s.stats.Failures++
		s.stats.LastError = snap.ErrorMessage
		s.dirty = true
	}

	// Always save immediately when a run ends.
	if snap.Phase.IsTerminal() {
		s.run.finalized = true
		s.saveUnlocked()
		return
	}

	if s.dirty && time.Since(s.lastSave) >= s.minDelay {
		s.saveUnlocked()
	}
}

func (s *StatsSink) saveUnlocked() {
	s.stats.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(s.stats, "", "  ")
	if err != nil {
		s.logger.Error("stats marshal failed", "error", err)
		return
	}

	// Atomic write: temp file + rename
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		s.logger.Error("stats write failed", "path", tmpPath, "error", err)
		return
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		s.logger.Error("stats rename failed", "path", s.path, "error", err)
		return
	}

	s.dirty = false
	s.lastSave = time.Now()
}

func (s *StatsSink) flushIfDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirty {
		s.saveUnlocked()
	}
}

// Flush saves pending changes immediately.
func (s *StatsSink) Flush() {
	s.flushIfDirty()
}

// Stop waits for the processing goroutine to finish. The final save happens
// there.
func (s *StatsSink) Stop() error {
	<-s.done
	return nil
}

// Load reads the stats file from disk. A corrupted or incompatible file is
// backed up and replaced by fresh totals.
func (s *StatsSink) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stats, err := decodeStats(data)
	if err != nil {
		if backupErr := s.backupStatsFile(); backupErr != nil {
			s.logger.Warn("stats file unusable, failed to backup",
				"path", s.path,
				"error", err,
				"backup_error", backupErr)
		} else {
			s.logger.Warn("stats file unusable, backed up and starting fresh",
				"path", s.path,
				"error", err)
		}
		s.stats = &Stats{Version: CurrentStatsVersion}
		return nil
	}

	s.stats = stats
	return nil
}

// backupStatsFile moves the current stats file to a .backup file.
// Must be called with s.mu held.
func (s *StatsSink) backupStatsFile() error {
	return os.Rename(s.path, s.path+".backup")
}

// Stats returns a copy of the current totals.
func (s *StatsSink) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.stats
}

// Path returns the stats file path.
func (s *StatsSink) Path() string {
	return s.path
}

// SetMinDelay sets the minimum delay between saves (for testing).
func (s *StatsSink) SetMinDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minDelay = d
}

// ErrStatsVersion is returned for a stats file written by an incompatible
// version.
var ErrStatsVersion = errors.New("incompatible stats version")

func decodeStats(data []byte) (*Stats, error) {
	var stats Stats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	if stats.Version != CurrentStatsVersion {
		return nil, fmt.Errorf("%w: file has %d, want %d", ErrStatsVersion, stats.Version, CurrentStatsVersion)
	}
	return &stats, nil
}

// ReadStats loads a stats file without starting a sink.
func ReadStats(path string) (Stats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Stats{}, err
	}
	stats, err := decodeStats(data)
	if err != nil {
		return Stats{}, err
	}
	return *stats, nil
}
