package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Sink consumes snapshots from a channel subscription.
type Sink interface {
	Start(ctx context.Context, snaps <-chan StatusSnapshot) error
	Stop() error
}

// JournalSink writes every snapshot to a JSON lines file.
type JournalSink struct {
	path    string
	logger  *slog.Logger
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
	done    chan struct{}
}

// NewJournalSink creates a JournalSink that writes to path.
func NewJournalSink(path string, logger *slog.Logger) *JournalSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &JournalSink{
		path:   path,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start opens the journal and begins writing snapshots.
// It runs until the context is canceled or the channel is closed.
func (s *JournalSink) Start(ctx context.Context, snaps <-chan StatusSnapshot) error {
	if err := s.openFile(); err != nil {
		return err
	}

	go s.run(ctx, snaps)
	return nil
}

// largeJournalThreshold is the size above which we warn about old journals.
const largeJournalThreshold = 100 * 1024 * 1024 // 100MB

func (s *JournalSink) openFile() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create journal directory: %w", err)
	}

	if err := s.rotateExisting(); err != nil {
		return err
	}

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}

	s.mu.Lock()
	s.file = file
	s.encoder = json.NewEncoder(file)
	s.mu.Unlock()

	return nil
}

// rotateExisting renames a non-empty journal with a timestamp suffix so each
// run starts a fresh file.
func (s *JournalSink) rotateExisting() error {
	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat journal: %w", err)
	}

	if info.Size() == 0 {
		return nil
	}

	if info.Size() > largeJournalThreshold {
		s.logger.Warn("large journal file, consider cleaning up old .bak files",
			"size_mb", info.Size()/(1024*1024),
			"dir", filepath.Dir(s.path),
		)
	}

	timestamp := time.Now().Format("2006-01-02T15-04-05")
	bakPath := fmt.Sprintf("%s.%s.bak", s.path, timestamp)

	if err := os.Rename(s.path, bakPath); err != nil {
		return fmt.Errorf("rotate journal: %w", err)
	}

	return nil
}

func (s *JournalSink) run(ctx context.Context, snaps <-chan StatusSnapshot) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			s.drain(snaps)
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			s.write(snap)
		}
	}
}

// drain writes whatever is already buffered so the terminal snapshot of a
// run is not lost to cancellation.
func (s *JournalSink) drain(snaps <-chan StatusSnapshot) {
	for {
		select {
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			s.write(snap)
		default:
			return
		}
	}
}

func (s *JournalSink) write(snap StatusSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.encoder == nil {
		return
	}

	if err := s.encoder.Encode(snap); err != nil {
		s.logger.Error("journal write failed", "path", s.path, "error", err)
	}
}

// Stop waits for the writer to finish and closes the journal.
func (s *JournalSink) Stop() error {
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		s.encoder = nil
		return err
	}
	return nil
}

// Path returns the journal path.
func (s *JournalSink) Path() string {
	return s.path
}

// ReadJournal decodes every snapshot in a journal file.
func ReadJournal(path string) ([]StatusSnapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []StatusSnapshot
	dec := json.NewDecoder(f)
	for dec.More() {
		var snap StatusSnapshot
		if err := dec.Decode(&snap); err != nil {
			return out, fmt.Errorf("decode journal line %d: %w", len(out)+1, err)
		}
		out = append(out, snap)
	}
	return out, nil
}
