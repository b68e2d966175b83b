package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/npratt/reeler/internal/events"
)

// tailLast prints the last n snapshots from the journal.
func tailLast(w io.Writer, path string, n int) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			_, _ = fmt.Fprintln(w, "No snapshots yet (journal does not exist)")
			return nil
		}
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() { _ = file.Close() }()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read journal: %w", err)
	}

	if len(lines) == 0 {
		_, _ = fmt.Fprintln(w, "No snapshots yet")
		return nil
	}

	start := 0
	if n > 0 && len(lines) > n {
		start = len(lines) - n
	}

	for _, line := range lines[start:] {
		printJournalLine(w, line)
	}
	return nil
}

// waitForFile waits for a file to be created and returns the opened file.
func waitForFile(ctx context.Context, path string) (*os.File, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(500 * time.Millisecond):
			file, err := os.Open(path)
			if err == nil {
				return file, nil
			}
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("open file: %w", err)
			}
		}
	}
}

// tailFollow prints snapshots appended to the journal until ctx is done.
func tailFollow(ctx context.Context, w io.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("open journal: %w", err)
		}
		_, _ = fmt.Fprintln(w, "Waiting for journal to be created...")
		file, err = waitForFile(ctx, path)
		if err != nil {
			return err
		}
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seek to end: %w", err)
	}

	_, _ = fmt.Fprintln(w, "Following journal (Ctrl+C to stop)...")
	reader := bufio.NewReader(file)
	var partial string
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		chunk, err := reader.ReadString('\n')
		partial += chunk
		if err != nil {
			if err == io.EOF {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return fmt.Errorf("read journal: %w", err)
		}
		printJournalLine(w, strings.TrimSuffix(partial, "\n"))
		partial = ""
	}
}

// printJournalLine prints a single journal line in a human-readable format.
func printJournalLine(w io.Writer, line string) {
	var snap events.StatusSnapshot
	if err := json.Unmarshal([]byte(line), &snap); err != nil {
		_, _ = fmt.Fprintln(w, line)
		return
	}

	out := fmt.Sprintf("[%s] %s", snap.Timestamp.Format("15:04:05"), snap)
	if snap.RunID != "" {
		out += fmt.Sprintf(" (run %s)", shortID(snap.RunID))
	}
	_, _ = fmt.Fprintln(w, out)
}

// shortID trims a UUID to its first group.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
