package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/npratt/reeler/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileLoggerResult contains the results of setting up file logging.
type FileLoggerResult struct {
	Logger   *slog.Logger
	LogFile  io.WriteCloser
	FilePath string
}

// Close closes the log file if it was opened.
func (r *FileLoggerResult) Close() error {
	if r.LogFile != nil {
		return r.LogFile.Close()
	}
	return nil
}

// SetupFileLogger creates a logger that writes JSON to a rotating file
// instead of stderr, so the console status lines stay readable.
func SetupFileLogger(path string, level slog.Leveler, rotationCfg config.LogRotationConfig) (*FileLoggerResult, error) {
	// lumberjack creates the file lazily; check the directory up front so a
	// bad path fails at startup instead of on the first log line.
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("log directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("log directory: %s is not a directory", dir)
	}

	writer := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rotationCfg.MaxSizeMB,
		MaxBackups: rotationCfg.MaxBackups,
		MaxAge:     rotationCfg.MaxAgeDays,
		Compress:   rotationCfg.Compress,
	}

	return &FileLoggerResult{
		Logger:   SetupLoggerWithWriter(writer, level),
		LogFile:  writer,
		FilePath: path,
	}, nil
}

// SetupLoggerWithWriter creates a JSON logger that writes to the given writer.
func SetupLoggerWithWriter(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}
