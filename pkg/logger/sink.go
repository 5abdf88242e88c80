package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RotationConfig controls the rotating file sink.
type RotationConfig struct {
	MaxSizeMB  int // rotate after this many megabytes, default 50
	MaxBackups int // old files kept, default 20
	MaxAgeDays int // retention, default 7
	Compress   bool
}

func (c *RotationConfig) setDefaults() {
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = 50
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = 20
	}
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = 7
	}
}

// OpenRotatingFile opens a size-rotated, age-expired log sink at path,
// creating parent directories as needed. Returns the writer and a cleanup
// function.
func OpenRotatingFile(path string, cfg RotationConfig) (io.Writer, func(), error) {
	cfg.setDefaults()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, err
		}
	}

	sink := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}

	return sink, func() { _ = sink.Close() }, nil
}

// OpenLogFile opens or creates a plain append-only log file at path.
// Returns the file handle and a cleanup function.
func OpenLogFile(path string) (*os.File, func(), error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return file, func() { _ = file.Close() }, nil
}

// Request returns a logger carrying the per-request attributes every log
// line in the broker schema must have.
func Request(base *slog.Logger, port int, requestID string) *slog.Logger {
	if base == nil {
		base = GetLogger()
	}
	return base.With("port", port, "requestId", requestID)
}
