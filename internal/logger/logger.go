// Package logger wires the daemon's structured logging: a text handler
// writing to stdout and a size/age-rotated file.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the daemon logger.
type Options struct {
	// Path is the log file path. Parent directories are created as needed.
	Path string
	// Level is the minimum level written to both outputs.
	Level slog.Leveler
	// MaxSizeMB is the size in megabytes at which the log file is rotated.
	MaxSizeMB int
	// MaxBackups is the number of rotated files to retain.
	MaxBackups int
	// MaxAgeDays is the number of days to retain rotated files.
	MaxAgeDays int
	// Compress gzip-compresses rotated files.
	Compress bool
	// Stdout additionally writes log records to stdout when true. Daemons
	// typically disable this once daemonized, since stdout is detached.
	Stdout bool
}

// New builds a *slog.Logger that writes to a lumberjack-rotated file, and
// optionally to stdout, returning the io.Closer for the rotated file so
// callers can flush/close it on shutdown.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	dir := filepath.Dir(opts.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
	}

	rotated := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}

	var writer io.Writer = rotated
	if opts.Stdout {
		writer = io.MultiWriter(os.Stdout, rotated)
	}

	handler := slog.NewTextHandler(writer, &slog.HandlerOptions{Level: opts.Level})
	return slog.New(handler), rotated, nil
}

// Discard returns a logger that writes nowhere, for tests that don't care
// about log output but need a non-nil *slog.Logger to satisfy constructors.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
