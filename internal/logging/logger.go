// Package logging configures the slog default logger that library packages
// derive their component loggers from.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rohankatakam/fraudgraph/internal/config"
)

// Config holds logger configuration
type Config struct {
	Level      slog.Level
	OutputFile string    // empty = console only
	MaxSize    int64     // bytes before rotation (default 10MB)
	MaxBackups int       // rotated files kept (default 3)
	JSONFormat bool
	AddSource  bool
	Output     io.Writer // console writer (default os.Stderr)
}

// FromConfig maps the log section; verbose forces debug with source locations
func FromConfig(c config.LogConfig, verbose bool) Config {
	cfg := Config{
		Level:      ParseLevel(c.Level),
		OutputFile: c.File,
		JSONFormat: c.JSON,
	}
	if verbose {
		cfg.Level = slog.LevelDebug
		cfg.AddSource = true
	}
	return cfg
}

// ParseLevel maps "debug", "info", "warn" or "error" to a slog level; anything
// else is info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger owns the handler and the optional log file
type Logger struct {
	slog *slog.Logger
	mu   sync.Mutex
	file *os.File
}

// NewLogger builds a logger writing to the console and, when configured, a
// size-rotated file
func NewLogger(cfg Config) (*Logger, error) {
	if cfg.MaxSize == 0 {
		cfg.MaxSize = 10 * 1024 * 1024
	}
	if cfg.MaxBackups == 0 {
		cfg.MaxBackups = 3
	}

	// stdout is reserved for command output
	console := cfg.Output
	if console == nil {
		console = os.Stderr
	}

	l := &Logger{}
	out := console
	if cfg.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputFile), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		if err := rotate(cfg.OutputFile, cfg.MaxSize, cfg.MaxBackups); err != nil {
			return nil, fmt.Errorf("failed to rotate logs: %w", err)
		}
		file, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.OutputFile, err)
		}
		l.file = file
		out = io.MultiWriter(console, file)
	}

	opts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}
	if cfg.JSONFormat {
		l.slog = slog.New(slog.NewJSONHandler(out, opts))
	} else {
		l.slog = slog.New(slog.NewTextHandler(out, opts))
	}
	return l, nil
}

// rotate shifts path to path.1 (and older backups up by one) once it reaches maxSize
func rotate(path string, maxSize int64, backups int) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() < maxSize {
		return nil
	}

	for i := backups - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", path, i)
		if _, err := os.Stat(from); err == nil {
			_ = os.Rename(from, fmt.Sprintf("%s.%d", path, i+1))
		}
	}
	return os.Rename(path, path+".1")
}

// Slog exposes the underlying logger
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// With returns a child logger sharing the same outputs
func (l *Logger) With(args ...any) *slog.Logger {
	return l.slog.With(args...)
}

// Close releases the log file
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

var (
	global *Logger
	once   sync.Once
)

// Initialize installs the process logger as slog's default. Only the first
// call has any effect.
func Initialize(cfg Config) error {
	var initErr error
	once.Do(func() {
		l, err := NewLogger(cfg)
		if err != nil {
			initErr = fmt.Errorf("failed to initialize logger: %w", err)
			return
		}
		global = l
		slog.SetDefault(l.Slog())
	})
	return initErr
}

// Close releases the process logger's file, if any
func Close() error {
	if global == nil {
		return nil
	}
	return global.Close()
}
