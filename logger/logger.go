// Package logger builds the zerolog logger shared by every component of a
// run.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options configures the logger.
type Options struct {
	// Level is one of debug, info, warn or error.
	// Default: info
	Level string

	// Format is console or json.
	// Default: console
	Format string

	// Writer receives the formatted log.
	// Default: os.Stderr
	Writer io.Writer

	// File, if set, additionally receives every event as JSON.
	File string

	// Session tags every event. A random id is used when empty.
	Session string
}

// Logger is the logger of a run together with the resources it holds.
type Logger struct {
	zerolog.Logger

	Session string
	file    *os.File
}

// New builds a Logger from opts.
func New(opts Options) (*Logger, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	var w io.Writer = os.Stderr
	if opts.Writer != nil {
		w = opts.Writer
	}
	switch strings.ToLower(opts.Format) {
	case "", FormatConsole:
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	case FormatJSON:
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	l := &Logger{Session: opts.Session}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		l.file = f
		w = zerolog.MultiLevelWriter(w, f)
	}

	if l.Session == "" {
		l.Session = uuid.NewString()
	}
	l.Logger = zerolog.New(w).Level(lvl).With().
		Timestamp().
		Str("session", l.Session).
		Logger()
	return l, nil
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// ParseLevel maps a level name to a zerolog level. An empty name is info.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// Level picks the effective level from the CLI switches, falling back to
// the configured one.
func Level(verbose, quiet bool, configured string) string {
	switch {
	case verbose:
		return "debug"
	case quiet:
		return "error"
	default:
		return configured
	}
}
