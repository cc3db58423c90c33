// Package logging configures the process-wide zerolog logger. Packages log
// through Component loggers so every line names its origin.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

var (
	mu      sync.Mutex
	logFile *os.File
)

// Config holds logger configuration.
type Config struct {
	Level zerolog.Level
	// Console receives log lines. Nil keeps the console quiet.
	Console io.Writer
	// Pretty renders console lines for humans instead of JSON.
	Pretty bool
	// Dir, when set, also receives JSON logs in pi-<date>.log.
	Dir string
	// Retain is how many log files Dir keeps. Zero keeps all.
	Retain int
}

// DefaultConfig logs info and above to stderr.
func DefaultConfig() Config {
	return Config{
		Level:   zerolog.InfoLevel,
		Console: os.Stderr,
		Retain:  7,
	}
}

// Init replaces the global logger. It returns the log file path when Dir
// is set.
func Init(cfg Config) (string, error) {
	mu.Lock()
	defer mu.Unlock()

	zerolog.TimeFieldFormat = time.RFC3339Nano

	var writers []io.Writer
	if cfg.Console != nil {
		if cfg.Pretty {
			writers = append(writers, zerolog.ConsoleWriter{Out: cfg.Console, TimeFormat: time.Kitchen})
		} else {
			writers = append(writers, cfg.Console)
		}
	}

	closeFile()
	var path string
	if cfg.Dir != "" {
		f, err := openLogFile(cfg.Dir, time.Now())
		if err != nil {
			return "", err
		}
		logFile, path = f, f.Name()
		writers = append(writers, f)
		prune(cfg.Dir, cfg.Retain)
	}

	var out io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}
	Logger = zerolog.New(out).Level(cfg.Level).With().Timestamp().Logger()
	return path, nil
}

func openLogFile(dir string, now time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(dir, "pi-"+now.Format("2006-01-02")+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// prune deletes the oldest pi-*.log files so at most keep remain. The
// date in the name sorts chronologically.
func prune(dir string, keep int) {
	if keep <= 0 {
		return
	}
	names, err := filepath.Glob(filepath.Join(dir, "pi-*.log"))
	if err != nil || len(names) <= keep {
		return
	}
	sort.Strings(names)
	for _, name := range names[:len(names)-keep] {
		_ = os.Remove(name)
	}
}

func closeFile() {
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// Close releases the log file, if any.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	closeFile()
}

// ParseLevel parses a level name case-insensitively. "warning" is
// accepted for warn.
func ParseLevel(level string) (zerolog.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	l, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", level)
	}
	return l, nil
}

// Debug starts a debug message on the global logger.
func Debug() *zerolog.Event {
	return Logger.Debug()
}

// Component returns a child logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

func init() {
	_, _ = Init(Config{Level: zerolog.InfoLevel, Console: os.Stderr})
}
