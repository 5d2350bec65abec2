// Package logging configures the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level represents log levels.
type Level = zerolog.Level

const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
)

// MaxLogFiles is how many log files OpenFile keeps in a directory.
const MaxLogFiles = 10

const fileTimeLayout = "2006-01-02T150405"

// Config holds logger configuration.
type Config struct {
	Level  Level
	Output io.Writer // defaults to os.Stderr
	Pretty bool      // console output instead of JSON
}

// DefaultConfig logs JSON at info level to stderr.
func DefaultConfig() Config {
	return Config{
		Level:  InfoLevel,
		Output: os.Stderr,
	}
}

// Init replaces the global zerolog logger. Packages log through
// github.com/rs/zerolog/log and pick this up.
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}
	log.Logger = zerolog.New(out).Level(cfg.Level).With().Timestamp().Logger()
}

// OpenFile creates a new timestamped log file in dir and removes all but
// the newest MaxLogFiles. The caller owns the returned file.
func OpenFile(dir string) (*os.File, error) {
	return openFileAt(dir, time.Now())
}

func openFileAt(dir string, now time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	name := filepath.Join(dir, now.Format(fileTimeLayout)+".log")
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	prune(dir, MaxLogFiles)
	return f, nil
}

// prune deletes the oldest log files beyond keep. File names sort by time.
func prune(dir string, keep int) {
	names, err := filepath.Glob(filepath.Join(dir, "*.log"))
	if err != nil || len(names) <= keep {
		return
	}
	sort.Strings(names)
	for _, name := range names[:len(names)-keep] {
		if err := os.Remove(name); err != nil {
			log.Debug().Err(err).Str("file", name).Msg("remove old log")
		}
	}
}

// ParseLevel parses DEBUG, INFO, WARN or ERROR, ignoring case. Anything
// else is InfoLevel.
func ParseLevel(level string) Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DebugLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Component returns a child of the current global logger tagged with a
// component name.
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}
