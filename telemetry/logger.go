package telemetry

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/aluiziolira/aragog/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds the process logger: text on a terminal, JSON otherwise.
// When cfg.File is set output is also written to a rotated file and the
// JSON handler is used. verbose forces the debug level.
func NewLogger(cfg config.LoggingConfig, verbose bool) (*slog.Logger, *slog.LevelVar, io.Closer, error) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else if cfg.Level != "" {
		var parsed slog.Level
		if err := parsed.UnmarshalText([]byte(strings.ToUpper(cfg.Level))); err != nil {
			return nil, nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level.Set(parsed)
	}

	return newLogger(os.Stdout, cfg, level)
}

func newLogger(stdout *os.File, cfg config.LoggingConfig, level *slog.LevelVar) (*slog.Logger, *slog.LevelVar, io.Closer, error) {
	opts := &slog.HandlerOptions{Level: level}

	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		var out io.Writer = rotator
		if stdout != nil {
			out = io.MultiWriter(stdout, rotator)
		}
		return slog.New(slog.NewJSONHandler(out, opts)), level, rotator, nil
	}

	var handler slog.Handler
	if isTerminal(stdout) {
		handler = slog.NewTextHandler(stdout, opts)
	} else {
		handler = slog.NewJSONHandler(stdout, opts)
	}
	return slog.New(handler), level, nopCloser{}, nil
}

func isTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
