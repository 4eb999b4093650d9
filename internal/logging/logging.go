// Package logging configures the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/biaogd/rivett/internal/config"
)

// ParseLevel maps a config level name to a zerolog level, defaulting to info.
func ParseLevel(name string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Setup points the global logger at a console writer on stderr and a
// truncated debug log file. The returned closer releases the file.
func Setup(cfg config.LoggingSettings) (io.Closer, error) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	var writers []io.Writer
	if cfg.Console == nil || *cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"})
	}

	var file *os.File
	if cfg.File != "" {
		f, err := os.Create(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("failed to create debug log: %w", err)
		}
		fmt.Fprintf(f, "=== rivett debug log started %s ===\n", time.Now().Format(time.RFC3339))
		file = f
		writers = append(writers, f)
	}

	switch len(writers) {
	case 0:
		log.Logger = zerolog.Nop()
	case 1:
		log.Logger = zerolog.New(writers[0]).With().Timestamp().Logger()
	default:
		log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	}

	if file == nil {
		return nopCloser{}, nil
	}
	return file, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// For returns a child of the global logger tagged with a component name.
func For(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
