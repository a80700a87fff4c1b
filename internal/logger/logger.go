// =============================================================================
// Billing Reconciler - Logging
// =============================================================================
//
// This module wires the structured logger used by every component. The global
// zerolog logger is configured once at startup (see main.go) and components
// derive their own child loggers tagged with a "component" field.
//
// OUTPUTS:
//   - "stdout" / "stderr"  : write to the process streams
//   - any other value      : treated as a file path (appended to)
//
// FORMATS:
//   - "console" : human-readable, colored output (default)
//   - "json"    : one JSON object per line
//
// =============================================================================

package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string // trace, debug, info, warn, error
	Format     string // json, console
	TimeFormat string // Go time layout used for the timestamp field
	Output     string // stdout, stderr, or file path
}

// DefaultConfig returns the logging configuration used before the main
// configuration file has been read.
func DefaultConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Format:     "console",
		TimeFormat: time.RFC3339,
		Output:     "stdout",
	}
}

// Setup initializes the global logger with the provided configuration.
func Setup(config LogConfig) error {
	level, err := zerolog.ParseLevel(strings.ToLower(config.Level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", config.Level, err)
	}
	zerolog.SetGlobalLevel(level)

	output, err := openOutput(config.Output)
	if err != nil {
		return err
	}

	if !strings.EqualFold(config.Format, "json") {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: config.TimeFormat,
		}
	}

	if config.TimeFormat != "" {
		zerolog.TimeFieldFormat = config.TimeFormat
	}

	log.Logger = zerolog.New(output).With().
		Timestamp().
		Logger()

	return nil
}

// openOutput resolves the configured output destination.
func openOutput(output string) (io.Writer, error) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}

	if dir := filepath.Dir(output); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
		}
	}

	file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", output, err)
	}
	return file, nil
}

// SetVerbose lowers the global level to debug.
func SetVerbose() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// WithComponent returns a logger with a component field.
func WithComponent(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}

// Nop returns a logger that discards everything. Used by tests and by
// library callers that do not want engine output.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
