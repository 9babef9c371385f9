package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultLogFile is the file Init writes to.
const DefaultLogFile = "llmgate.log"

// Init initializes the file logger, writing to llmgate.log in the current directory.
// Log level can be configured via LOG_LEVEL environment variable (trace, debug, info, warn, error).
func Init() (zerolog.Logger, error) {
	return InitWithOptions(DefaultLogFile, false)
}

// InitWithOptions initializes the logger with the specified options.
// If logFile is empty, logs go to stderr so that stdout stays free for command output.
// If pretty is true, uses ConsoleWriter for human-readable output (only valid when logFile is empty).
func InitWithOptions(logFile string, pretty bool) (zerolog.Logger, error) {
	level := ParseLevel(os.Getenv("LOG_LEVEL"))

	var output io.Writer
	switch {
	case logFile != "":
		//nolint:gosec // G304: User-specified log file path is intentional
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("failed to open log file %s: %w", logFile, err)
		}
		output = file
	case pretty:
		output = zerolog.ConsoleWriter{Out: os.Stderr}
	default:
		output = os.Stderr
	}

	log := New(output, level)

	event := log.Info().Str("level", level.String())
	if logFile != "" {
		event = event.Str("path", logFile)
	} else {
		event = event.Str("output", "stderr").Bool("pretty", pretty)
	}
	event.Msg("Logger initialized")

	return log, nil
}

// New builds a timestamped JSON logger on w.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// ParseLevel maps a LOG_LEVEL value to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
