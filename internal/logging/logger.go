// Package logging builds the tool's structured logger from the environment.
package logging

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/charmbracelet/log"
)

// LoggerCloser wraps a logger and the file it may be writing to.
type LoggerCloser struct {
	*log.Logger
	closer io.Closer
}

// Close closes the underlying writer if it is closeable.
func (lc *LoggerCloser) Close() error {
	if lc.closer != nil {
		return lc.closer.Close()
	}
	return nil
}

// ParseLevel maps a level name to a log level, defaulting to info.
func ParseLevel(s string) log.Level {
	switch s {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// NewLoggerWithWriter creates a logger writing to w.
func NewLoggerWithWriter(w io.Writer) *LoggerCloser {
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
	})
	lg.SetLevel(ParseLevel(os.Getenv("JITDIS_LOG_LEVEL")))

	prefix := os.Getenv("JITDIS_LOG_PREFIX")
	if prefix == "" {
		prefix = "jitdis "
	}

	var closer io.Closer
	if c, ok := w.(io.Closer); ok && w != os.Stderr {
		closer = c
	}
	return &LoggerCloser{
		Logger: lg.WithPrefix(prefix),
		closer: closer,
	}
}

// NewLogger creates a logger configured by environment variables:
//
//	JITDIS_LOG_LEVEL    debug, info, warn, error (default: info)
//	JITDIS_LOG_PREFIX   message prefix (default: "jitdis ")
//	JITDIS_LOG_TO_FILE  "1" logs to a timestamped file instead of stderr
func NewLogger() *LoggerCloser {
	output := io.Writer(os.Stderr)
	if os.Getenv("JITDIS_LOG_TO_FILE") == "1" {
		name := fmt.Sprintf("jitdis-%s.log", time.Now().Format("20060102-150405"))
		// Fall back to stderr if the file cannot be created.
		if f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644); err == nil {
			output = f
		}
	}
	return NewLoggerWithWriter(output)
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

// RecoverPanic logs a recovered panic with its stack and runs cleanup.
// It must be deferred directly.
func RecoverPanic(lg *log.Logger, name string, cleanup func()) {
	if r := recover(); r != nil {
		if lg != nil {
			lg.Error("panic in "+name, "panic", r, "stack", string(debug.Stack()))
		}
		if cleanup != nil {
			cleanup()
		}
	}
}
