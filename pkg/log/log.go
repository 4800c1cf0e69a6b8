// Package log configures the process-wide structured logger for the mailflow
// binaries.
package log

import (
	"log/slog"
	"os"
	"strings"
)

const serviceName = "mailflow"

// Setup installs the default slog logger, tagged with the service name so the
// sweeper and API lines are separable in shared log streams. LOG_FORMAT=json
// switches to the JSON handler for log shippers.
func Setup(logLevel string) {
	opts := &slog.HandlerOptions{Level: parseLevel(logLevel)}

	var handler slog.Handler
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler).With("service", serviceName))
}

func parseLevel(logLevel string) slog.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithModule tags the default logger with an engine module name
// (workflow_executor, continuation_scheduler, stuck_sweeper, ...).
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
