// Package log configures the process-wide structured logger shared by the
// engine binaries.
package log

import (
	"log/slog"
	"os"
)

// Setup installs the default slog logger at the given level. Unknown level
// names fall back to info rather than failing startup.
func Setup(logLevel string) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = slog.LevelInfo
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// WithModule tags the default logger with the engine module emitting the
// records, so one process's modules stay distinguishable in shared output.
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
