// Package logger builds the structured slog.Logger shared by every gateway
// component (middleware, access/session/audit stores, FITS core spans).
package logger

import (
	"log/slog"
	"os"
)

// New returns a JSON-structured stdout logger at the given level name
// ("debug", "info", "warn", "error"; unrecognized values default to info).
func New(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}
