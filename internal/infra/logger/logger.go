package logger

import (
	"log/slog"
	"os"
)

// New builds a structured JSON logger at the given level and installs it
// as the slog default.
func New(level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}
