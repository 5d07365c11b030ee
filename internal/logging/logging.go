// Package logging sets up the structured logger shared by every subsystem.
package logging

import (
	"log/slog"
	"os"
)

// New builds a JSON slog.Logger, debug-leveled when debug is true. This
// mirrors the teacher's cmd/server bootstrap: a single JSON handler to
// stdout, with DEBUG toggling the level rather than maintaining separate
// dev/prod handler configs.
func New(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}

// ForReplica returns a child logger pre-populated with the replica's
// identity so every downstream log line carries it without repeating
// slog.Int64("replica_id", ...) at every call site.
func ForReplica(base *slog.Logger, replicaID int, incarnation uint64) *slog.Logger {
	return base.With(
		slog.Int("replica_id", replicaID),
		slog.Uint64("incarnation", incarnation),
	)
}

// ForView returns a child logger additionally scoped to a view number, used
// by internal/ord and internal/viewchange so every Pre_Prepare/Prepare/
// Commit/Report log line is traceable to its view.
func ForView(base *slog.Logger, view uint64) *slog.Logger {
	return base.With(slog.Uint64("view", view))
}
