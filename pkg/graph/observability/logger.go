// Package observability provides structured logging, metrics and
// tracing for the workflow engine: slog helpers for run/node/checkpoint
// lifecycle events, OTel counters and histograms, and span management.
// Metrics and tracing are opt-in with no-op implementations.
package observability

import (
	"log/slog"
	"time"
)

// LogRunStart logs the start of a graph run.
func LogRunStart(logger *slog.Logger, runID string) {
	if logger == nil {
		return
	}
	logger.Info("workflow run starting",
		slog.String("run_id", runID),
	)
}

// LogRunComplete logs successful run completion.
func LogRunComplete(logger *slog.Logger, runID string, duration time.Duration, nodeCount int) {
	if logger == nil {
		return
	}
	logger.Info("workflow run completed",
		slog.String("run_id", runID),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
		slog.Int("nodes_executed", nodeCount),
	)
}

// LogRunError logs run failure.
func LogRunError(logger *slog.Logger, runID string, err error, duration time.Duration) {
	if logger == nil {
		return
	}
	logger.Error("workflow run failed",
		slog.String("run_id", runID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
}

// LogRunInterrupted logs suspension at a human checkpoint.
func LogRunInterrupted(logger *slog.Logger, runID, nodeID string) {
	if logger == nil {
		return
	}
	logger.Info("workflow run suspended",
		slog.String("run_id", runID),
		slog.String("node_id", nodeID),
	)
}

// LogInterrupt logs arrival at an interrupt node.
func LogInterrupt(logger *slog.Logger, nodeID string) {
	if logger == nil {
		return
	}
	logger.Info("awaiting operator verdict",
		slog.String("node_id", nodeID),
	)
}

// LogResume logs continuation of a suspended session.
func LogResume(logger *slog.Logger, sessionID, nodeID string) {
	if logger == nil {
		return
	}
	logger.Info("session resuming",
		slog.String("session_id", sessionID),
		slog.String("node_id", nodeID),
	)
}

// LogNodeStart logs node execution start.
func LogNodeStart(logger *slog.Logger, nodeID string) {
	if logger == nil {
		return
	}
	logger.Debug("node starting",
		slog.String("node_id", nodeID),
	)
}

// LogNodeComplete logs successful node completion.
func LogNodeComplete(logger *slog.Logger, nodeID string, duration time.Duration) {
	if logger == nil {
		return
	}
	logger.Debug("node completed",
		slog.String("node_id", nodeID),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
}

// LogNodeError logs node execution error.
func LogNodeError(logger *slog.Logger, nodeID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("node failed",
		slog.String("node_id", nodeID),
		slog.String("error", err.Error()),
	)
}

// LogCheckpoint logs a successful checkpoint save.
func LogCheckpoint(logger *slog.Logger, nodeID string, sizeBytes int) {
	if logger == nil {
		return
	}
	logger.Debug("checkpoint saved",
		slog.String("node_id", nodeID),
		slog.Int("size_bytes", sizeBytes),
	)
}

// LogCheckpointError logs a non-fatal checkpoint failure.
func LogCheckpointError(logger *slog.Logger, nodeID, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("checkpoint failed",
		slog.String("node_id", nodeID),
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
}
