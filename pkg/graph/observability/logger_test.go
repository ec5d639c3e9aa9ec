package observability

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func captureLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger, &buf
}

// TestLogHelpers_NilSafe verifies every helper tolerates a nil logger.
func TestLogHelpers_NilSafe(t *testing.T) {
	err := errors.New("x")
	LogRunStart(nil, "r")
	LogRunComplete(nil, "r", time.Second, 3)
	LogRunError(nil, "r", err, time.Second)
	LogRunInterrupted(nil, "r", "n")
	LogInterrupt(nil, "n")
	LogResume(nil, "s", "n")
	LogNodeStart(nil, "n")
	LogNodeComplete(nil, "n", time.Second)
	LogNodeError(nil, "n", err)
	LogCheckpoint(nil, "n", 1)
	LogCheckpointError(nil, "n", "save", err)
}

// TestLogRunLifecycle spot-checks the emitted fields.
func TestLogRunLifecycle(t *testing.T) {
	logger, buf := captureLogger()

	LogRunStart(logger, "run-1")
	assert.Contains(t, buf.String(), "run_id=run-1")
	assert.Contains(t, buf.String(), "workflow run starting")

	buf.Reset()
	LogRunComplete(logger, "run-1", 1500*time.Millisecond, 7)
	assert.Contains(t, buf.String(), "nodes_executed=7")

	buf.Reset()
	LogRunError(logger, "run-1", errors.New("broke"), time.Second)
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "broke")

	buf.Reset()
	LogRunInterrupted(logger, "run-1", "human")
	assert.Contains(t, buf.String(), "suspended")
	assert.Contains(t, buf.String(), "node_id=human")
}

// TestLogNodeAndCheckpoint spot-checks the debug-level helpers.
func TestLogNodeAndCheckpoint(t *testing.T) {
	logger, buf := captureLogger()

	LogNodeStart(logger, "gather")
	assert.Contains(t, buf.String(), "node_id=gather")

	buf.Reset()
	LogNodeError(logger, "gather", errors.New("timeout"))
	assert.Contains(t, buf.String(), "node failed")

	buf.Reset()
	LogCheckpoint(logger, "review", 512)
	assert.Contains(t, buf.String(), "size_bytes=512")

	buf.Reset()
	LogCheckpointError(logger, "review", "save", errors.New("disk full"))
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "op=save")
}
