// Package checkpoint provides the persisted-state store behind the
// workflow engine: one serialized snapshot per executed node, keyed by
// session, so a suspended run survives process exit and resumes at the
// exact node it stopped in front of.
package checkpoint

import (
	"errors"
	"time"
)

// Store persists checkpoints for suspend/resume and crash recovery.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save stores a checkpoint for a session at a specific node.
	// Overwrites if a checkpoint for (sessionID, nodeID) already exists.
	Save(sessionID, nodeID string, data []byte) error

	// Load retrieves a checkpoint.
	// Returns ErrNotFound if the checkpoint doesn't exist.
	Load(sessionID, nodeID string) ([]byte, error)

	// List returns all checkpoints for a session, ordered by sequence.
	// Returns an empty slice (not an error) if the session has none.
	List(sessionID string) ([]Info, error)

	// Delete removes a specific checkpoint.
	// Returns nil if the checkpoint doesn't exist.
	Delete(sessionID, nodeID string) error

	// DeleteSession removes all checkpoints for a session.
	// Returns nil if the session has no checkpoints.
	DeleteSession(sessionID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Info provides checkpoint metadata without loading full state.
type Info struct {
	SessionID string
	NodeID    string
	Sequence  int
	Timestamp time.Time
	Size      int64
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates a checkpoint doesn't exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")
)
