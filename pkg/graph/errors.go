package graph

import (
	"errors"
	"fmt"
)

// Sentinel errors for graph building and compilation.
var (
	// ErrNoEntryPoint indicates SetEntry was not called before Compile.
	ErrNoEntryPoint = errors.New("entry point not set")

	// ErrEntryNotFound indicates the entry point references a non-existent node.
	ErrEntryNotFound = errors.New("entry point node not found")

	// ErrNodeNotFound indicates an edge references a non-existent node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNoPathToEnd indicates no path exists from the entry point to END.
	ErrNoPathToEnd = errors.New("no path to END from entry")
)

// Sentinel errors for execution.
var (
	// ErrNilContext indicates Run was called with a nil context.
	ErrNilContext = errors.New("context cannot be nil")

	// ErrInvalidRouterResult indicates a router function returned an empty string.
	ErrInvalidRouterResult = errors.New("router returned empty string")

	// ErrRouterTargetNotFound indicates a router function returned an unknown node ID.
	ErrRouterTargetNotFound = errors.New("router returned unknown node")

	// ErrSessionRequired indicates checkpointing was enabled without a session ID.
	ErrSessionRequired = errors.New("session ID required for checkpointing")

	// ErrNoCheckpoints indicates no checkpoints exist for the session.
	ErrNoCheckpoints = errors.New("no checkpoints found for session")

	// ErrDeserializeState indicates checkpointed state could not be decoded.
	ErrDeserializeState = errors.New("failed to deserialize state")

	// ErrCheckpointVersionMismatch indicates the checkpoint format is incompatible.
	ErrCheckpointVersionMismatch = errors.New("checkpoint version mismatch")
)

// NodeError wraps an error with node context.
type NodeError struct {
	// NodeID is the identifier of the node that failed.
	NodeID string
	// Op is the operation that failed (e.g. "execute", "lookup").
	Op string
	// Err is the underlying error from the node.
	Err error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %s: %v", e.NodeID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *NodeError) Unwrap() error {
	return e.Err
}

// RouterError reports an invalid routing decision.
type RouterError struct {
	// FromNode is the node whose conditional edge misrouted.
	FromNode string
	// Returned is the router's return value.
	Returned string
	// Err is the underlying sentinel.
	Err error
}

func (e *RouterError) Error() string {
	return fmt.Sprintf("router from %s returned %q: %v", e.FromNode, e.Returned, e.Err)
}

func (e *RouterError) Unwrap() error {
	return e.Err
}

// PanicError captures a panic raised inside a node, with the stack at
// the point of panic.
type PanicError struct {
	NodeID string
	Value  any
	Stack  string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.NodeID, e.Value)
}

// InterruptError is returned by Run/Resume when execution reaches a node
// registered with WithInterruptBefore. The state returned alongside it is
// the state persisted at the suspension point; continue the session with
// Resume after the operator verdict has been collected.
type InterruptError struct {
	// NodeID is the interrupt node execution stopped in front of.
	NodeID string
	// SessionID identifies the suspended session.
	SessionID string
}

func (e *InterruptError) Error() string {
	return fmt.Sprintf("execution interrupted before node %s (session %s)", e.NodeID, e.SessionID)
}

// CheckpointError wraps errors from checkpoint operations.
type CheckpointError struct {
	NodeID string
	// Op is the operation that failed ("serialize", "marshal", "save").
	Op  string
	Err error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s at node %s: %v", e.Op, e.NodeID, e.Err)
}

func (e *CheckpointError) Unwrap() error {
	return e.Err
}

// MaxIterationsError indicates the run loop exceeded its iteration limit.
// The limit exists to catch graphs that can never reach END; the
// application's own retry loops are deliberately unbounded, so drivers
// raise the limit rather than rely on it as a retry cap.
type MaxIterationsError struct {
	Max        int
	LastNodeID string
}

func (e *MaxIterationsError) Error() string {
	return fmt.Sprintf("exceeded %d iterations (last node %s)", e.Max, e.LastNodeID)
}

// CancellationError captures the node in front of which the run observed
// context cancellation.
type CancellationError struct {
	NodeID string
	Cause  error
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("execution cancelled at node %s: %v", e.NodeID, e.Cause)
}

func (e *CancellationError) Unwrap() error {
	return e.Cause
}
