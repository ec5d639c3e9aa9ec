package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/qemc/conversation-gluer/pkg/graph/checkpoint"
	"github.com/qemc/conversation-gluer/pkg/graph/observability"
	"go.opentelemetry.io/otel/trace"
)

// resumeConfig holds configuration for resuming a suspended session.
type resumeConfig[S any] struct {
	stateOverride func(S) S
	validateState func(S) error
	replayNode    bool
	runOpts       []RunOption
}

// ResumeOption configures Resume behavior.
type ResumeOption[S any] func(*resumeConfig[S])

// WithStateOverride mutates the checkpointed state before execution
// continues. This is the channel through which an operator verdict
// (approve/reject) enters a suspended run.
func WithStateOverride[S any](fn func(S) S) ResumeOption[S] {
	return func(c *resumeConfig[S]) {
		c.stateOverride = fn
	}
}

// WithStateValidation rejects a resume when the checkpointed state fails
// the given check.
func WithStateValidation[S any](fn func(S) error) ResumeOption[S] {
	return func(c *resumeConfig[S]) {
		c.validateState = fn
	}
}

// WithReplayNode re-executes the checkpointed node instead of starting
// at its successor.
func WithReplayNode[S any]() ResumeOption[S] {
	return func(c *resumeConfig[S]) {
		c.replayNode = true
	}
}

// WithRunOptions forwards run options (interrupt nodes, iteration limit,
// metrics) to the resumed execution. Pass the same options the original
// Run was given, or the resumed run will not suspend at the same
// checkpoints.
func WithRunOptions[S any](opts ...RunOption) ResumeOption[S] {
	return func(c *resumeConfig[S]) {
		c.runOpts = append(c.runOpts, opts...)
	}
}

// Resume continues a session from its latest checkpoint. The state is
// decoded, optionally overridden and validated, and execution restarts
// at the checkpoint's next node. If that node is an interrupt node it is
// entered rather than re-suspended, so an approval loop makes progress.
func (cg *Compiled[S]) Resume(ctx Context, store checkpoint.Store, sessionID string, opts ...ResumeOption[S]) (S, error) {
	var zero S

	if ctx == nil {
		return zero, ErrNilContext
	}

	cfg := resumeConfig[S]{}
	for _, opt := range opts {
		opt(&cfg)
	}

	infos, err := store.List(sessionID)
	if err != nil {
		return zero, fmt.Errorf("list checkpoints: %w", err)
	}
	if len(infos) == 0 {
		return zero, fmt.Errorf("%w: %s", ErrNoCheckpoints, sessionID)
	}

	latest := infos[len(infos)-1]
	data, err := store.Load(sessionID, latest.NodeID)
	if err != nil {
		return zero, fmt.Errorf("load checkpoint: %w", err)
	}

	return cg.resumeFromCheckpoint(ctx, store, sessionID, data, &cfg)
}

// ResumeFrom continues a session from the checkpoint recorded at a
// specific node rather than the latest one.
func (cg *Compiled[S]) ResumeFrom(ctx Context, store checkpoint.Store, sessionID, nodeID string, opts ...ResumeOption[S]) (S, error) {
	var zero S

	if ctx == nil {
		return zero, ErrNilContext
	}

	cfg := resumeConfig[S]{}
	for _, opt := range opts {
		opt(&cfg)
	}

	data, err := store.Load(sessionID, nodeID)
	if err != nil {
		if err == checkpoint.ErrNotFound {
			return zero, fmt.Errorf("%w: %s at node %s", ErrNoCheckpoints, sessionID, nodeID)
		}
		return zero, fmt.Errorf("load checkpoint: %w", err)
	}

	return cg.resumeFromCheckpoint(ctx, store, sessionID, data, &cfg)
}

func (cg *Compiled[S]) resumeFromCheckpoint(ctx Context, store checkpoint.Store, sessionID string, data []byte, cfg *resumeConfig[S]) (result S, runErr error) {
	var zero S

	cp, err := checkpoint.Unmarshal(data)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}
	if cp.Version != checkpoint.Version {
		return zero, fmt.Errorf("%w: got %d, expected %d", ErrCheckpointVersionMismatch, cp.Version, checkpoint.Version)
	}

	var state S
	if err := json.Unmarshal(cp.State, &state); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}

	if cfg.stateOverride != nil {
		state = cfg.stateOverride(state)
	}
	if cfg.validateState != nil {
		if err := cfg.validateState(state); err != nil {
			return state, fmt.Errorf("state validation failed: %w", err)
		}
	}

	startNode := cp.NextNode
	if cfg.replayNode {
		startNode = cp.NodeID
	}
	if startNode != END {
		if _, exists := cg.getNode(startNode); !exists {
			return state, fmt.Errorf("%w: %s", ErrNodeNotFound, startNode)
		}
	}

	runCfg := defaultRunConfig()
	for _, opt := range cfg.runOpts {
		opt(&runCfg)
	}
	runCfg.checkpointStore = store
	runCfg.sessionID = sessionID
	runCfg.sequence = cp.Sequence

	observability.LogResume(ctx.Logger(), sessionID, startNode)

	startTime := time.Now()

	var execCtx context.Context = ctx
	var runSpan trace.Span
	if runCfg.tracingEnabled {
		execCtx, runSpan = runCfg.spans.StartRunSpan(ctx, "gluer", ctx.RunID())
		defer func() {
			runCfg.spans.EndSpanWithError(runSpan, runErr)
		}()
	}

	if startNode == END {
		return state, nil
	}

	var nodeCount int
	result, nodeCount, runErr = cg.runFrom(execCtx, ctx, state, startNode, &runCfg, true)

	duration := time.Since(startTime)
	runCfg.metrics.RecordGraphRun(ctx, runErr == nil, duration)

	switch err := runErr.(type) {
	case nil:
		observability.LogRunComplete(ctx.Logger(), ctx.RunID(), duration, nodeCount)
	case *InterruptError:
		observability.LogRunInterrupted(ctx.Logger(), ctx.RunID(), err.NodeID)
	default:
		observability.LogRunError(ctx.Logger(), ctx.RunID(), runErr, duration)
	}

	return result, runErr
}
