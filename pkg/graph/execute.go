package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/qemc/conversation-gluer/pkg/graph/checkpoint"
	"github.com/qemc/conversation-gluer/pkg/graph/observability"
	"go.opentelemetry.io/otel/trace"
)

// Run executes the graph with the given initial state.
//
// On success, returns the state after the last node executed before END.
// On error, returns the state at the point of failure. When the run
// reaches a node registered with WithInterruptBefore, the returned error
// is an *InterruptError and the returned state is the suspension
// snapshot; continue with Resume.
func (cg *Compiled[S]) Run(ctx Context, state S, opts ...RunOption) (result S, runErr error) {
	if ctx == nil {
		return state, ErrNilContext
	}

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.checkpointStore != nil && cfg.sessionID == "" {
		return state, ErrSessionRequired
	}

	startTime := time.Now()
	observability.LogRunStart(ctx.Logger(), ctx.RunID())

	var execCtx context.Context = ctx
	var runSpan trace.Span
	if cfg.tracingEnabled {
		execCtx, runSpan = cfg.spans.StartRunSpan(ctx, "gluer", ctx.RunID())
		defer func() {
			cfg.spans.EndSpanWithError(runSpan, runErr)
		}()
	}

	var nodeCount int
	result, nodeCount, runErr = cg.runFrom(execCtx, ctx, state, cg.entryPoint, &cfg, false)

	duration := time.Since(startTime)
	cfg.metrics.RecordGraphRun(ctx, runErr == nil, duration)

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

// runFrom steps through the graph starting at startNode. resumed marks
// a continuation of a suspended session: the first node is then executed
// even if it is registered as an interrupt node, so that a delivered
// verdict does not immediately re-suspend.
func (cg *Compiled[S]) runFrom(tracingCtx context.Context, gctx Context, state S, startNode string, cfg *runConfig, resumed bool) (S, int, error) {
	current := startNode
	prevNode := ""
	iterations := 0
	nodeCount := 0
	skipInterrupt := resumed

	for current != END {
		iterations++
		if iterations > cfg.maxIterations {
			return state, nodeCount, &MaxIterationsError{Max: cfg.maxIterations, LastNodeID: current}
		}

		select {
		case <-gctx.Done():
			return state, nodeCount, &CancellationError{NodeID: current, Cause: gctx.Err()}
		default:
		}

		if cfg.interruptBefore[current] && !skipInterrupt {
			if cfg.checkpointStore != nil {
				at := prevNode
				if at == "" {
					at = current
				}
				if err := cg.saveCheckpoint(gctx, cfg, at, prevNode, state, current); err != nil {
					return state, nodeCount, err
				}
			}
			observability.LogInterrupt(gctx.Logger(), current)
			return state, nodeCount, &InterruptError{NodeID: current, SessionID: cfg.sessionID}
		}
		skipInterrupt = false

		observability.LogNodeStart(gctx.Logger(), current)

		nodeTracingCtx := tracingCtx
		var nodeSpan trace.Span
		if cfg.tracingEnabled {
			nodeTracingCtx, nodeSpan = cfg.spans.StartNodeSpan(tracingCtx, current)
		}

		nodeStart := time.Now()
		var nodeErr error
		state, nodeErr = cg.executeNode(gctx, current, state)
		nodeDuration := time.Since(nodeStart)

		cfg.metrics.RecordNodeExecution(nodeTracingCtx, current, nodeDuration, nodeErr)
		if cfg.tracingEnabled {
			cfg.spans.EndSpanWithError(nodeSpan, nodeErr)
		}

		if nodeErr != nil {
			observability.LogNodeError(gctx.Logger(), current, nodeErr)
			return state, nodeCount, nodeErr
		}
		observability.LogNodeComplete(gctx.Logger(), current, nodeDuration)
		nodeCount++

		next, err := cg.nextNode(gctx, state, current)
		if err != nil {
			return state, nodeCount, err
		}

		if cfg.checkpointStore != nil {
			if err := cg.saveCheckpoint(gctx, cfg, current, prevNode, state, next); err != nil {
				return state, nodeCount, err
			}
		}

		prevNode = current
		current = next
	}

	return state, nodeCount, nil
}

// saveCheckpoint persists the state after a node. Failures are logged
// and skipped unless WithCheckpointFailureFatal was set.
func (cg *Compiled[S]) saveCheckpoint(ctx Context, cfg *runConfig, nodeID, prevNodeID string, state S, nextNode string) error {
	stateBytes, err := json.Marshal(state)
	if err != nil {
		return cg.checkpointFailure(ctx, cfg, nodeID, "serialize", err)
	}

	cfg.sequence++
	cp := checkpoint.New(cfg.sessionID, nodeID, cfg.sequence, stateBytes, nextNode).
		WithPrevNode(prevNodeID)

	data, err := cp.Marshal()
	if err != nil {
		return cg.checkpointFailure(ctx, cfg, nodeID, "marshal", err)
	}

	if err := cfg.checkpointStore.Save(cfg.sessionID, nodeID, data); err != nil {
		return cg.checkpointFailure(ctx, cfg, nodeID, "save", err)
	}

	observability.LogCheckpoint(ctx.Logger(), nodeID, len(data))
	cfg.metrics.RecordCheckpoint(ctx, nodeID, int64(len(data)))
	return nil
}

func (cg *Compiled[S]) checkpointFailure(ctx Context, cfg *runConfig, nodeID, op string, err error) error {
	if cfg.checkpointFailureFatal {
		return &CheckpointError{NodeID: nodeID, Op: op, Err: err}
	}
	observability.LogCheckpointError(ctx.Logger(), nodeID, op, err)
	return nil
}

// executeNode runs a single node with panic recovery.
func (cg *Compiled[S]) executeNode(ctx Context, nodeID string, state S) (result S, err error) {
	fn, exists := cg.getNode(nodeID)
	if !exists {
		return state, &NodeError{NodeID: nodeID, Op: "lookup", Err: fmt.Errorf("node not found: %s", nodeID)}
	}

	nodeCtx := ctx
	if ec, ok := ctx.(*executionContext); ok {
		nodeCtx = ec.withNodeID(nodeID)
	}

	defer func() {
		if r := recover(); r != nil {
			result = state
			err = &PanicError{NodeID: nodeID, Value: r, Stack: string(debug.Stack())}
		}
	}()

	result, err = fn(nodeCtx, state)
	if err != nil {
		return result, &NodeError{NodeID: nodeID, Op: "execute", Err: err}
	}
	return result, nil
}

// nextNode determines the successor of current. A conditional edge takes
// precedence over a simple edge.
func (cg *Compiled[S]) nextNode(ctx Context, state S, current string) (string, error) {
	if router, exists := cg.getRouter(current); exists {
		routerCtx := ctx
		if ec, ok := ctx.(*executionContext); ok {
			routerCtx = ec.withNodeID(current)
		}

		next := router(routerCtx, state)
		if next == "" {
			return "", &RouterError{FromNode: current, Returned: next, Err: ErrInvalidRouterResult}
		}
		if next != END {
			if _, exists := cg.getNode(next); !exists {
				return "", &RouterError{FromNode: current, Returned: next, Err: ErrRouterTargetNotFound}
			}
		}
		return next, nil
	}

	next := cg.Successor(current)
	if next == "" {
		return "", &NodeError{NodeID: current, Op: "routing", Err: fmt.Errorf("no outgoing edge from node %s", current)}
	}
	return next, nil
}
