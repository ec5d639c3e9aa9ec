package graph

import (
	"github.com/qemc/conversation-gluer/pkg/graph/checkpoint"
	"github.com/qemc/conversation-gluer/pkg/graph/observability"
)

// runConfig holds configuration for graph execution.
type runConfig struct {
	maxIterations int

	checkpointStore        checkpoint.Store
	sessionID              string
	sequence               int
	checkpointFailureFatal bool

	interruptBefore map[string]bool

	metrics        observability.MetricsRecorder
	spans          observability.SpanManager
	tracingEnabled bool
}

// defaultRunConfig returns the default execution configuration.
func defaultRunConfig() runConfig {
	return runConfig{
		maxIterations: 1000,
		metrics:       observability.NoopMetrics{},
		spans:         observability.NoopSpanManager{},
	}
}

// RunOption configures execution behavior.
type RunOption func(*runConfig)

// WithMaxIterations sets the maximum number of node executions.
// Default: 1000. This guards against graphs that can never reach END.
func WithMaxIterations(n int) RunOption {
	return func(c *runConfig) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

// WithSession enables checkpointing: after every node the serialized
// state is persisted to store under the given session ID, and execution
// can later be continued with Resume on the same (store, session) pair.
func WithSession(store checkpoint.Store, sessionID string) RunOption {
	return func(c *runConfig) {
		c.checkpointStore = store
		c.sessionID = sessionID
	}
}

// WithCheckpointFailureFatal makes checkpoint persistence failures abort
// the run instead of being logged and skipped.
func WithCheckpointFailureFatal() RunOption {
	return func(c *runConfig) {
		c.checkpointFailureFatal = true
	}
}

// WithInterruptBefore registers human-checkpoint nodes. When the run
// loop is about to enter one of them it persists the state and returns
// an *InterruptError instead of executing the node. The session is
// continued with Resume once the operator verdict is known.
func WithInterruptBefore(nodeIDs ...string) RunOption {
	return func(c *runConfig) {
		if c.interruptBefore == nil {
			c.interruptBefore = make(map[string]bool, len(nodeIDs))
		}
		for _, id := range nodeIDs {
			c.interruptBefore[id] = true
		}
	}
}

// WithMetrics sets the metrics recorder for this run.
func WithMetrics(m observability.MetricsRecorder) RunOption {
	return func(c *runConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracing enables OTel span creation for the run and each node.
func WithTracing(spans observability.SpanManager) RunOption {
	return func(c *runConfig) {
		if spans != nil {
			c.spans = spans
			c.tracingEnabled = true
		}
	}
}
