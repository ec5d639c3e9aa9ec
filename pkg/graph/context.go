package graph

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Context provides execution context to nodes. It extends
// context.Context with a structured logger and run metadata. Service
// clients (model, vector store, verification endpoint) are not carried
// here: they are injected into node constructors explicitly.
//
// Context is immutable after creation. The executor derives per-node
// contexts with an updated NodeID and enriched logger.
type Context interface {
	context.Context

	// Logger returns the configured logger, enriched with run and node
	// context. Never nil; defaults to slog.Default().
	Logger() *slog.Logger

	// RunID returns the unique identifier for this execution run.
	// Auto-generated if not configured.
	RunID() string

	// NodeID returns the node currently executing, or "" before
	// execution starts.
	NodeID() string
}

type executionContext struct {
	context.Context

	logger *slog.Logger
	runID  string
	nodeID string
}

func (c *executionContext) Logger() *slog.Logger { return c.logger }
func (c *executionContext) RunID() string        { return c.runID }
func (c *executionContext) NodeID() string       { return c.nodeID }

// withNodeID derives a context for a specific node with an enriched logger.
func (c *executionContext) withNodeID(nodeID string) *executionContext {
	derived := *c
	derived.nodeID = nodeID
	derived.logger = c.logger.With(slog.String("node_id", nodeID))
	return &derived
}

// ContextOption configures a Context.
type ContextOption func(*executionContext)

// WithLogger sets the logger for the context.
func WithLogger(logger *slog.Logger) ContextOption {
	return func(c *executionContext) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithContextRunID sets the run identifier. If not set, a UUID is
// generated. This is the logging/tracing identity; for checkpointing use
// WithSession with Run.
func WithContextRunID(id string) ContextOption {
	return func(c *executionContext) {
		if id != "" {
			c.runID = id
		}
	}
}

// NewContext creates an execution Context wrapping parent.
func NewContext(parent context.Context, opts ...ContextOption) Context {
	if parent == nil {
		parent = context.Background()
	}
	c := &executionContext{
		Context: parent,
		logger:  slog.Default(),
		runID:   uuid.NewString(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("run_id", c.runID))
	return c
}
