package graph

import (
	"context"
)

// Test state types shared across tests.

// Counter is a minimal state for stepping tests.
type Counter struct {
	Value int
}

// flowState exercises routing and accumulation.
type flowState struct {
	Steps    []string
	GoLeft   bool
	Approved bool
	Done     bool
}

// increment bumps the counter.
func increment(_ Context, s Counter) (Counter, error) {
	s.Value++
	return s, nil
}

// visit records the node's execution in order.
func visit(name string) NodeFunc[flowState] {
	return func(_ Context, s flowState) (flowState, error) {
		s.Steps = append(s.Steps, name)
		return s, nil
	}
}

// testCtx builds a default execution context.
func testCtx() Context {
	return NewContext(context.Background())
}
