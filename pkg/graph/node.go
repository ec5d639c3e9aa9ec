package graph

// END is the terminal node identifier.
// Use this as an edge target to indicate the graph should terminate.
const END = "__end__"

// NodeFunc is the signature for all node functions.
// Nodes receive the execution context and current state, and return the
// updated state (or the same state) and any error.
//
// The state parameter is passed by value. Nodes should modify and return
// a new state value, not rely on pointer mutation.
type NodeFunc[S any] func(ctx Context, state S) (S, error)

// RouterFunc decides the next node based on state. It is attached to a
// node as a conditional edge and must return a valid node ID or END.
// Routers must be pure: all state mutation belongs in nodes, so that a
// checkpointed state replays to the same route.
type RouterFunc[S any] func(ctx Context, state S) string
