package graph

import (
	"fmt"
	"strings"
)

// Graph is a mutable builder for execution graphs. Chain AddNode,
// AddEdge, AddConditionalEdge and SetEntry calls, then Compile into an
// immutable Compiled graph.
//
// Graph is not safe for concurrent building; construct it from a single
// goroutine.
type Graph[S any] struct {
	nodes            map[string]NodeFunc[S]
	edges            map[string]string
	conditionalEdges map[string]RouterFunc[S]
	entryPoint       string
}

// NewGraph creates a new graph builder for state type S.
func NewGraph[S any]() *Graph[S] {
	return &Graph[S]{
		nodes:            make(map[string]NodeFunc[S]),
		edges:            make(map[string]string),
		conditionalEdges: make(map[string]RouterFunc[S]),
	}
}

// AddNode adds a named node. Panics on an empty, reserved, whitespace or
// duplicate ID, or a nil function: these are programming errors in graph
// construction, not runtime conditions.
func (g *Graph[S]) AddNode(id string, fn NodeFunc[S]) *Graph[S] {
	if id == "" {
		panic("graph: node ID cannot be empty")
	}
	if strings.EqualFold(id, "end") || strings.EqualFold(id, END) {
		panic("graph: node ID cannot be reserved word 'END'")
	}
	if strings.ContainsAny(id, " \t\n\r") {
		panic("graph: node ID cannot contain whitespace")
	}
	if fn == nil {
		panic("graph: node function cannot be nil")
	}
	if _, exists := g.nodes[id]; exists {
		panic(fmt.Sprintf("graph: duplicate node ID: %s", id))
	}
	g.nodes[id] = fn
	return g
}

// AddEdge adds the unconditional successor of a node. The target can be
// a node ID or END. Each node has at most one successor; the workflows in
// this system are strict successor chains with conditional branch points.
// Edge validation happens at Compile time.
func (g *Graph[S]) AddEdge(from, to string) *Graph[S] {
	if _, exists := g.edges[from]; exists {
		panic(fmt.Sprintf("graph: node %s already has a successor", from))
	}
	g.edges[from] = to
	return g
}

// AddConditionalEdge attaches a router that decides the successor of a
// node at runtime. A conditional edge takes precedence over a simple
// edge from the same node.
func (g *Graph[S]) AddConditionalEdge(from string, router RouterFunc[S]) *Graph[S] {
	if router == nil {
		panic("graph: router function cannot be nil")
	}
	g.conditionalEdges[from] = router
	return g
}

// SetEntry designates the entry point node. Must be called before
// Compile; validated there.
func (g *Graph[S]) SetEntry(id string) *Graph[S] {
	g.entryPoint = id
	return g
}
