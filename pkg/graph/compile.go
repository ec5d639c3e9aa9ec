package graph

import (
	"errors"
	"fmt"
)

// Compile validates the graph and creates an executable Compiled graph.
// Multiple validation errors are joined.
//
// Validation checks, in order:
//  1. Entry point must be set
//  2. Entry point must reference an existing node
//  3. All edge sources and targets must reference existing nodes or END
//  4. A path from the entry point to END must exist
func (g *Graph[S]) Compile() (*Compiled[S], error) {
	var errs []error

	if g.entryPoint == "" {
		errs = append(errs, ErrNoEntryPoint)
	} else if _, exists := g.nodes[g.entryPoint]; !exists {
		errs = append(errs, fmt.Errorf("%w: %s", ErrEntryNotFound, g.entryPoint))
	}

	for from, to := range g.edges {
		if _, exists := g.nodes[from]; !exists {
			errs = append(errs, fmt.Errorf("%w: edge source %q does not exist", ErrNodeNotFound, from))
		}
		if to != END {
			if _, exists := g.nodes[to]; !exists {
				errs = append(errs, fmt.Errorf("%w: edge target %q does not exist", ErrNodeNotFound, to))
			}
		}
	}

	for from := range g.conditionalEdges {
		if _, exists := g.nodes[from]; !exists {
			errs = append(errs, fmt.Errorf("%w: conditional edge source %q does not exist", ErrNodeNotFound, from))
		}
	}

	if g.entryPoint != "" {
		if _, exists := g.nodes[g.entryPoint]; exists && !g.hasPathToEnd() {
			errs = append(errs, ErrNoPathToEnd)
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return g.buildCompiled(), nil
}

// hasPathToEnd checks reachability of END from the entry point.
// Conditional edges are assumed able to reach END, since a router may
// return it at runtime.
func (g *Graph[S]) hasPathToEnd() bool {
	canReachEnd := map[string]bool{END: true}

	changed := true
	for changed {
		changed = false
		for from, to := range g.edges {
			if !canReachEnd[from] && canReachEnd[to] {
				canReachEnd[from] = true
				changed = true
			}
		}
		for from := range g.conditionalEdges {
			if !canReachEnd[from] {
				canReachEnd[from] = true
				changed = true
			}
		}
	}

	return canReachEnd[g.entryPoint]
}

func (g *Graph[S]) buildCompiled() *Compiled[S] {
	cg := &Compiled[S]{
		nodes:            make(map[string]NodeFunc[S], len(g.nodes)),
		edges:            make(map[string]string, len(g.edges)),
		conditionalEdges: make(map[string]RouterFunc[S], len(g.conditionalEdges)),
		entryPoint:       g.entryPoint,
	}
	for id, fn := range g.nodes {
		cg.nodes[id] = fn
	}
	for from, to := range g.edges {
		cg.edges[from] = to
	}
	for from, router := range g.conditionalEdges {
		cg.conditionalEdges[from] = router
	}
	return cg
}
