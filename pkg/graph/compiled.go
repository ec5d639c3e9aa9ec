package graph

// Compiled is an immutable, executable graph created by Compile.
// It is safe for concurrent Run calls; the structure cannot change
// after compilation.
type Compiled[S any] struct {
	nodes            map[string]NodeFunc[S]
	edges            map[string]string
	conditionalEdges map[string]RouterFunc[S]
	entryPoint       string
}

// EntryPoint returns the entry node ID.
func (cg *Compiled[S]) EntryPoint() string {
	return cg.entryPoint
}

// NodeIDs returns all node identifiers in the graph, in no particular order.
func (cg *Compiled[S]) NodeIDs() []string {
	ids := make([]string, 0, len(cg.nodes))
	for id := range cg.nodes {
		ids = append(ids, id)
	}
	return ids
}

// HasNode reports whether a node exists in the graph.
func (cg *Compiled[S]) HasNode(id string) bool {
	_, exists := cg.nodes[id]
	return exists
}

// Successor returns the unconditional successor of a node, or "" if the
// node routes conditionally or does not exist.
func (cg *Compiled[S]) Successor(id string) string {
	return cg.edges[id]
}

// IsConditional reports whether the node routes through a RouterFunc.
func (cg *Compiled[S]) IsConditional(id string) bool {
	_, exists := cg.conditionalEdges[id]
	return exists
}

func (cg *Compiled[S]) getNode(id string) (NodeFunc[S], bool) {
	fn, exists := cg.nodes[id]
	return fn, exists
}

func (cg *Compiled[S]) getRouter(id string) (RouterFunc[S], bool) {
	router, exists := cg.conditionalEdges[id]
	return router, exists
}
