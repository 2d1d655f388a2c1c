package workflow

// Dependency points at the producer feeding one of a node's inputs.
// TargetHandle is the consuming node's own input handle.
type Dependency struct {
	Node         string `json:"node" yaml:"node"`
	SourceHandle string `json:"sourceHandle" yaml:"source_handle"`
	TargetHandle string `json:"targetHandle" yaml:"target_handle"`
}

// Dependent points at a consumer of one of a node's outputs.
// SourceHandle is the producing node's own output handle.
type Dependent struct {
	Node         string `json:"node" yaml:"node"`
	TargetHandle string `json:"targetHandle" yaml:"target_handle"`
	SourceHandle string `json:"sourceHandle" yaml:"source_handle"`
}

// DependencyGraph is the adjacency view of an edge list.
type DependencyGraph struct {
	Dependencies map[string][]Dependency
	Dependents   map[string][]Dependent
	// ConnectionMap groups edges by ConnectionKey(target, targetHandle).
	ConnectionMap map[string][]Edge
	// connectionKeys holds ConnectionMap keys in first-seen order.
	connectionKeys []string
}

// ConnectionKey is the ConnectionMap key for an input handle.
func ConnectionKey(target, targetHandle string) string {
	return target + "," + targetHandle
}

// BuildDependencyGraph indexes edges in input order.
func BuildDependencyGraph(edges []Edge) *DependencyGraph {
	g := &DependencyGraph{
		Dependencies:  make(map[string][]Dependency),
		Dependents:    make(map[string][]Dependent),
		ConnectionMap: make(map[string][]Edge),
	}
	for _, e := range edges {
		g.Dependencies[e.Target] = append(g.Dependencies[e.Target], Dependency{Node: e.Source, SourceHandle: e.SourceHandle, TargetHandle: e.TargetHandle})
		g.Dependents[e.Source] = append(g.Dependents[e.Source], Dependent{Node: e.Target, TargetHandle: e.TargetHandle, SourceHandle: e.SourceHandle})

		key := ConnectionKey(e.Target, e.TargetHandle)
		if _, seen := g.ConnectionMap[key]; !seen {
			g.connectionKeys = append(g.connectionKeys, key)
		}
		g.ConnectionMap[key] = append(g.ConnectionMap[key], e)
	}
	return g
}

// ConnectionKeys returns ConnectionMap keys in the order they were first seen.
func (g *DependencyGraph) ConnectionKeys() []string {
	return append([]string(nil), g.connectionKeys...)
}

// Connections returns the edges feeding target's handle.
func (g *DependencyGraph) Connections(target, targetHandle string) []Edge {
	return g.ConnectionMap[ConnectionKey(target, targetHandle)]
}
