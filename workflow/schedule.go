package workflow

// TopologicalSort orders nodes with Kahn's algorithm.
//
// The queue is FIFO and seeded in declaration order, so the result is stable
// for a given input. Producers that are not in nodes do not count toward
// in-degree. When the graph has a cycle the result is the acyclic prefix and
// is shorter than the number of distinct node ids.
func TopologicalSort(nodes []Node, g *DependencyGraph) []string {
	order, _ := kahn(nodes, g)
	return order
}

// kahn returns the visit order and the residual in-degree of every node.
// Nodes left with a positive in-degree are on or downstream of a cycle.
func kahn(nodes []Node, g *DependencyGraph) ([]string, map[string]int) {
	inDegree := make(map[string]int, len(nodes))
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if _, dup := inDegree[n.ID]; dup {
			continue
		}
		inDegree[n.ID] = 0
		ids = append(ids, n.ID)
	}
	for _, id := range ids {
		for _, dep := range g.Dependencies[id] {
			if _, known := inDegree[dep.Node]; known {
				inDegree[id]++
			}
		}
	}

	queue := make([]string, 0, len(ids))
	for _, id := range ids {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]string, 0, len(ids))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		for _, d := range g.Dependents[id] {
			if _, known := inDegree[d.Node]; !known {
				continue
			}
			inDegree[d.Node]--
			if inDegree[d.Node] == 0 {
				queue = append(queue, d.Node)
			}
		}
	}
	return order, inDegree
}

// uniqueNodeCount counts distinct node ids.
func uniqueNodeCount(nodes []Node) int {
	seen := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		seen[n.ID] = struct{}{}
	}
	return len(seen)
}
