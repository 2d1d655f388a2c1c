package workflow

import (
	"fmt"
	"strings"
)

// WorkflowErrorType classifies a structural graph error.
type WorkflowErrorType string

const (
	ErrorMultipleSources   WorkflowErrorType = "multiple-sources-for-target-handle"
	ErrorCycle             WorkflowErrorType = "cycle"
	ErrorMissingConnection WorkflowErrorType = "missing-required-connection"
	ErrorInvalidConnection WorkflowErrorType = "invalid-connection"
	ErrorDuplicateNode     WorkflowErrorType = "duplicate-node"
)

// HandleDirection says which side of a node a handle sits on.
type HandleDirection string

const (
	DirectionInput  HandleDirection = "input"
	DirectionOutput HandleDirection = "output"
)

// WorkflowError is one structural problem found while compiling a graph.
type WorkflowError struct {
	Type      WorkflowErrorType `json:"type" yaml:"type"`
	Message   string            `json:"message" yaml:"message"`
	Edges     []Edge            `json:"edges,omitempty" yaml:"edges,omitempty"`
	NodeID    string            `json:"nodeId,omitempty" yaml:"node_id,omitempty"`
	Handle    string            `json:"handle,omitempty" yaml:"handle,omitempty"`
	Direction HandleDirection   `json:"direction,omitempty" yaml:"direction,omitempty"`
}

// Error implements the error interface.
func (e WorkflowError) Error() string {
	return e.Message
}

// ValidateMultipleSources reports every input handle fed by more than one edge.
func ValidateMultipleSources(g *DependencyGraph) []WorkflowError {
	var errs []WorkflowError
	for _, key := range g.connectionKeys {
		edges := g.ConnectionMap[key]
		if len(edges) <= 1 {
			continue
		}
		target, handle := edges[0].Target, edges[0].TargetHandle
		errs = append(errs, WorkflowError{
			Type:      ErrorMultipleSources,
			Message:   fmt.Sprintf("Target handle %q on node %q has %d sources.", handle, target, len(edges)),
			Edges:     append([]Edge(nil), edges...),
			NodeID:    target,
			Handle:    handle,
			Direction: DirectionInput,
		})
	}
	return errs
}

// ValidateCycles returns at most one cycle error listing every edge whose
// endpoints both keep a positive in-degree after Kahn's algorithm.
func ValidateCycles(nodes []Node, edges []Edge, g *DependencyGraph) []WorkflowError {
	order, inDegree := kahn(nodes, g)
	if len(order) == uniqueNodeCount(nodes) {
		return nil
	}

	var cycleEdges []Edge
	for _, e := range edges {
		if inDegree[e.Source] > 0 && inDegree[e.Target] > 0 {
			cycleEdges = append(cycleEdges, e)
		}
	}
	if len(cycleEdges) == 0 {
		return nil
	}

	involved := make([]string, 0)
	seen := make(map[string]struct{})
	for _, n := range nodes {
		if _, dup := seen[n.ID]; dup || inDegree[n.ID] <= 0 {
			continue
		}
		seen[n.ID] = struct{}{}
		involved = append(involved, n.ID)
	}

	return []WorkflowError{{
		Type:    ErrorCycle,
		Message: "Workflow contains cycles between nodes: " + strings.Join(involved, ", "),
		Edges:   cycleEdges,
	}}
}

// ValidateRequiredConnections reports each required handle with no edge.
// Nodes whose type has no contract are skipped; ValidateConnections reports them.
func ValidateRequiredConnections(nodes []Node, edges []Edge, g *DependencyGraph, contracts *ContractRegistry) []WorkflowError {
	sourced := make(map[string]struct{}, len(edges))
	for _, e := range edges {
		sourced[ConnectionKey(e.Source, e.SourceHandle)] = struct{}{}
	}

	var errs []WorkflowError
	for _, n := range nodes {
		c, ok := contracts.Lookup(n.Type)
		if !ok {
			continue
		}
		for _, h := range c.Targets.Required {
			if len(g.Connections(n.ID, h)) > 0 {
				continue
			}
			errs = append(errs, WorkflowError{
				Type:      ErrorMissingConnection,
				Message:   fmt.Sprintf("Node %q requires a connection to its %q input.", n.ID, h),
				NodeID:    n.ID,
				Handle:    h,
				Direction: DirectionInput,
			})
		}
		for _, h := range c.Sources.Required {
			if _, ok := sourced[ConnectionKey(n.ID, h)]; ok {
				continue
			}
			errs = append(errs, WorkflowError{
				Type:      ErrorMissingConnection,
				Message:   fmt.Sprintf("Node %q requires a connection from its %q output.", n.ID, h),
				NodeID:    n.ID,
				Handle:    h,
				Direction: DirectionOutput,
			})
		}
	}
	return errs
}

// ValidateConnections checks that node ids are unique, node types are known,
// and every edge joins declared handles on existing nodes.
func ValidateConnections(nodes []Node, edges []Edge, contracts *ContractRegistry) []WorkflowError {
	var errs []WorkflowError
	byID := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		if _, dup := byID[n.ID]; dup {
			errs = append(errs, WorkflowError{
				Type:    ErrorDuplicateNode,
				Message: fmt.Sprintf("Node id %q is declared more than once.", n.ID),
				NodeID:  n.ID,
			})
			continue
		}
		byID[n.ID] = n
		if _, ok := contracts.Lookup(n.Type); !ok {
			errs = append(errs, WorkflowError{
				Type:    ErrorInvalidConnection,
				Message: fmt.Sprintf("Node %q has unknown type %q.", n.ID, n.Type),
				NodeID:  n.ID,
			})
		}
	}

	for _, e := range edges {
		if err, bad := checkEdge(e, byID, contracts); bad {
			errs = append(errs, err)
		}
	}
	return errs
}

func checkEdge(e Edge, byID map[string]Node, contracts *ContractRegistry) (WorkflowError, bool) {
	invalid := func(nodeID, handle string, dir HandleDirection, format string, args ...any) (WorkflowError, bool) {
		return WorkflowError{
			Type:      ErrorInvalidConnection,
			Message:   fmt.Sprintf("Edge %q: ", e.ID) + fmt.Sprintf(format, args...),
			Edges:     []Edge{e},
			NodeID:    nodeID,
			Handle:    handle,
			Direction: dir,
		}, true
	}

	src, ok := byID[e.Source]
	if !ok {
		return invalid(e.Source, e.SourceHandle, DirectionOutput, "source node %q does not exist.", e.Source)
	}
	dst, ok := byID[e.Target]
	if !ok {
		return invalid(e.Target, e.TargetHandle, DirectionInput, "target node %q does not exist.", e.Target)
	}
	if c, ok := contracts.Lookup(src.Type); ok && !c.AcceptsSource(src, e.SourceHandle) {
		return invalid(src.ID, e.SourceHandle, DirectionOutput, "node %q has no %q output.", src.ID, e.SourceHandle)
	}
	if c, ok := contracts.Lookup(dst.Type); ok && !c.AcceptsTarget(dst, e.TargetHandle) {
		return invalid(dst.ID, e.TargetHandle, DirectionInput, "node %q has no %q input.", dst.ID, e.TargetHandle)
	}
	return WorkflowError{}, false
}
