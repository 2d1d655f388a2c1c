package workflow

import (
	"sync"
	"time"

	"github.com/BaSui01/nodeflow/types"
)

// NodeStatus is the per-run status of one node.
type NodeStatus string

const (
	NodeStatusIdle       NodeStatus = "idle"
	NodeStatusProcessing NodeStatus = "processing"
	NodeStatusSuccess    NodeStatus = "success"
	NodeStatusError      NodeStatus = "error"
	NodeStatusCancelled  NodeStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s NodeStatus) Terminal() bool {
	return s == NodeStatusSuccess || s == NodeStatusError || s == NodeStatusCancelled
}

// RunStatus is the status of a run as a whole.
type RunStatus string

const (
	RunStatusIdle      RunStatus = "idle"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// NodeRun is the recorded outcome of one node in one run.
type NodeRun struct {
	NodeID      string          `json:"nodeId"`
	NodeType    NodeType        `json:"nodeType"`
	Status      NodeStatus      `json:"status"`
	Result      any             `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	ErrorCode   types.ErrorCode `json:"errorCode,omitempty"`
	StartedAt   time.Time       `json:"startedAt,omitempty"`
	CompletedAt time.Time       `json:"completedAt,omitempty"`

	err error
}

// Err returns the error recorded for the node, if any.
func (n NodeRun) Err() error {
	return n.err
}

// RunState is the result table of a single run. Each node moves out of
// idle at most once and is written to a terminal status at most once.
type RunState struct {
	mu          sync.RWMutex
	runID       string
	workflowID  string
	status      RunStatus
	order       []string
	nodes       map[string]*NodeRun
	startedAt   time.Time
	completedAt time.Time
}

func newRunState(runID string, def *WorkflowDefinition) *RunState {
	s := &RunState{
		runID:      runID,
		workflowID: def.ID,
		status:     RunStatusIdle,
		order:      append([]string(nil), def.ExecutionOrder...),
		nodes:      make(map[string]*NodeRun, len(def.ExecutionOrder)),
	}
	for _, id := range def.ExecutionOrder {
		n, _ := def.Node(id)
		s.nodes[id] = &NodeRun{NodeID: id, NodeType: n.Type, Status: NodeStatusIdle}
	}
	return s
}

func (s *RunState) setStatus(status RunStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	switch status {
	case RunStatusRunning:
		s.startedAt = time.Now()
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		s.completedAt = time.Now()
	}
}

// begin moves a node from idle to processing.
func (s *RunState) begin(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok || n.Status != NodeStatusIdle {
		return false
	}
	n.Status = NodeStatusProcessing
	n.StartedAt = time.Now()
	return true
}

// finish records a terminal status. A node that already reached a terminal
// status is never overwritten, and a started node cannot be cancelled.
func (s *RunState) finish(id string, status NodeStatus, result any, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok || !status.Terminal() {
		return false
	}
	switch n.Status {
	case NodeStatusIdle:
		// only blocked or cancelled nodes skip their processor
		if status == NodeStatusSuccess {
			return false
		}
	case NodeStatusProcessing:
		if status == NodeStatusCancelled {
			return false
		}
	default:
		return false
	}
	n.Status = status
	n.Result = result
	n.CompletedAt = time.Now()
	if err != nil {
		n.err = err
		n.Error = err.Error()
		n.ErrorCode = types.GetErrorCode(err)
	}
	return true
}

// inputs assembles targetsData for a node from producers' recorded results.
func (s *RunState) inputs(deps []Dependency) TargetsData {
	if len(deps) == 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data := make(TargetsData, len(deps))
	for _, dep := range deps {
		producer, ok := s.nodes[dep.Node]
		if !ok || producer.Status != NodeStatusSuccess {
			continue
		}
		value := producer.Result
		if hv, ok := value.(HandleValuer); ok {
			if v, ok := hv.HandleValue(dep.SourceHandle); ok {
				value = v
			}
		}
		data[dep.TargetHandle] = value
	}
	return data
}

// failedProducer returns the first producer that did not succeed.
func (s *RunState) failedProducer(deps []Dependency) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, dep := range deps {
		producer, ok := s.nodes[dep.Node]
		if ok && producer.Status != NodeStatusSuccess {
			return dep.Node, true
		}
	}
	return "", false
}

func (s *RunState) anyNodeStatus(status NodeStatus) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.nodes {
		if n.Status == status {
			return true
		}
	}
	return false
}

// RunSnapshot is a read-only copy of a RunState.
type RunSnapshot struct {
	RunID       string             `json:"runId"`
	WorkflowID  string             `json:"workflowId"`
	Status      RunStatus          `json:"status"`
	Order       []string           `json:"order"`
	Nodes       map[string]NodeRun `json:"nodes"`
	StartedAt   time.Time          `json:"startedAt,omitempty"`
	CompletedAt time.Time          `json:"completedAt,omitempty"`
}

// Node returns the recorded state of one node.
func (r *RunSnapshot) Node(id string) (NodeRun, bool) {
	n, ok := r.Nodes[id]
	return n, ok
}

// Result returns a node's result when it succeeded.
func (r *RunSnapshot) Result(id string) (any, bool) {
	n, ok := r.Nodes[id]
	if !ok || n.Status != NodeStatusSuccess {
		return nil, false
	}
	return n.Result, true
}

// Snapshot copies the current state.
func (s *RunState) Snapshot() *RunSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := &RunSnapshot{
		RunID:       s.runID,
		WorkflowID:  s.workflowID,
		Status:      s.status,
		Order:       append([]string(nil), s.order...),
		Nodes:       make(map[string]NodeRun, len(s.nodes)),
		StartedAt:   s.startedAt,
		CompletedAt: s.completedAt,
	}
	for id, n := range s.nodes {
		snap.Nodes[id] = *n
	}
	return snap
}
