package workflow

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// NodeExecution records the execution of a single node.
type NodeExecution struct {
	NodeID    string        `json:"node_id"`
	NodeType  NodeType      `json:"node_type"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Status    NodeStatus    `json:"status"`
	Input     TargetsData   `json:"input,omitempty"`
	Output    any           `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// ExecutionHistory records the path one run took through a workflow.
type ExecutionHistory struct {
	RunID      string           `json:"run_id"`
	WorkflowID string           `json:"workflow_id"`
	StartTime  time.Time        `json:"start_time"`
	EndTime    time.Time        `json:"end_time"`
	Duration   time.Duration    `json:"duration"`
	Status     RunStatus        `json:"status"`
	Nodes      []*NodeExecution `json:"nodes"`
	Error      string           `json:"error,omitempty"`
	mu         sync.RWMutex
}

// NewExecutionHistory creates a history in the running state.
func NewExecutionHistory(runID, workflowID string) *ExecutionHistory {
	return &ExecutionHistory{
		RunID:      runID,
		WorkflowID: workflowID,
		StartTime:  time.Now(),
		Status:     RunStatusRunning,
		Nodes:      make([]*NodeExecution, 0),
	}
}

// RecordNodeStart records that a processor was invoked.
func (h *ExecutionHistory) RecordNodeStart(nodeID string, nodeType NodeType, input TargetsData) *NodeExecution {
	h.mu.Lock()
	defer h.mu.Unlock()

	node := &NodeExecution{
		NodeID:    nodeID,
		NodeType:  nodeType,
		StartTime: time.Now(),
		Status:    NodeStatusProcessing,
		Input:     input,
	}
	h.Nodes = append(h.Nodes, node)
	return node
}

// RecordNodeEnd records the outcome of a started node.
func (h *ExecutionHistory) RecordNodeEnd(node *NodeExecution, output any, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	node.EndTime = time.Now()
	node.Duration = node.EndTime.Sub(node.StartTime)
	node.Output = output

	if err != nil {
		node.Status = NodeStatusError
		node.Error = err.Error()
	} else {
		node.Status = NodeStatusSuccess
	}
}

// RecordNodeSkipped records a node that never reached its processor.
func (h *ExecutionHistory) RecordNodeSkipped(nodeID string, nodeType NodeType, status NodeStatus, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	node := &NodeExecution{
		NodeID:    nodeID,
		NodeType:  nodeType,
		StartTime: now,
		EndTime:   now,
		Status:    status,
	}
	if err != nil {
		node.Error = err.Error()
	}
	h.Nodes = append(h.Nodes, node)
}

// Complete marks the run as finished with the given status.
func (h *ExecutionHistory) Complete(status RunStatus, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.EndTime = time.Now()
	h.Duration = h.EndTime.Sub(h.StartTime)
	h.Status = status
	if err != nil {
		h.Error = err.Error()
	}
}

// GetStatus returns the current run status.
func (h *ExecutionHistory) GetStatus() RunStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.Status
}

// GetNodes returns a copy of the node executions.
func (h *ExecutionHistory) GetNodes() []*NodeExecution {
	h.mu.RLock()
	defer h.mu.RUnlock()

	nodes := make([]*NodeExecution, len(h.Nodes))
	copy(nodes, h.Nodes)
	return nodes
}

// GetNodeByID returns the execution record for a specific node.
func (h *ExecutionHistory) GetNodeByID(nodeID string) *NodeExecution {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, node := range h.Nodes {
		if node.NodeID == nodeID {
			return node
		}
	}
	return nil
}

// MarshalJSON encodes the history under its read lock so a live run can
// be served while nodes are still being recorded.
func (h *ExecutionHistory) MarshalJSON() ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return json.Marshal(struct {
		RunID      string           `json:"run_id"`
		WorkflowID string           `json:"workflow_id"`
		StartTime  time.Time        `json:"start_time"`
		EndTime    time.Time        `json:"end_time"`
		Duration   time.Duration    `json:"duration"`
		Status     RunStatus        `json:"status"`
		Nodes      []*NodeExecution `json:"nodes"`
		Error      string           `json:"error,omitempty"`
	}{
		RunID:      h.RunID,
		WorkflowID: h.WorkflowID,
		StartTime:  h.StartTime,
		EndTime:    h.EndTime,
		Duration:   h.Duration,
		Status:     h.Status,
		Nodes:      h.Nodes,
		Error:      h.Error,
	})
}

// ExecutionHistoryStore keeps the most recent run histories in memory.
type ExecutionHistoryStore struct {
	histories map[string]*ExecutionHistory
	order     []string
	capacity  int
	mu        sync.RWMutex
}

// NewExecutionHistoryStore creates a store holding at most capacity
// histories. A capacity <= 0 means unbounded.
func NewExecutionHistoryStore(capacity int) *ExecutionHistoryStore {
	return &ExecutionHistoryStore{
		histories: make(map[string]*ExecutionHistory),
		capacity:  capacity,
	}
}

// Save stores a history, evicting the oldest when full.
func (s *ExecutionHistoryStore) Save(history *ExecutionHistory) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.histories[history.RunID]; !exists {
		s.order = append(s.order, history.RunID)
	}
	s.histories[history.RunID] = history

	for s.capacity > 0 && len(s.order) > s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.histories, oldest)
	}
}

// Get retrieves a history by run ID.
func (s *ExecutionHistoryStore) Get(runID string) (*ExecutionHistory, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.histories[runID]
	return h, ok
}

// Len returns the number of stored histories.
func (s *ExecutionHistoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.histories)
}

// ListByWorkflow returns runs of one workflow definition, oldest first.
func (s *ExecutionHistoryStore) ListByWorkflow(workflowID string) []*ExecutionHistory {
	return s.filter(func(h *ExecutionHistory) bool { return h.WorkflowID == workflowID })
}

// ListByStatus returns runs with the given status, oldest first.
func (s *ExecutionHistoryStore) ListByStatus(status RunStatus) []*ExecutionHistory {
	return s.filter(func(h *ExecutionHistory) bool { return h.GetStatus() == status })
}

// ListByTimeRange returns runs started within [start, end], oldest first.
func (s *ExecutionHistoryStore) ListByTimeRange(start, end time.Time) []*ExecutionHistory {
	return s.filter(func(h *ExecutionHistory) bool {
		return !h.StartTime.Before(start) && !h.StartTime.After(end)
	})
}

func (s *ExecutionHistoryStore) filter(keep func(*ExecutionHistory) bool) []*ExecutionHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*ExecutionHistory
	for _, id := range s.order {
		if h := s.histories[id]; keep(h) {
			result = append(result, h)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].StartTime.Before(result[j].StartTime)
	})
	return result
}
