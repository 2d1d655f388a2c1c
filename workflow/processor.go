package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// TargetsData maps a node's connected input handles to producer results.
// Unconnected handles are absent. It is nil for nodes with no inputs.
type TargetsData map[string]any

// Processor executes one node type.
type Processor interface {
	Process(ctx context.Context, node Node, targets TargetsData) (any, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, node Node, targets TargetsData) (any, error)

// Process implements Processor.
func (f ProcessorFunc) Process(ctx context.Context, node Node, targets TargetsData) (any, error) {
	return f(ctx, node, targets)
}

// HandleValuer is implemented by results that expose a different value per
// source handle. The engine feeds consumers HandleValue(sourceHandle) when
// it reports ok, and the whole result otherwise.
type HandleValuer interface {
	HandleValue(sourceHandle string) (any, bool)
}

// ProcessorRegistry maps node types to processors.
type ProcessorRegistry struct {
	mu         sync.RWMutex
	processors map[NodeType]Processor
}

// NewProcessorRegistry creates an empty registry.
func NewProcessorRegistry() *ProcessorRegistry {
	return &ProcessorRegistry{processors: make(map[NodeType]Processor)}
}

// Register adds or replaces the processor for a node type.
func (r *ProcessorRegistry) Register(nodeType NodeType, p Processor) error {
	if nodeType == "" {
		return fmt.Errorf("node type is required")
	}
	if p == nil {
		return fmt.Errorf("processor for %q is nil", nodeType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[nodeType] = p
	return nil
}

// RegisterFunc registers a function as the processor for a node type.
func (r *ProcessorRegistry) RegisterFunc(nodeType NodeType, fn ProcessorFunc) error {
	if fn == nil {
		return fmt.Errorf("processor for %q is nil", nodeType)
	}
	return r.Register(nodeType, fn)
}

// Get returns the processor for a node type.
func (r *ProcessorRegistry) Get(nodeType NodeType) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[nodeType]
	return p, ok
}

// Types returns the registered node types, sorted.
func (r *ProcessorRegistry) Types() []NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NodeType, 0, len(r.processors))
	for t := range r.processors {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone copies the registry so one variant can override entries.
func (r *ProcessorRegistry) Clone() *ProcessorRegistry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := NewProcessorRegistry()
	for t, p := range r.processors {
		out.processors[t] = p
	}
	return out
}
