package workflow

import (
	"fmt"
	"sort"
	"sync"
)

// HandleSet lists the handles on one side of a node type.
// Required must be a subset of All.
type HandleSet struct {
	All      []string `json:"all"`
	Required []string `json:"required"`
}

// Contains reports whether id is one of the declared handles.
func (s HandleSet) Contains(id string) bool {
	for _, h := range s.All {
		if h == id {
			return true
		}
	}
	return false
}

// Contract declares the handles a node type exposes.
// DynamicTargets and DynamicSources name the dynamic handle groups whose
// handle ids extend the target and source sets.
type Contract struct {
	Targets        HandleSet `json:"targets"`
	Sources        HandleSet `json:"sources"`
	DynamicTargets string    `json:"dynamicTargets,omitempty"`
	DynamicSources string    `json:"dynamicSources,omitempty"`
}

// TargetHandles returns every target handle id accepted by node.
func (c Contract) TargetHandles(node Node) []string {
	return resolveHandles(c.Targets, c.DynamicTargets, node)
}

// SourceHandles returns every source handle id exposed by node.
func (c Contract) SourceHandles(node Node) []string {
	return resolveHandles(c.Sources, c.DynamicSources, node)
}

// AcceptsTarget reports whether handle is a valid target on node.
func (c Contract) AcceptsTarget(node Node, handle string) bool {
	if c.Targets.Contains(handle) {
		return true
	}
	if c.DynamicTargets == "" {
		return false
	}
	_, ok := node.DynamicHandles.Find(c.DynamicTargets, handle)
	return ok
}

// AcceptsSource reports whether handle is a valid source on node.
func (c Contract) AcceptsSource(node Node, handle string) bool {
	if c.Sources.Contains(handle) {
		return true
	}
	if c.DynamicSources == "" {
		return false
	}
	_, ok := node.DynamicHandles.Find(c.DynamicSources, handle)
	return ok
}

func resolveHandles(static HandleSet, group string, node Node) []string {
	out := append([]string(nil), static.All...)
	if group != "" {
		out = append(out, node.DynamicHandles.IDs(group)...)
	}
	return out
}

// ContractRegistry maps node types to their contracts.
type ContractRegistry struct {
	mu        sync.RWMutex
	contracts map[NodeType]Contract
}

// NewContractRegistry creates an empty registry.
func NewContractRegistry() *ContractRegistry {
	return &ContractRegistry{contracts: make(map[NodeType]Contract)}
}

// Register adds or replaces the contract for a node type.
func (r *ContractRegistry) Register(nodeType NodeType, c Contract) error {
	if nodeType == "" {
		return fmt.Errorf("node type is required")
	}
	for _, req := range c.Targets.Required {
		if !c.Targets.Contains(req) {
			return fmt.Errorf("node type %q: required target %q is not declared", nodeType, req)
		}
	}
	for _, req := range c.Sources.Required {
		if !c.Sources.Contains(req) {
			return fmt.Errorf("node type %q: required source %q is not declared", nodeType, req)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.contracts[nodeType] = c
	return nil
}

// MustRegister is like Register but panics on an invalid contract.
func (r *ContractRegistry) MustRegister(nodeType NodeType, c Contract) {
	if err := r.Register(nodeType, c); err != nil {
		panic(err)
	}
}

// Lookup returns the contract for a node type.
func (r *ContractRegistry) Lookup(nodeType NodeType) (Contract, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contracts[nodeType]
	return c, ok
}

// Types returns the registered node types, sorted.
func (r *ContractRegistry) Types() []NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NodeType, 0, len(r.contracts))
	for t := range r.contracts {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DefaultContracts returns a registry holding the built-in node types.
func DefaultContracts() *ContractRegistry {
	r := NewContractRegistry()
	r.MustRegister(NodeTypeTextInput, Contract{
		Sources: HandleSet{All: []string{HandleOutput}, Required: []string{HandleOutput}},
	})
	r.MustRegister(NodeTypePromptCrafter, Contract{
		Sources:        HandleSet{All: []string{HandleOutput}},
		DynamicTargets: GroupTemplateTags,
	})
	r.MustRegister(NodeTypeGenerateText, Contract{
		Targets:        HandleSet{All: []string{HandleSystem, HandlePrompt}, Required: []string{HandlePrompt}},
		Sources:        HandleSet{All: []string{HandleOutput}},
		DynamicSources: GroupTools,
	})
	r.MustRegister(NodeTypeVisualizeText, Contract{
		Targets: HandleSet{All: []string{HandleInput}, Required: []string{HandleInput}},
	})
	return r
}
