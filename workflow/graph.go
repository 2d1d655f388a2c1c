package workflow

// NodeType identifies the processing behavior of a node.
type NodeType string

const (
	// NodeTypeTextInput emits a user-provided string.
	NodeTypeTextInput NodeType = "text-input"
	// NodeTypePromptCrafter fills a template from its tag inputs.
	NodeTypePromptCrafter NodeType = "prompt-crafter"
	// NodeTypeGenerateText calls the text-generation collaborator.
	NodeTypeGenerateText NodeType = "generate-text"
	// NodeTypeVisualizeText is a terminal sink.
	NodeTypeVisualizeText NodeType = "visualize-text"
)

// Static handle ids used by the built-in node types.
const (
	HandleOutput = "output"
	HandleInput  = "input"
	HandlePrompt = "prompt"
	HandleSystem = "system"
)

// Dynamic handle groups used by the built-in node types.
const (
	GroupTemplateTags = "template-tags"
	GroupTools        = "tools"
)

// HandleDescriptor describes one user-defined handle inside a dynamic group.
type HandleDescriptor struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// DynamicHandles maps a group name to its ordered handle list.
type DynamicHandles map[string][]HandleDescriptor

// Find returns the handle with the given id in group.
func (d DynamicHandles) Find(group, id string) (HandleDescriptor, bool) {
	for _, h := range d[group] {
		if h.ID == id {
			return h, true
		}
	}
	return HandleDescriptor{}, false
}

// IDs returns the handle ids of a group in declaration order.
func (d DynamicHandles) IDs(group string) []string {
	handles := d[group]
	ids := make([]string, 0, len(handles))
	for _, h := range handles {
		ids = append(ids, h.ID)
	}
	return ids
}

// Clone returns a deep copy.
func (d DynamicHandles) Clone() DynamicHandles {
	if d == nil {
		return nil
	}
	out := make(DynamicHandles, len(d))
	for group, handles := range d {
		out[group] = append([]HandleDescriptor(nil), handles...)
	}
	return out
}

// Node is a typed processing unit in a workflow graph.
type Node struct {
	ID             string         `json:"id" yaml:"id"`
	Type           NodeType       `json:"type" yaml:"type"`
	Config         map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	DynamicHandles DynamicHandles `json:"dynamicHandles,omitempty" yaml:"dynamic_handles,omitempty"`
}

// ConfigString returns Config[key] when it holds a string.
func (n Node) ConfigString(key string) (string, bool) {
	v, ok := n.Config[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Edge connects a source node's output handle to a target node's input handle.
type Edge struct {
	ID           string `json:"id" yaml:"id"`
	Source       string `json:"source" yaml:"source"`
	SourceHandle string `json:"sourceHandle" yaml:"source_handle"`
	Target       string `json:"target" yaml:"target"`
	TargetHandle string `json:"targetHandle" yaml:"target_handle"`
}
