package workflow

import (
	"context"
	"fmt"
	"sync"
)

// ---------------------------------------------------------------------------
// Graph fixtures
// ---------------------------------------------------------------------------

func textInput(id, value string) Node {
	return Node{ID: id, Type: NodeTypeTextInput, Config: map[string]any{"value": value}}
}

func promptCrafter(id, template string, tags ...HandleDescriptor) Node {
	return Node{
		ID:             id,
		Type:           NodeTypePromptCrafter,
		Config:         map[string]any{"template": template},
		DynamicHandles: DynamicHandles{GroupTemplateTags: tags},
	}
}

func generateText(id string, tools ...HandleDescriptor) Node {
	n := Node{ID: id, Type: NodeTypeGenerateText, Config: map[string]any{"model": "test-model"}}
	if len(tools) > 0 {
		n.DynamicHandles = DynamicHandles{GroupTools: tools}
	}
	return n
}

func visualizeText(id string) Node {
	return Node{ID: id, Type: NodeTypeVisualizeText}
}

func tag(id, name string) HandleDescriptor {
	return HandleDescriptor{ID: id, Name: name}
}

func edge(source, sourceHandle, target, targetHandle string) Edge {
	return Edge{
		ID:           fmt.Sprintf("%s.%s->%s.%s", source, sourceHandle, target, targetHandle),
		Source:       source,
		SourceHandle: sourceHandle,
		Target:       target,
		TargetHandle: targetHandle,
	}
}

// chainGraph is A(text-input) -> B(prompt-crafter) -> C(generate-text).
func chainGraph() ([]Node, []Edge) {
	nodes := []Node{
		textInput("A", "Hi {{name}}"),
		promptCrafter("B", "Hi {{name}}", tag("name", "name")),
		generateText("C"),
	}
	edges := []Edge{
		edge("A", HandleOutput, "B", "name"),
		edge("B", HandleOutput, "C", HandlePrompt),
	}
	return nodes, edges
}

// ---------------------------------------------------------------------------
// Processor fixtures
// ---------------------------------------------------------------------------

// recorder captures processor invocations in call order.
type recorder struct {
	mu      sync.Mutex
	calls   []string
	targets map[string]TargetsData
}

func newRecorder() *recorder {
	return &recorder{targets: make(map[string]TargetsData)}
}

func (r *recorder) record(node Node, targets TargetsData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, node.ID)
	r.targets[node.ID] = targets
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) Targets(id string) TargetsData {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.targets[id]
}

// echoProcessors registers every built-in type with a processor that
// returns "<id>" and records the call, unless fail names the node.
func echoProcessors(rec *recorder, fail map[string]error) *ProcessorRegistry {
	reg := NewProcessorRegistry()
	fn := ProcessorFunc(func(ctx context.Context, node Node, targets TargetsData) (any, error) {
		rec.record(node, targets)
		if err, ok := fail[node.ID]; ok {
			return nil, err
		}
		return "<" + node.ID + ">", nil
	})
	for _, t := range []NodeType{NodeTypeTextInput, NodeTypePromptCrafter, NodeTypeGenerateText, NodeTypeVisualizeText} {
		_ = reg.Register(t, fn)
	}
	return reg
}
