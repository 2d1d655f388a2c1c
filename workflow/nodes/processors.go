package nodes

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/nodeflow/workflow"
)

// Processor failures surfaced on the node.
var (
	ErrTargetsNotFound = errors.New("targets data not found")
	ErrPromptNotFound  = errors.New("prompt not found")
	ErrNoGeneration    = errors.New("text generator returned no result")
)

// TextInput emits the node's configured value.
func TextInput(_ context.Context, node workflow.Node, _ workflow.TargetsData) (any, error) {
	return node.Config["value"], nil
}

// PromptCrafter replaces each {{tag}} in the template with the value
// connected to that tag's handle. Inputs are applied in handle id order.
func PromptCrafter(_ context.Context, node workflow.Node, targets workflow.TargetsData) (any, error) {
	if targets == nil {
		return nil, ErrTargetsNotFound
	}

	template, _ := node.ConfigString("template")

	ids := make([]string, 0, len(targets))
	for id := range targets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		tag, ok := node.DynamicHandles.Find(workflow.GroupTemplateTags, id)
		if !ok {
			return nil, fmt.Errorf("tag with id %s not found", id)
		}
		template = strings.ReplaceAll(template, "{{"+tag.Name+"}}", textOf(targets[id]))
	}
	return template, nil
}

// GenerateText builds the generate-text processor around gen.
func GenerateText(gen TextGenerator) workflow.ProcessorFunc {
	return func(ctx context.Context, node workflow.Node, targets workflow.TargetsData) (any, error) {
		prompt := textOf(targets[workflow.HandlePrompt])
		if prompt == "" {
			return nil, ErrPromptNotFound
		}
		model, _ := node.ConfigString("model")

		handles := node.DynamicHandles[workflow.GroupTools]
		tools := make([]Tool, 0, len(handles))
		for _, h := range handles {
			tools = append(tools, Tool{ID: h.ID, Name: h.Name, Description: h.Description})
		}

		result, err := gen.GenerateText(ctx, GenerateTextRequest{
			Prompt: prompt,
			System: textOf(targets[workflow.HandleSystem]),
			Model:  model,
			Tools:  tools,
		})
		if err != nil {
			return nil, err
		}
		if result == nil {
			return nil, ErrNoGeneration
		}
		return result, nil
	}
}

// VisualizeText is a sink; the UI renders its input.
func VisualizeText(context.Context, workflow.Node, workflow.TargetsData) (any, error) {
	return nil, nil
}

// ServerProcessors registers the built-in node types with gen serving
// generate-text.
func ServerProcessors(gen TextGenerator) *workflow.ProcessorRegistry {
	r := workflow.NewProcessorRegistry()
	_ = r.RegisterFunc(workflow.NodeTypeTextInput, TextInput)
	_ = r.RegisterFunc(workflow.NodeTypePromptCrafter, PromptCrafter)
	_ = r.RegisterFunc(workflow.NodeTypeGenerateText, GenerateText(gen))
	_ = r.RegisterFunc(workflow.NodeTypeVisualizeText, VisualizeText)
	return r
}

// PreviewProcessors is ServerProcessors with generate-text echoing its
// prompt instead of calling a model.
func PreviewProcessors() *workflow.ProcessorRegistry {
	return ServerProcessors(EchoGenerator{})
}

// textOf renders an input value as text; nil renders empty.
func textOf(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
