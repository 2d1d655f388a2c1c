package dsl

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BaSui01/nodeflow/workflow"
	"gopkg.in/yaml.v3"
)

// Parser DSL 解析器
type Parser struct {
	// overrides 调用方提供的变量值，优先于默认值
	overrides map[string]any
}

// ParserOption 配置 Parser
type ParserOption func(*Parser)

// WithVariables 设置变量取值，覆盖 DSL 中的默认值
func WithVariables(vars map[string]any) ParserOption {
	return func(p *Parser) {
		for k, v := range vars {
			p.overrides[k] = v
		}
	}
}

// NewParser 创建 DSL 解析器
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{overrides: make(map[string]any)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ParseFile 从文件解析 DSL，按扩展名选择格式（.hcl / .yaml / .yml / .json）
func (p *Parser) ParseFile(filename string) (*workflow.Document, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read DSL file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".hcl":
		return p.ParseHCL(data, filename)
	case ".json":
		return p.ParseJSON(data)
	case ".yaml", ".yml":
		return p.Parse(data)
	default:
		return nil, fmt.Errorf("unsupported DSL file extension %q", filepath.Ext(filename))
	}
}

// Parse 从 YAML 字节解析 DSL
func (p *Parser) Parse(data []byte) (*workflow.Document, error) {
	var dsl WorkflowDSL
	if err := yaml.Unmarshal(data, &dsl); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	return p.build(&dsl, NewValidator())
}

// ParseJSON 从 JSON 字节解析 DSL
func (p *Parser) ParseJSON(data []byte) (*workflow.Document, error) {
	var dsl WorkflowDSL
	if err := json.Unmarshal(data, &dsl); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}
	return p.build(&dsl, NewValidator())
}

func (p *Parser) build(dsl *WorkflowDSL, v *Validator) (*workflow.Document, error) {
	// 1. 验证 DSL
	if err := p.validate(dsl, v); err != nil {
		return nil, fmt.Errorf("validate DSL: %w", err)
	}

	// 2. 解析变量，构建插值上下文
	var vars map[string]any
	if !v.literalConfig {
		resolved, err := p.resolveVariables(dsl.Variables)
		if err != nil {
			return nil, err
		}
		vars = resolved
	}

	// 3. 构建文档
	doc := &workflow.Document{Name: dsl.Name, Edges: make([]workflow.Edge, 0, len(dsl.Edges))}
	for i := range dsl.Nodes {
		node, err := p.buildNode(&dsl.Nodes[i], vars)
		if err != nil {
			return nil, fmt.Errorf("build node %s: %w", dsl.Nodes[i].ID, err)
		}
		doc.Nodes = append(doc.Nodes, node)
	}
	for _, e := range dsl.Edges {
		doc.Edges = append(doc.Edges, buildEdge(e))
	}
	return doc, nil
}

// validate 验证 DSL
func (p *Parser) validate(dsl *WorkflowDSL, v *Validator) error {
	errs := v.Validate(dsl)
	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		sort.Strings(msgs)
		return fmt.Errorf("validation errors: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// resolveVariables 合并默认值与调用方取值
func (p *Parser) resolveVariables(varDefs map[string]VariableDef) (map[string]any, error) {
	vars := make(map[string]any)
	for name, def := range varDefs {
		if v, ok := p.overrides[name]; ok {
			vars[name] = v
			continue
		}
		if def.Default != nil {
			vars[name] = def.Default
			continue
		}
		if def.Required {
			return nil, fmt.Errorf("variable %s is required", name)
		}
	}
	return vars, nil
}

// buildNode 构建单个节点，动态 handle 经过与编辑器相同的校验
func (p *Parser) buildNode(def *NodeDef, vars map[string]any) (workflow.Node, error) {
	node := workflow.Node{ID: def.ID, Type: workflow.NodeType(def.Type)}
	switch {
	case def.Config == nil:
	case vars == nil:
		node.Config = def.Config
	default:
		cfg, _ := interpolateValue(def.Config, vars).(map[string]any)
		node.Config = cfg
	}

	groups := make([]string, 0, len(def.Handles))
	for group := range def.Handles {
		groups = append(groups, group)
	}
	sort.Strings(groups)
	for _, group := range groups {
		for _, h := range def.Handles[group] {
			desc := workflow.HandleDescriptor{ID: h.ID, Name: h.Name, Description: h.Description}
			if _, err := node.AddDynamicHandle(group, desc); err != nil {
				return workflow.Node{}, err
			}
		}
	}
	return node, nil
}

func buildEdge(e EdgeDef) workflow.Edge {
	id := e.ID
	if id == "" {
		id = fmt.Sprintf("%s:%s->%s:%s", e.Source, e.SourceHandle, e.Target, e.TargetHandle)
	}
	return workflow.Edge{
		ID:           id,
		Source:       e.Source,
		SourceHandle: e.SourceHandle,
		Target:       e.Target,
		TargetHandle: e.TargetHandle,
	}
}

// interpolateValue 递归替换配置中的 ${var}。
// 整个字符串恰为一个引用时保留变量原始类型。
func interpolateValue(v any, vars map[string]any) any {
	switch val := v.(type) {
	case string:
		return interpolate(val, vars)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = interpolateValue(item, vars)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = interpolateValue(item, vars)
		}
		return out
	default:
		return v
	}
}

// interpolate 变量插值（替换 ${var_name}）
func interpolate(template string, vars map[string]any) any {
	if refs := extractVariableRefs(template); len(refs) == 1 && template == "${"+refs[0]+"}" {
		if value, ok := vars[refs[0]]; ok {
			return value
		}
	}

	var b strings.Builder
	rest := template
	for {
		start := strings.Index(rest, "${")
		if start == -1 {
			break
		}
		end := strings.Index(rest[start:], "}")
		if end == -1 {
			break
		}
		name := rest[start+2 : start+end]
		b.WriteString(rest[:start])
		if value, ok := vars[name]; ok {
			b.WriteString(fmt.Sprintf("%v", value))
		} else {
			b.WriteString(rest[start : start+end+1])
		}
		rest = rest[start+end+1:]
	}
	b.WriteString(rest)
	return b.String()
}
