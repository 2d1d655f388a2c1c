package dsl

import (
	"fmt"
	"sort"
	"strings"
)

// Validator DSL 验证器
type Validator struct {
	// literalConfig 为 true 时配置已求值，不再检查 ${var} 引用
	literalConfig bool
}

// NewValidator 创建验证器
func NewValidator() *Validator {
	return &Validator{}
}

// Validate 验证 DSL 定义。
// 只检查文档结构；连接合法性、环和必填连接由编译器报告。
func (v *Validator) Validate(dsl *WorkflowDSL) []error {
	var errs []error

	// 基础字段验证
	if dsl.Version == "" {
		errs = append(errs, fmt.Errorf("version is required"))
	}
	if dsl.Name == "" {
		errs = append(errs, fmt.Errorf("name is required"))
	}
	if len(dsl.Nodes) == 0 {
		errs = append(errs, fmt.Errorf("nodes must have at least one node"))
	}

	nodeIDs := make(map[string]bool)
	for i, node := range dsl.Nodes {
		if node.ID == "" {
			errs = append(errs, fmt.Errorf("nodes[%d]: id is required", i))
			continue
		}
		if nodeIDs[node.ID] {
			errs = append(errs, fmt.Errorf("duplicate node ID: %s", node.ID))
		}
		nodeIDs[node.ID] = true
		errs = append(errs, v.validateNode(&node, dsl)...)
	}

	for i, e := range dsl.Edges {
		if e.Source == "" || e.Target == "" {
			errs = append(errs, fmt.Errorf("edges[%d]: source and target are required", i))
		}
		if e.SourceHandle == "" || e.TargetHandle == "" {
			errs = append(errs, fmt.Errorf("edges[%d]: source_handle and target_handle are required", i))
		}
	}

	for name, def := range dsl.Variables {
		if def.Required && def.Default != nil {
			errs = append(errs, fmt.Errorf("variable %s: required variable cannot declare a default", name))
		}
	}

	return errs
}

// validateNode 验证单个节点
func (v *Validator) validateNode(node *NodeDef, dsl *WorkflowDSL) []error {
	var errs []error

	if node.Type == "" {
		errs = append(errs, fmt.Errorf("node %s: type is required", node.ID))
	}

	for group, handles := range node.Handles {
		if group == "" {
			errs = append(errs, fmt.Errorf("node %s: handle group name is required", node.ID))
		}
		for i, h := range handles {
			if strings.TrimSpace(h.Name) == "" {
				errs = append(errs, fmt.Errorf("node %s: handles.%s[%d]: name is required", node.ID, group, i))
			}
		}
	}

	if v.literalConfig {
		return errs
	}

	// 验证变量插值引用
	for _, ref := range collectRefs(node.Config) {
		if _, ok := dsl.Variables[ref]; !ok {
			errs = append(errs, fmt.Errorf("node %s: variable %q referenced in config not defined", node.ID, ref))
		}
	}

	return errs
}

// collectRefs 收集配置中所有字符串里的 ${var} 引用，去重并排序
func collectRefs(v any) []string {
	seen := make(map[string]struct{})
	walkStrings(v, func(s string) {
		for _, ref := range extractVariableRefs(s) {
			seen[ref] = struct{}{}
		}
	})
	refs := make([]string, 0, len(seen))
	for ref := range seen {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

func walkStrings(v any, fn func(string)) {
	switch val := v.(type) {
	case string:
		fn(val)
	case map[string]any:
		for _, item := range val {
			walkStrings(item, fn)
		}
	case []any:
		for _, item := range val {
			walkStrings(item, fn)
		}
	}
}

// extractVariableRefs 提取 ${var} 引用
func extractVariableRefs(s string) []string {
	var refs []string
	for {
		start := strings.Index(s, "${")
		if start == -1 {
			break
		}
		end := strings.Index(s[start:], "}")
		if end == -1 {
			break
		}
		ref := s[start+2 : start+end]
		refs = append(refs, ref)
		s = s[start+end+1:]
	}
	return refs
}
