package dsl

// WorkflowDSL 工作流 DSL 顶层结构
type WorkflowDSL struct {
	// Version DSL 版本
	Version string `yaml:"version" json:"version"`
	// Name 工作流名称
	Name string `yaml:"name" json:"name"`
	// Description 工作流描述
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Variables 全局变量定义
	Variables map[string]VariableDef `yaml:"variables,omitempty" json:"variables,omitempty"`

	// Nodes 节点定义，顺序即声明顺序
	Nodes []NodeDef `yaml:"nodes" json:"nodes"`

	// Edges 连接定义
	Edges []EdgeDef `yaml:"edges,omitempty" json:"edges,omitempty"`

	// Metadata 元数据
	Metadata map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// VariableDef 变量定义
type VariableDef struct {
	Type        string `yaml:"type,omitempty" json:"type,omitempty"`               // string, int, float, bool, list, map
	Default     any    `yaml:"default,omitempty" json:"default,omitempty"`         // 默认值
	Description string `yaml:"description,omitempty" json:"description,omitempty"` // 描述
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`       // 是否必填
}

// NodeDef 节点定义
type NodeDef struct {
	ID     string         `yaml:"id" json:"id"`
	Type   string         `yaml:"type" json:"type"`
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
	// Handles 动态 handle 分组（template-tags / tools）
	Handles map[string][]HandleDef `yaml:"handles,omitempty" json:"handles,omitempty"`
}

// HandleDef 动态 handle 定义
type HandleDef struct {
	ID          string `yaml:"id,omitempty" json:"id,omitempty"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// EdgeDef 连接定义
type EdgeDef struct {
	ID           string `yaml:"id,omitempty" json:"id,omitempty"`
	Source       string `yaml:"source" json:"source"`
	SourceHandle string `yaml:"source_handle" json:"source_handle"`
	Target       string `yaml:"target" json:"target"`
	TargetHandle string `yaml:"target_handle" json:"target_handle"`
}
