package workflow

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WorkflowDefinition is the immutable result of compiling a graph.
// ExecutionOrder is empty exactly when Errors holds a cycle error.
type WorkflowDefinition struct {
	ID             string                  `json:"id" yaml:"id"`
	Nodes          []Node                  `json:"nodes" yaml:"nodes"`
	Edges          []Edge                  `json:"edges" yaml:"edges"`
	ExecutionOrder []string                `json:"executionOrder" yaml:"execution_order"`
	Dependencies   map[string][]Dependency `json:"dependencies" yaml:"dependencies"`
	Dependents     map[string][]Dependent  `json:"dependents" yaml:"dependents"`
	Errors         []WorkflowError         `json:"errors" yaml:"errors"`

	nodeIndex map[string]int
}

// Valid reports whether the definition can be executed.
func (d *WorkflowDefinition) Valid() bool {
	return len(d.Errors) == 0 && len(d.ExecutionOrder) > 0
}

// HasCycle reports whether compilation found a cycle.
func (d *WorkflowDefinition) HasCycle() bool {
	for _, e := range d.Errors {
		if e.Type == ErrorCycle {
			return true
		}
	}
	return false
}

// ErrorsOfType filters Errors by type.
func (d *WorkflowDefinition) ErrorsOfType(t WorkflowErrorType) []WorkflowError {
	var out []WorkflowError
	for _, e := range d.Errors {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Node returns the node with the given id.
func (d *WorkflowDefinition) Node(id string) (Node, bool) {
	if d.nodeIndex == nil {
		for _, n := range d.Nodes {
			if n.ID == id {
				return n, true
			}
		}
		return Node{}, false
	}
	i, ok := d.nodeIndex[id]
	if !ok {
		return Node{}, false
	}
	return d.Nodes[i], true
}

// CompileObserver receives compile outcomes, e.g. for metrics.
type CompileObserver interface {
	ObserveCompile(nodes, edges int, errs []WorkflowError, duration time.Duration)
}

// Compiler turns node and edge lists into WorkflowDefinitions.
type Compiler struct {
	contracts *ContractRegistry
	logger    *zap.Logger
	observer  CompileObserver
	newID     func() string
}

// CompilerOption configures a Compiler.
type CompilerOption func(*Compiler)

// WithContracts sets the node-type contracts used for handle checks.
func WithContracts(r *ContractRegistry) CompilerOption {
	return func(c *Compiler) {
		if r != nil {
			c.contracts = r
		}
	}
}

// WithCompilerLogger sets the logger.
func WithCompilerLogger(logger *zap.Logger) CompilerOption {
	return func(c *Compiler) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCompileObserver attaches an observer notified after each compile.
func WithCompileObserver(o CompileObserver) CompilerOption {
	return func(c *Compiler) { c.observer = o }
}

// NewCompiler creates a Compiler using DefaultContracts unless overridden.
func NewCompiler(opts ...CompilerOption) *Compiler {
	c := &Compiler{
		contracts: DefaultContracts(),
		logger:    zap.NewNop(),
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "workflow_compiler"))
	return c
}

// Contracts returns the registry the compiler validates against.
func (c *Compiler) Contracts() *ContractRegistry {
	return c.contracts
}

// Prepare compiles nodes and edges. It never fails; every structural
// problem is reported in the returned definition's Errors.
func (c *Compiler) Prepare(nodes []Node, edges []Edge) *WorkflowDefinition {
	start := time.Now()

	nodes = append([]Node(nil), nodes...)
	edges = append([]Edge(nil), edges...)
	g := BuildDependencyGraph(edges)

	errs := make([]WorkflowError, 0)
	errs = append(errs, ValidateMultipleSources(g)...)
	cycleErrs := ValidateCycles(nodes, edges, g)
	errs = append(errs, cycleErrs...)
	errs = append(errs, ValidateRequiredConnections(nodes, edges, g, c.contracts)...)
	errs = append(errs, ValidateConnections(nodes, edges, c.contracts)...)

	order := make([]string, 0, len(nodes))
	if len(cycleErrs) == 0 {
		order = TopologicalSort(nodes, g)
	}

	def := &WorkflowDefinition{
		ID:             c.newID(),
		Nodes:          nodes,
		Edges:          edges,
		ExecutionOrder: order,
		Dependencies:   g.Dependencies,
		Dependents:     g.Dependents,
		Errors:         errs,
		nodeIndex:      make(map[string]int, len(nodes)),
	}
	for i, n := range nodes {
		if _, dup := def.nodeIndex[n.ID]; !dup {
			def.nodeIndex[n.ID] = i
		}
	}

	duration := time.Since(start)
	c.logger.Debug("workflow compiled",
		zap.String("workflow_id", def.ID),
		zap.Int("nodes", len(nodes)),
		zap.Int("edges", len(edges)),
		zap.Int("errors", len(errs)),
		zap.Duration("duration", duration),
	)
	if c.observer != nil {
		c.observer.ObserveCompile(len(nodes), len(edges), errs, duration)
	}
	return def
}

var defaultCompiler = NewCompiler()

// PrepareWorkflow compiles with the built-in contracts.
func PrepareWorkflow(nodes []Node, edges []Edge) *WorkflowDefinition {
	return defaultCompiler.Prepare(nodes, edges)
}
