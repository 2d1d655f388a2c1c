package dsl

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/BaSui01/nodeflow/workflow"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// hclFile is the HCL form of a workflow:
//
//	version = "1"
//	name    = "greeting"
//
//	variable "who" {
//	  default = "world"
//	}
//
//	node "text-input" "A" {
//	  config = { value = "Hello ${var.who}" }
//	}
//
//	node "prompt-crafter" "B" {
//	  config = { template = "Say {{name}}" }
//	  handle "template-tags" {
//	    id   = "t1"
//	    name = "name"
//	  }
//	}
//
//	edge "e1" {
//	  source        = "A"
//	  source_handle = "output"
//	  target        = "B"
//	  target_handle = "t1"
//	}
type hclFile struct {
	Version     string        `hcl:"version,optional"`
	Name        string        `hcl:"name,optional"`
	Description string        `hcl:"description,optional"`
	Variables   []hclVariable `hcl:"variable,block"`
	Nodes       []hclNode     `hcl:"node,block"`
	Edges       []hclEdge     `hcl:"edge,block"`
}

type hclVariable struct {
	Name        string    `hcl:"name,label"`
	Type        string    `hcl:"type,optional"`
	Default     cty.Value `hcl:"default,optional"`
	Description string    `hcl:"description,optional"`
	Required    bool      `hcl:"required,optional"`
}

type hclNode struct {
	Type    string         `hcl:"type,label"`
	ID      string         `hcl:"id,label"`
	Config  hcl.Expression `hcl:"config,optional"`
	Handles []hclHandle    `hcl:"handle,block"`
}

type hclHandle struct {
	Group       string `hcl:"group,label"`
	ID          string `hcl:"id,optional"`
	Name        string `hcl:"name"`
	Description string `hcl:"description,optional"`
}

type hclEdge struct {
	ID           string `hcl:"id,label"`
	Source       string `hcl:"source"`
	SourceHandle string `hcl:"source_handle"`
	Target       string `hcl:"target"`
	TargetHandle string `hcl:"target_handle"`
}

// ParseHCL parses an HCL workflow. Node config expressions are evaluated
// with the resolved variables bound as var.<name>.
func (p *Parser) ParseHCL(src []byte, filename string) (*workflow.Document, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %s", filename, diags.Error())
	}

	var parsed hclFile
	diags = gohcl.DecodeBody(file.Body, nil, &parsed)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %s", filename, diags.Error())
	}

	vars, err := p.resolveHCLVariables(parsed.Variables)
	if err != nil {
		return nil, err
	}
	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{"var": cty.ObjectVal(vars)},
	}

	dsl := &WorkflowDSL{
		Version:     parsed.Version,
		Name:        parsed.Name,
		Description: parsed.Description,
		Variables:   make(map[string]VariableDef, len(parsed.Variables)),
	}
	for _, v := range parsed.Variables {
		dsl.Variables[v.Name] = VariableDef{Type: v.Type, Description: v.Description, Required: v.Required}
	}

	for _, n := range parsed.Nodes {
		def := NodeDef{ID: n.ID, Type: n.Type}
		if n.Config != nil {
			val, diags := n.Config.Value(evalCtx)
			if diags.HasErrors() {
				return nil, fmt.Errorf("node %s: failed to evaluate config: %s", n.ID, diags.Error())
			}
			cfg, err := ctyToNative(val)
			if err != nil {
				return nil, fmt.Errorf("node %s: %w", n.ID, err)
			}
			if cfg != nil {
				m, ok := cfg.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("node %s: config must be an object, got %s", n.ID, val.Type().FriendlyName())
				}
				def.Config = m
			}
		}
		for _, h := range n.Handles {
			if def.Handles == nil {
				def.Handles = make(map[string][]HandleDef)
			}
			def.Handles[h.Group] = append(def.Handles[h.Group], HandleDef{ID: h.ID, Name: h.Name, Description: h.Description})
		}
		dsl.Nodes = append(dsl.Nodes, def)
	}

	for _, e := range parsed.Edges {
		dsl.Edges = append(dsl.Edges, EdgeDef{
			ID:           e.ID,
			Source:       e.Source,
			SourceHandle: e.SourceHandle,
			Target:       e.Target,
			TargetHandle: e.TargetHandle,
		})
	}

	return p.build(dsl, &Validator{literalConfig: true})
}

// resolveHCLVariables merges declared defaults with caller overrides.
func (p *Parser) resolveHCLVariables(defs []hclVariable) (map[string]cty.Value, error) {
	vars := make(map[string]cty.Value, len(defs))
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		names = append(names, def.Name)
		if override, ok := p.overrides[def.Name]; ok {
			v, err := toCtyValue(override)
			if err != nil {
				return nil, fmt.Errorf("variable %s: %w", def.Name, err)
			}
			vars[def.Name] = v
			continue
		}
		if !def.Default.IsNull() {
			vars[def.Name] = def.Default
			continue
		}
		if def.Required {
			return nil, fmt.Errorf("variable %s is required", def.Name)
		}
		vars[def.Name] = cty.NullVal(cty.DynamicPseudoType)
	}
	sort.Strings(names)
	for i := 1; i < len(names); i++ {
		if names[i] == names[i-1] {
			return nil, fmt.Errorf("duplicate variable: %s", names[i])
		}
	}
	return vars, nil
}

// toCtyValue converts an arbitrary JSON-compatible Go value via its JSON form.
func toCtyValue(v any) (cty.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return cty.NilVal, fmt.Errorf("unable to encode value: %w", err)
	}
	ty, err := ctyjson.ImpliedType(data)
	if err != nil {
		return cty.NilVal, fmt.Errorf("unable to infer cty.Type: %w", err)
	}
	return ctyjson.Unmarshal(data, ty)
}

// ctyToNative recursively converts a cty.Value to its most natural Go counterpart.
func ctyToNative(v cty.Value) (any, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, nil
	}

	ty := v.Type()

	switch {
	case ty == cty.String:
		return v.AsString(), nil

	case ty == cty.Number:
		var f float64
		if err := gocty.FromCtyValue(v, &f); err != nil {
			return nil, fmt.Errorf("could not convert cty.Number to float64: %w", err)
		}
		return f, nil

	case ty == cty.Bool:
		return v.True(), nil

	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		slice := make([]any, 0, v.LengthInt())
		it := v.ElementIterator()
		for it.Next() {
			_, val := it.Element()
			native, err := ctyToNative(val)
			if err != nil {
				return nil, err
			}
			slice = append(slice, native)
		}
		return slice, nil

	case ty.IsObjectType() || ty.IsMapType():
		goMap := make(map[string]any)
		it := v.ElementIterator()
		for it.Next() {
			key, val := it.Element()
			native, err := ctyToNative(val)
			if err != nil {
				return nil, fmt.Errorf("in attribute '%s': %w", key.AsString(), err)
			}
			goMap[key.AsString()] = native
		}
		return goMap, nil

	default:
		return nil, fmt.Errorf("unsupported cty type: %s", ty.FriendlyName())
	}
}
