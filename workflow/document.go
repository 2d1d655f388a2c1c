package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is the serialized form of an editor graph: the compiler input.
type Document struct {
	Name  string `json:"name,omitempty" yaml:"name,omitempty"`
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Edges []Edge `json:"edges" yaml:"edges"`
}

// Compile prepares the document with c, or the default compiler when c is nil.
func (d *Document) Compile(c *Compiler) *WorkflowDefinition {
	if c == nil {
		c = defaultCompiler
	}
	return c.Prepare(d.Nodes, d.Edges)
}

// ToJSON converts a Document to an indented JSON string.
func (d *Document) ToJSON() (string, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal to JSON: %w", err)
	}
	return string(data), nil
}

// ToYAML converts a Document to a YAML string.
func (d *Document) ToYAML() (string, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal to YAML: %w", err)
	}
	return string(data), nil
}

// DocumentFromJSON parses a Document from JSON.
func DocumentFromJSON(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal from JSON: %w", err)
	}
	if err := doc.Check(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &doc, nil
}

// DocumentFromYAML parses a Document from YAML.
func DocumentFromYAML(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal from YAML: %w", err)
	}
	if err := doc.Check(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &doc, nil
}

// LoadDocumentFile reads a .json, .yaml or .yml document.
func LoadDocumentFile(filename string) (*Document, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		return DocumentFromJSON(data)
	case ".yaml", ".yml":
		return DocumentFromYAML(data)
	default:
		return nil, fmt.Errorf("unsupported document format %q", filepath.Ext(filename))
	}
}

// SaveToJSONFile writes the document as JSON.
func (d *Document) SaveToJSONFile(filename string) error {
	jsonStr, err := d.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal document to JSON: %w", err)
	}
	if err := os.WriteFile(filename, []byte(jsonStr), 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// SaveToYAMLFile writes the document as YAML.
func (d *Document) SaveToYAMLFile(filename string) error {
	yamlStr, err := d.ToYAML()
	if err != nil {
		return fmt.Errorf("marshal document to YAML: %w", err)
	}
	if err := os.WriteFile(filename, []byte(yamlStr), 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// Check rejects documents that cannot describe a graph at all: missing
// ids or types. Graph-level problems are left to the compiler.
func (d *Document) Check() error {
	for i, n := range d.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node %d: id is required", i)
		}
		if n.Type == "" {
			return fmt.Errorf("node %q: type is required", n.ID)
		}
	}
	for i, e := range d.Edges {
		if e.Source == "" || e.Target == "" {
			return fmt.Errorf("edge %d: source and target are required", i)
		}
		if e.SourceHandle == "" || e.TargetHandle == "" {
			return fmt.Errorf("edge %d: sourceHandle and targetHandle are required", i)
		}
	}
	return nil
}
