// Package tools holds the tool registry: declarative tool descriptors bound
// to Go functions, the call schemas advertised to the model, and validated
// execution of model-issued tool calls.
package tools

import (
	"fmt"

	"github.com/martinemde/observagent/llm"
)

// ParamType is the JSON Schema type of a tool parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

func (t ParamType) valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeArray, TypeObject:
		return true
	}
	return false
}

// Param declares one named parameter of a tool.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	// Default is filled in when the caller omits an optional parameter.
	Default any
	Enum    []string
	// Items is the element type of an array parameter; strings when unset.
	Items ParamType
}

// Descriptor is the immutable metadata of a registered tool.
type Descriptor struct {
	Name        string
	Description string
	// Category groups tools for per-agent subsets, e.g. "research".
	Category string
	Params   []Param
}

// DefaultCategory is used when a descriptor leaves Category empty.
const DefaultCategory = "general"

func (d Descriptor) validate() error {
	if d.Name == "" {
		return fmt.Errorf("tool descriptor has no name")
	}
	seen := make(map[string]bool, len(d.Params))
	for _, p := range d.Params {
		if p.Name == "" {
			return fmt.Errorf("tool %q: parameter with empty name", d.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("tool %q: duplicate parameter %q", d.Name, p.Name)
		}
		seen[p.Name] = true
		if !p.Type.valid() {
			return fmt.Errorf("tool %q: parameter %q has unsupported type %q", d.Name, p.Name, p.Type)
		}
		if p.Items != "" && !p.Items.valid() {
			return fmt.Errorf("tool %q: parameter %q has unsupported item type %q", d.Name, p.Name, p.Items)
		}
	}
	return nil
}

// Schema is a JSON-Schema-like document.
type Schema = map[string]any

// ParametersSchema returns the JSON Schema object describing the arguments.
// Unknown keys are rejected.
func (d Descriptor) ParametersSchema() Schema {
	props := make(map[string]any, len(d.Params))
	required := make([]string, 0, len(d.Params))
	for _, p := range d.Params {
		prop := map[string]any{"type": string(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		if len(p.Enum) > 0 {
			enum := make([]any, len(p.Enum))
			for i, v := range p.Enum {
				enum[i] = v
			}
			prop["enum"] = enum
		}
		if p.Type == TypeArray {
			items := p.Items
			if items == "" {
				items = TypeString
			}
			prop["items"] = map[string]any{"type": string(items)}
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return Schema{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

// CallSchema builds the function-calling schema for d, in the shape
// completion APIs accept with strict argument validation enabled.
func CallSchema(d Descriptor) Schema {
	def := d.Definition()
	return Schema{
		"type": "function",
		"function": map[string]any{
			"name":        def.Name,
			"description": def.Description,
			"parameters":  def.Parameters,
			"strict":      def.Strict,
		},
	}
}

// Definition converts d into the tool definition sent with completion requests.
func (d Descriptor) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        d.Name,
		Description: d.Description,
		Parameters:  d.ParametersSchema(),
		Strict:      true,
	}
}
