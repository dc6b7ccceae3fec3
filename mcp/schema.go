// Package mcp implements the device-side half of the JSON-RPC 2.0 "model
// context" tool protocol: a registry of host-declared tools, their
// serialization to the tools/list wire shape, and the
// initialize/tools/list/tools/call dispatch. Grounded on
// original_source/src/core/ai_vox_mcp_tool_manager.h and
// ai_vox_types.h's ParamSchema<T> family.
package mcp

import (
	"sort"

	"github.com/aivox/voxengine/model"
)

// ParamKind tags the JSON Schema type of a tool parameter.
type ParamKind int

const (
	ParamInteger ParamKind = iota
	ParamString
	ParamBoolean
)

// ParamSchema describes one parameter of a tool. Go has no template
// specialization, so the three variants from ParamSchema<T> in the
// original collapse into one struct gated by Kind; Min/Max only apply to
// ParamInteger.
type ParamSchema struct {
	Kind    ParamKind
	Default *model.Variant
	Min     *int64
	Max     *int64
}

// Required reports whether this parameter has no default value, kept as
// a pure function so it can be tested independently of any JSON
// serialization.
func (p ParamSchema) Required() bool { return p.Default == nil }

func IntegerParam(def, min, max *int64) ParamSchema {
	var d *model.Variant
	if def != nil {
		v := model.NewIntVariant(*def)
		d = &v
	}
	return ParamSchema{Kind: ParamInteger, Default: d, Min: min, Max: max}
}

func StringParam(def *string) ParamSchema {
	var d *model.Variant
	if def != nil {
		v := model.NewStringVariant(*def)
		d = &v
	}
	return ParamSchema{Kind: ParamString, Default: d}
}

func BoolParam(def *bool) ParamSchema {
	var d *model.Variant
	if def != nil {
		v := model.NewBoolVariant(*def)
		d = &v
	}
	return ParamSchema{Kind: ParamBoolean, Default: d}
}

// jsonSchema renders a single property's JSON Schema fragment, matching
// ParamSchema<T>::ToJson in ai_vox_types.h.
func (p ParamSchema) jsonSchema() map[string]any {
	out := map[string]any{}
	switch p.Kind {
	case ParamInteger:
		out["type"] = "integer"
		if p.Default != nil {
			out["default"] = p.Default.Int
		}
		if p.Min != nil {
			out["minimum"] = *p.Min
		}
		if p.Max != nil {
			out["maximum"] = *p.Max
		}
	case ParamString:
		out["type"] = "string"
		if p.Default != nil {
			out["default"] = p.Default.Str
		}
	case ParamBoolean:
		out["type"] = "boolean"
		if p.Default != nil {
			out["default"] = p.Default.Bool
		}
	}
	return out
}

// Tool is a host-registered capability: a description plus its parameter
// schema map, matching mcp::Tool in the original.
type Tool struct {
	Description string
	Params      map[string]ParamSchema
}

// inputSchema renders the {type:"object", properties, required} shape
// tools/list embeds for this tool, matching mcp::Tool::ToJson.
func (t Tool) inputSchema() map[string]any {
	properties := map[string]any{}
	var required []string
	for name, schema := range t.Params {
		properties[name] = schema.jsonSchema()
		if schema.Required() {
			required = append(required, name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sort.Strings(required)
		schema["required"] = required
	}
	return schema
}
