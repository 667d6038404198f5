package agent

import (
	"google.golang.org/genai"

	"github.com/harun/hostpilot/pkg/toolexecutor"
)

var geminiTypes = map[string]genai.Type{
	"string":  genai.TypeString,
	"integer": genai.TypeInteger,
	"number":  genai.TypeNumber,
	"boolean": genai.TypeBoolean,
	"array":   genai.TypeArray,
	"object":  genai.TypeObject,
}

func geminiType(name string) genai.Type {
	if t, ok := geminiTypes[name]; ok {
		return t
	}
	return genai.TypeString
}

// geminiSchema converts tool parameters into Gemini's OpenAPI subset,
// keeping declaration order.
func geminiSchema(def toolexecutor.ToolDefinition) *genai.Schema {
	schema := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: make(map[string]*genai.Schema, len(def.Parameters)),
	}
	for _, p := range def.Parameters {
		prop := &genai.Schema{
			Type:        geminiType(p.Type),
			Description: p.Description,
			Default:     p.Default,
		}
		if len(p.Enum) > 0 {
			prop.Enum = append([]string(nil), p.Enum...)
			prop.Format = "enum"
		}
		if p.Type == "array" {
			items := p.Items
			if items == "" {
				items = "string"
			}
			prop.Items = &genai.Schema{Type: geminiType(items)}
		}
		schema.Properties[p.Name] = prop
		schema.PropertyOrdering = append(schema.PropertyOrdering, p.Name)
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	return schema
}
