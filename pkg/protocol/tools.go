package protocol

import (
	"encoding/json"
	"fmt"
)

// ToolDefinition is the format-neutral tool definition the broker carries
// between translation and dispatch.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ParseToolDefinitions repairs a raw tool array. Real traffic mixes the
// Anthropic shape (name+input_schema), the OpenAI shape
// (type:function+function), flattened hybrids, JSON-encoded strings, and
// plain junk. Junk entries and nameless entries are dropped with a warning;
// everything with a usable name survives.
func ParseToolDefinitions(raw []json.RawMessage) ([]ToolDefinition, []string) {
	var (
		tools    []ToolDefinition
		warnings []string
	)

	for i, entry := range raw {
		obj, ok := decodeToolEntry(entry)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("tool %d: not an object, dropped", i))
			continue
		}

		def, ok := toolFromObject(obj)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("tool %d: no usable name, dropped", i))
			continue
		}
		tools = append(tools, def)
	}

	return tools, warnings
}

// decodeToolEntry accepts an object directly or an object serialized into a
// JSON string; anything else is junk.
func decodeToolEntry(entry json.RawMessage) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal(entry, &obj); err == nil {
		return obj, true
	}

	var s string
	if err := json.Unmarshal(entry, &s); err == nil {
		if err := json.Unmarshal([]byte(s), &obj); err == nil {
			return obj, true
		}
	}
	return nil, false
}

// toolFromObject detects the entry's shape and normalizes it.
func toolFromObject(obj map[string]any) (ToolDefinition, bool) {
	// OpenAI shape: {type:"function", function:{name, description, parameters}}.
	if fn, ok := obj["function"].(map[string]any); ok {
		def := ToolDefinition{
			Name:        stringField(fn, "name"),
			Description: stringField(fn, "description"),
		}
		if params, ok := fn["parameters"].(map[string]any); ok {
			def.Parameters = params
		}
		// Mixed entries sometimes carry the schema at the top level.
		if def.Parameters == nil {
			if schema, ok := obj["input_schema"].(map[string]any); ok {
				def.Parameters = schema
			}
		}
		if def.Name == "" {
			def.Name = stringField(obj, "name")
		}
		return def, def.Name != ""
	}

	// Anthropic shape: {name, description, input_schema}.
	def := ToolDefinition{
		Name:        stringField(obj, "name"),
		Description: stringField(obj, "description"),
	}
	if schema, ok := obj["input_schema"].(map[string]any); ok {
		def.Parameters = schema
	} else if params, ok := obj["parameters"].(map[string]any); ok {
		// Flattened OpenAI hybrid without the function wrapper.
		def.Parameters = params
	}
	return def, def.Name != ""
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
