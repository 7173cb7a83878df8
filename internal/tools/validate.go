package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// ValidateArgs checks args against the tool's input schema: every required
// key present, no unknown keys, and each value of its declared JSON type.
// All problems are reported together.
func ValidateArgs(def mcp.Tool, args map[string]any) error {
	schema := def.InputSchema
	var problems []string

	for _, key := range schema.Required {
		if _, ok := args[key]; !ok {
			problems = append(problems, fmt.Sprintf("missing required argument %q", key))
		}
	}

	keys := make([]string, 0, len(args))
	for key := range args {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		prop, known := schema.Properties[key]
		if !known {
			problems = append(problems, fmt.Sprintf("unknown argument %q", key))
			continue
		}
		propSchema, _ := prop.(map[string]any)
		if err := checkValue(propSchema, args[key]); err != nil {
			problems = append(problems, fmt.Sprintf("argument %q: %v", key, err))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

func checkValue(schema map[string]any, value any) error {
	if schema == nil {
		return nil
	}

	typ, _ := schema["type"].(string)
	if typ != "" && !matchesType(typ, value) {
		return fmt.Errorf("expected %s, got %s", typ, jsonTypeOf(value))
	}

	if enum, ok := schema["enum"]; ok {
		if !inEnum(enum, value) {
			return fmt.Errorf("value %v is not one of %v", value, enum)
		}
	}

	if typ == "array" {
		items, _ := schema["items"].(map[string]any)
		if items != nil {
			for i, item := range toSlice(value) {
				if err := checkValue(items, item); err != nil {
					return fmt.Errorf("item %d: %w", i, err)
				}
			}
		}
	}
	return nil
}

func matchesType(typ string, value any) bool {
	switch typ {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "number":
		_, ok := toFloat(value)
		return ok
	case "integer":
		f, ok := toFloat(value)
		return ok && f == math.Trunc(f)
	case "array":
		return toSlice(value) != nil
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "null":
		return value == nil
	default:
		return true
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toSlice(value any) []any {
	switch v := value.(type) {
	case []any:
		if v == nil {
			return []any{}
		}
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	default:
		return nil
	}
}

func inEnum(enum any, value any) bool {
	switch options := enum.(type) {
	case []string:
		s, ok := value.(string)
		if !ok {
			return false
		}
		for _, opt := range options {
			if opt == s {
				return true
			}
		}
		return false
	case []any:
		for _, opt := range options {
			if opt == value {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func jsonTypeOf(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	}
	if _, ok := toFloat(value); ok {
		return "number"
	}
	if toSlice(value) != nil {
		return "array"
	}
	return fmt.Sprintf("%T", value)
}
