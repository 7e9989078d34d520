package loader

import (
	"bytes"
	"fmt"
	"time"

	"github.com/starlake-ai/mcp-openapi-proxy/pkg/server"
	"gopkg.in/yaml.v3"
)

// RawDocument is a fetched spec parsed into a generic tree.
type RawDocument struct {
	Location string
	Bytes    []byte
	// Tree holds the parsed document. Every mapping is a map[string]any so the
	// tree can be marshalled back to JSON.
	Tree map[string]any
	// PathOrder lists the keys of the "paths" object in document order.
	PathOrder []string
	// Format is "json" or "yaml".
	Format string
}

// Parse parses JSON or YAML spec content. JSON is handled by the YAML parser,
// which also preserves the order of the "paths" keys.
func Parse(location string, data []byte) (*RawDocument, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, server.Wrap(err, server.ErrorTypeSpecNotJSON, "spec is not valid JSON or YAML")
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, server.NewError(server.ErrorTypeSpecNotJSON, "spec is empty", location)
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, server.NewError(server.ErrorTypeSpecNotJSON, "spec top level is not an object", location)
	}

	var decoded map[string]any
	if err := doc.Decode(&decoded); err != nil {
		return nil, server.Wrap(err, server.ErrorTypeSpecNotJSON, "failed to decode spec")
	}
	tree, _ := normalizeValue(decoded).(map[string]any)

	format := "yaml"
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		format = "json"
	}

	return &RawDocument{
		Location:  location,
		Bytes:     data,
		Tree:      tree,
		PathOrder: mappingKeys(doc, "paths"),
		Format:    format,
	}, nil
}

// mappingKeys returns the keys of the mapping stored under key, in order.
func mappingKeys(mapping *yaml.Node, key string) []string {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value != key {
			continue
		}
		value := mapping.Content[i+1]
		if value.Kind == yaml.AliasNode && value.Alias != nil {
			value = value.Alias
		}
		if value.Kind != yaml.MappingNode {
			return nil
		}
		keys := make([]string, 0, len(value.Content)/2)
		for j := 0; j+1 < len(value.Content); j += 2 {
			keys = append(keys, value.Content[j].Value)
		}
		return keys
	}
	return nil
}

// normalizeValue converts YAML-specific values into their JSON equivalents:
// non-string mapping keys (unquoted response codes) and timestamps.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeValue(item)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalizeValue(item)
		}
		return out
	case []any:
		for i, item := range val {
			val[i] = normalizeValue(item)
		}
		return val
	case time.Time:
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 && val.Nanosecond() == 0 {
			return val.Format("2006-01-02")
		}
		return val.Format(time.RFC3339)
	default:
		return v
	}
}
