// schema.go
package openapi2mcp

import (
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"go.uber.org/zap"
)

// escapeParameterName converts parameter names with brackets to MCP-compatible names.
// For example: "filter[created_at]" becomes "filter_created_at_"
// The trailing underscore distinguishes escaped names from naturally occurring names.
func escapeParameterName(name string) string {
	if !strings.Contains(name, "[") && !strings.Contains(name, "]") {
		return name
	}

	escaped := strings.ReplaceAll(name, "[", "_")
	escaped = strings.ReplaceAll(escaped, "]", "_")

	if !strings.HasSuffix(escaped, "_") {
		escaped += "_"
	}
	return escaped
}

// mergeOneOfSchemas creates a unified schema that accepts any of the oneOf variants.
// Object variants are merged into a single object; a field is only required when
// every variant requires it. Variants that are not objects produce an anyOf.
func mergeOneOfSchemas(oneOf []*openapi3.SchemaRef, doc *openapi3.T, visiting map[*openapi3.Schema]bool) map[string]any {
	allObjects := true
	for _, ref := range oneOf {
		if ref == nil || ref.Value == nil {
			continue
		}
		if len(ref.Value.Properties) == 0 && (ref.Value.Type == nil || !ref.Value.Type.Is("object")) {
			allObjects = false
		}
	}
	if !allObjects {
		variants := []any{}
		for _, ref := range oneOf {
			if sub := extractSchema(ref, doc, visiting); sub != nil {
				variants = append(variants, sub)
			}
		}
		return map[string]any{"anyOf": variants}
	}

	merged := map[string]any{
		"type": "object",
	}
	allProperties := make(map[string]any)
	requiredCount := make(map[string]int)
	totalSchemas := 0

	for _, ref := range oneOf {
		if ref == nil || ref.Value == nil {
			continue
		}
		totalSchemas++
		for propName, propRef := range ref.Value.Properties {
			if propSchema := extractSchema(propRef, doc, visiting); propSchema != nil {
				allProperties[propName] = propSchema
			}
		}
		for _, req := range ref.Value.Required {
			requiredCount[req]++
		}
	}

	if len(allProperties) > 0 {
		merged["properties"] = allProperties
	}

	var allRequired []string
	for field, count := range requiredCount {
		if count == totalSchemas {
			allRequired = append(allRequired, field)
		}
	}
	if len(allRequired) > 0 {
		sort.Strings(allRequired)
		merged["required"] = allRequired
	}

	merged["description"] = fmt.Sprintf("Accepts any of %d possible schema variants (oneOf)", totalSchemas)
	return merged
}

// extractPropertyWithContext recursively extracts a property schema from an OpenAPI SchemaRef.
// Handles allOf, oneOf, anyOf, default, example and OpenAPI 3.1 type arrays.
// Recursive schemas are cut at the first repetition.
func extractPropertyWithContext(s *openapi3.SchemaRef, doc *openapi3.T) map[string]any {
	return extractSchema(s, doc, map[*openapi3.Schema]bool{})
}

func extractSchema(s *openapi3.SchemaRef, doc *openapi3.T, visiting map[*openapi3.Schema]bool) map[string]any {
	if s == nil || s.Value == nil {
		return nil
	}
	val := s.Value
	if visiting[val] {
		cut := map[string]any{"type": "object"}
		if s.Ref != "" {
			cut["description"] = "Recursive reference to " + s.Ref
		}
		return cut
	}
	visiting[val] = true
	defer delete(visiting, val)

	prop := map[string]any{}

	if len(val.AllOf) > 0 {
		mergeAllOf(prop, val.AllOf, doc, visiting)
	}
	if len(val.OneOf) > 0 {
		oneOf := mergeOneOfSchemas(val.OneOf, doc, visiting)
		if val.Description != "" {
			oneOf["description"] = val.Description
		}
		return oneOf
	}
	if len(val.AnyOf) > 0 {
		anyOf := []any{}
		for _, sub := range val.AnyOf {
			if subProp := extractSchema(sub, doc, visiting); subProp != nil {
				anyOf = append(anyOf, subProp)
			}
		}
		prop["anyOf"] = anyOf
	}

	if t := primaryType(val.Type); t != "" {
		prop["type"] = t
	}
	if val.Title != "" {
		prop["title"] = val.Title
	}
	if val.Format != "" {
		prop["format"] = val.Format
	}
	if val.Description != "" {
		prop["description"] = val.Description
	}
	if len(val.Enum) > 0 {
		prop["enum"] = val.Enum
	}
	if val.Default != nil {
		prop["default"] = val.Default
	}
	if val.Example != nil {
		prop["example"] = val.Example
	}
	if val.ReadOnly {
		prop["readOnly"] = true
	}
	if val.Min != nil {
		prop["minimum"] = *val.Min
	}
	if val.Max != nil {
		prop["maximum"] = *val.Max
	}
	if val.MinLength > 0 {
		prop["minLength"] = val.MinLength
	}
	if val.MaxLength != nil {
		prop["maxLength"] = *val.MaxLength
	}
	if val.Pattern != "" {
		prop["pattern"] = val.Pattern
	}
	if val.MinItems > 0 {
		prop["minItems"] = val.MinItems
	}
	if val.MaxItems != nil {
		prop["maxItems"] = *val.MaxItems
	}

	if len(val.Properties) > 0 {
		objProps, _ := prop["properties"].(map[string]any)
		if objProps == nil {
			objProps = map[string]any{}
		}
		for name, sub := range val.Properties {
			if subProp := extractSchema(sub, doc, visiting); subProp != nil {
				objProps[name] = subProp
			}
		}
		prop["properties"] = objProps
		if _, ok := prop["type"]; !ok && len(val.AllOf) == 0 {
			prop["type"] = "object"
		}
		if len(val.Required) > 0 {
			prop["required"] = appendUnique(toStrings(prop["required"]), val.Required...)
		}
	}
	if val.AdditionalProperties.Schema != nil {
		if sub := extractSchema(val.AdditionalProperties.Schema, doc, visiting); sub != nil {
			prop["additionalProperties"] = sub
		}
	}
	if val.Items != nil {
		if items := extractSchema(val.Items, doc, visiting); items != nil {
			prop["items"] = items
		}
	}
	return prop
}

// mergeAllOf folds allOf members into prop, combining properties and required lists.
func mergeAllOf(prop map[string]any, allOf openapi3.SchemaRefs, doc *openapi3.T, visiting map[*openapi3.Schema]bool) {
	properties := map[string]any{}
	var required []string
	for _, sub := range allOf {
		subProp := extractSchema(sub, doc, visiting)
		for k, v := range subProp {
			switch k {
			case "properties":
				if m, ok := v.(map[string]any); ok {
					for name, p := range m {
						properties[name] = p
					}
				}
			case "required":
				required = appendUnique(required, toStrings(v)...)
			default:
				prop[k] = v
			}
		}
	}
	if len(properties) > 0 {
		prop["properties"] = properties
		prop["type"] = "object"
	}
	if len(required) > 0 {
		prop["required"] = required
	}
}

// primaryType returns the first non-null type of a schema.
func primaryType(types *openapi3.Types) string {
	if types == nil {
		return ""
	}
	for _, t := range types.Slice() {
		if t != "null" {
			return t
		}
	}
	return ""
}

func toStrings(v any) []string {
	switch val := v.(type) {
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func appendUnique(list []string, items ...string) []string {
	for _, item := range items {
		found := false
		for _, existing := range list {
			if existing == item {
				found = true
				break
			}
		}
		if !found {
			list = append(list, item)
		}
	}
	return list
}

// isObjectWithProperties reports whether a body schema can be flattened into
// individual arguments.
func isObjectWithProperties(schema map[string]any) bool {
	props, ok := schema["properties"].(map[string]any)
	if !ok || len(props) == 0 {
		return false
	}
	t, _ := schema["type"].(string)
	return t == "" || t == "object"
}

// BuildInputSchema converts the parameters and request body of an operation into a
// single flat JSON Schema object, plus the bindings telling the request builder
// where each argument goes.
//
// Parameters come first. Body fields are added next to them; when a body field has
// the same name as a parameter the parameter wins and the field is dropped with a
// warning. A body that is not an object with properties becomes a single
// "requestBody" argument.
func BuildInputSchema(op *OperationDescriptor, log *zap.Logger) (map[string]any, []ArgumentBinding) {
	properties := map[string]any{}
	var required []string
	var bindings []ArgumentBinding

	for _, p := range op.Parameters {
		name := escapeParameterName(p.Name)
		if _, taken := properties[name]; taken {
			alt := name + "__" + p.In
			log.Warn("parameter name used in several locations, renaming argument",
				zap.String("operation", describe(op)), zap.String("parameter", p.Name),
				zap.String("in", p.In), zap.String("argument", alt))
			name = alt
		}
		prop := copySchema(p.Schema)
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if t, _ := prop["type"].(string); t == "string" && prop["format"] == "binary" {
			log.Warn("binary parameter is sent as a plain string",
				zap.String("operation", describe(op)), zap.String("parameter", p.Name))
		}
		properties[name] = prop
		if p.Required {
			required = append(required, name)
		}
		bindings = append(bindings, ArgumentBinding{
			Property: name,
			Name:     p.Name,
			In:       p.In,
			Required: p.Required,
			Schema:   prop,
			Explode:  p.Explode,
			Style:    p.Style,
		})
	}

	if body := op.RequestBody; body != nil {
		if isObjectWithProperties(body.Schema) {
			fields, _ := body.Schema["properties"].(map[string]any)
			bodyRequired := toStrings(body.Schema["required"])
			names := make([]string, 0, len(fields))
			for name := range fields {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				field, _ := fields[name].(map[string]any)
				if field == nil {
					field = map[string]any{}
				}
				if readOnly, _ := field["readOnly"].(bool); readOnly {
					continue
				}
				if _, taken := properties[name]; taken {
					log.Warn("body field shadowed by parameter with the same name",
						zap.String("operation", describe(op)), zap.String("field", name))
					continue
				}
				isRequired := false
				for _, r := range bodyRequired {
					if r == name {
						isRequired = true
						break
					}
				}
				properties[name] = field
				if isRequired {
					required = append(required, name)
				}
				bindings = append(bindings, ArgumentBinding{
					Property: name,
					Name:     name,
					In:       InBody,
					Required: isRequired,
					Schema:   field,
				})
			}
		} else {
			name := RequestBodyProperty
			if _, taken := properties[name]; taken {
				log.Warn("request body shadowed by parameter named requestBody",
					zap.String("operation", describe(op)))
			} else {
				prop := copySchema(body.Schema)
				desc := body.Description
				if desc == "" {
					desc = "The JSON request body."
				}
				prop["description"] = desc
				properties[name] = prop
				if body.Required {
					required = append(required, name)
				}
				bindings = append(bindings, ArgumentBinding{
					Property: name,
					Name:     name,
					In:       InBodyWhole,
					Required: body.Required,
					Schema:   prop,
				})
			}
		}
	}

	schema := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema, bindings
}

func copySchema(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema)+1)
	for k, v := range schema {
		out[k] = v
	}
	return out
}
