package request

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cast"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/openapi2mcp"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/server"
	"github.com/xeipuuv/gojsonschema"
)

// prepareArguments copies args, drops nulls and the stripped parameter, checks
// required arguments and coerces values to their declared types.
func (b *Builder) prepareArguments(tool *openapi2mcp.ToolDefinition, args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if v == nil || (b.stripParam != "" && k == b.stripParam) {
			continue
		}
		out[k] = v
	}

	var missing []string
	for _, binding := range tool.Arguments {
		if !binding.Required {
			continue
		}
		if _, ok := out[binding.Property]; !ok {
			missing = append(missing, binding.Property)
		}
	}
	if len(missing) > 0 {
		return nil, server.NewError(server.ErrorTypeMissingArgument,
			"missing required argument(s): "+strings.Join(missing, ", "), tool.Name)
	}

	for _, binding := range tool.Arguments {
		value, ok := out[binding.Property]
		if !ok {
			continue
		}
		coerced, err := coerce(value, binding.Schema)
		if err != nil {
			return nil, server.NewError(server.ErrorTypeInvalidArgument,
				fmt.Sprintf("argument %q: %v", binding.Property, err), tool.Name)
		}
		out[binding.Property] = coerced
	}

	if validator := b.validator(tool); validator != nil {
		result, err := validator.Validate(gojsonschema.NewGoLoader(out))
		if err != nil {
			return nil, server.Wrap(err, server.ErrorTypeInvalidArgument, "failed to validate arguments")
		}
		if !result.Valid() {
			msgs := make([]string, 0, len(result.Errors()))
			for _, e := range result.Errors() {
				msgs = append(msgs, e.String())
			}
			sort.Strings(msgs)
			return nil, server.NewError(server.ErrorTypeInvalidArgument,
				"invalid argument(s): "+strings.Join(msgs, "; "), tool.Name)
		}
	}
	return out, nil
}

// coerce converts lenient scalar input ("5" for an integer, "true" for a
// boolean) to the type declared by schema. Values without a declared type are
// returned unchanged.
func coerce(value any, schema map[string]any) (any, error) {
	t, _ := schema["type"].(string)
	switch t {
	case "integer":
		if _, isBool := value.(bool); isBool {
			return nil, fmt.Errorf("expected integer, got boolean")
		}
		if f, isFloat := value.(float64); isFloat && f != math.Trunc(f) {
			return nil, fmt.Errorf("expected integer, got %v", f)
		}
		if s, isString := value.(string); isString {
			return parseDecimalInt(s)
		}
		n, err := cast.ToInt64E(value)
		if err != nil {
			return nil, fmt.Errorf("expected integer, got %s", describeValue(value))
		}
		return n, nil
	case "number":
		if _, isBool := value.(bool); isBool {
			return nil, fmt.Errorf("expected number, got boolean")
		}
		if s, isString := value.(string); isString {
			return parseDecimalFloat(s)
		}
		f, err := cast.ToFloat64E(value)
		if err != nil {
			return nil, fmt.Errorf("expected number, got %s", describeValue(value))
		}
		return f, nil
	case "boolean":
		b, err := cast.ToBoolE(value)
		if err != nil {
			return nil, fmt.Errorf("expected boolean, got %s", describeValue(value))
		}
		return b, nil
	case "string":
		switch value.(type) {
		case map[string]any, []any:
			return nil, fmt.Errorf("expected string, got %s", describeValue(value))
		}
		s, err := cast.ToStringE(value)
		if err != nil {
			return nil, fmt.Errorf("expected string, got %s", describeValue(value))
		}
		return s, nil
	case "array":
		items, err := toSlice(value)
		if err != nil {
			return nil, err
		}
		itemSchema, _ := schema["items"].(map[string]any)
		for i, item := range items {
			if item == nil {
				continue
			}
			c, err := coerce(item, itemSchema)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			items[i] = c
		}
		return items, nil
	case "object":
		if s, ok := value.(string); ok {
			var m map[string]any
			if err := json.Unmarshal([]byte(s), &m); err != nil {
				return nil, fmt.Errorf("expected object, got %s", describeValue(value))
			}
			return m, nil
		}
		if _, ok := value.(map[string]any); !ok {
			return nil, fmt.Errorf("expected object, got %s", describeValue(value))
		}
		return value, nil
	}
	return value, nil
}

// parseDecimalInt parses JSON style integers. Leading zeros ("010"), hex
// ("0x10"), digit separators and empty text are rejected; "3.0" is 3.
func parseDecimalInt(s string) (any, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, fmt.Errorf("expected integer, got empty string")
	}
	if !numberPattern.MatchString(trimmed) {
		return nil, fmt.Errorf("expected integer, got %s", describeValue(s))
	}
	if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) >= 1<<53 {
		return nil, fmt.Errorf("expected integer, got %s", describeValue(s))
	}
	return int64(f), nil
}

// parseDecimalFloat parses JSON style numbers.
func parseDecimalFloat(s string) (any, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, fmt.Errorf("expected number, got empty string")
	}
	if !numberPattern.MatchString(trimmed) {
		return nil, fmt.Errorf("expected number, got %s", describeValue(s))
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return nil, fmt.Errorf("expected number, got %s", describeValue(s))
	}
	return f, nil
}

var numberPattern = regexp.MustCompile(`^[+-]?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)

// toSlice accepts a JSON array, a JSON-encoded array string or a single scalar.
func toSlice(value any) ([]any, error) {
	switch v := value.(type) {
	case []any:
		out := make([]any, len(v))
		copy(out, v)
		return out, nil
	case string:
		trimmed := strings.TrimSpace(v)
		if strings.HasPrefix(trimmed, "[") {
			var items []any
			if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
				return nil, fmt.Errorf("expected array, got %s", describeValue(value))
			}
			return items, nil
		}
		return []any{v}, nil
	case map[string]any:
		return nil, fmt.Errorf("expected array, got object")
	default:
		s, err := cast.ToSliceE(value)
		if err != nil {
			return []any{value}, nil
		}
		return s, nil
	}
}

func describeValue(value any) string {
	switch v := value.(type) {
	case string:
		if len(v) > 40 {
			v = v[:40] + "..."
		}
		return fmt.Sprintf("string %q", v)
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T %v", value, value)
	}
}

// validationSchema strips the keywords that are checked elsewhere (required,
// additionalProperties) or that the validator cannot interpret reliably
// (format, pattern use ECMA dialects).
func validationSchema(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			switch k {
			case "format", "pattern", "example", "readOnly":
				continue
			case "properties":
				if props, ok := item.(map[string]any); ok {
					stripped := make(map[string]any, len(props))
					for name, p := range props {
						stripped[name] = validationSchema(p)
					}
					out[k] = stripped
					continue
				}
			}
			out[k] = validationSchema(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = validationSchema(item)
		}
		return out
	default:
		return v
	}
}

// compileValidator builds the argument validator for a tool. Tools whose schema
// cannot be compiled are not validated beyond coercion.
func compileValidator(tool *openapi2mcp.ToolDefinition) (*gojsonschema.Schema, error) {
	schema, _ := validationSchema(tool.InputSchema).(map[string]any)
	delete(schema, "required")
	delete(schema, "additionalProperties")
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
}
