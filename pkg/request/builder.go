// Package request turns tool invocations into HTTP requests and executes them
// against the upstream API.
package request

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/cast"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/auth"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/openapi2mcp"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/server"
	"github.com/xeipuuv/gojsonschema"
	"github.com/yosida95/uritemplate/v3"
	"go.uber.org/zap"
)

// BuiltRequest is a fully resolved upstream request.
type BuiltRequest struct {
	ToolName string
	Method   string
	URL      string
	Header   http.Header
	Body     []byte
}

// HTTPRequest creates the net/http request bound to ctx.
func (r *BuiltRequest) HTTPRequest(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, err
	}
	req.Header = r.Header.Clone()
	return req, nil
}

// BuilderOptions configures a Builder.
type BuilderOptions struct {
	// DefaultServerURL is the spec level base URL.
	DefaultServerURL string
	// ServerURLOverride replaces DefaultServerURL when set.
	ServerURLOverride string
	ExtraHeaders      http.Header
	// StripParam names an argument that is silently dropped.
	StripParam string
	Auth       auth.Strategy
}

// Builder maps tool arguments onto HTTP requests. It is safe for concurrent use.
type Builder struct {
	defaultServer  string
	serverOverride string
	extraHeaders   http.Header
	stripParam     string
	auth           auth.Strategy
	log            *zap.Logger

	mu         sync.Mutex
	validators map[string]*gojsonschema.Schema
}

// NewBuilder creates a request builder.
func NewBuilder(opts BuilderOptions, log *zap.Logger) *Builder {
	strategy := opts.Auth
	if strategy == nil {
		strategy = auth.NoAuth{}
	}
	return &Builder{
		defaultServer:  strings.TrimRight(opts.DefaultServerURL, "/"),
		serverOverride: strings.TrimRight(opts.ServerURLOverride, "/"),
		extraHeaders:   opts.ExtraHeaders,
		stripParam:     opts.StripParam,
		auth:           strategy,
		log:            log,
		validators:     map[string]*gojsonschema.Schema{},
	}
}

// validator returns the cached argument validator for tool, compiling it on
// first use. A nil result disables schema validation for the tool.
func (b *Builder) validator(tool *openapi2mcp.ToolDefinition) *gojsonschema.Schema {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.validators[tool.Name]; ok {
		return v
	}
	v, err := compileValidator(tool)
	if err != nil {
		b.log.Warn("input schema cannot be compiled, skipping argument validation",
			zap.String("tool", tool.Name), zap.Error(err))
		v = nil
	}
	b.validators[tool.Name] = v
	return v
}

// Build validates args against the tool and produces the upstream request.
// It fails with ErrorTypeMissingArgument or ErrorTypeInvalidArgument when the
// arguments do not fit the tool's input schema.
func (b *Builder) Build(ctx context.Context, tool *openapi2mcp.ToolDefinition, args map[string]any) (*BuiltRequest, error) {
	op := tool.Operation
	values, err := b.prepareArguments(tool, args)
	if err != nil {
		return nil, err
	}

	base, err := b.baseURL(op)
	if err != nil {
		return nil, err
	}
	path, err := expandPath(tool, values)
	if err != nil {
		return nil, err
	}

	payload := auth.NewPayload()
	hasBody := tool.HasBody() && bodyMethod(op.Method)
	payload.BodyAllowed = hasBody
	var bodyFields map[string]any
	var cookies []string

	setBodyField := func(name string, value any) {
		if bodyFields == nil {
			bodyFields = map[string]any{}
		}
		bodyFields[name] = value
	}

	// Declared arguments in binding order, then undeclared ones sorted by name.
	for _, binding := range tool.Arguments {
		value, ok := values[binding.Property]
		if !ok {
			continue
		}
		delete(values, binding.Property)

		switch binding.In {
		case openapi2mcp.InPath:
		case openapi2mcp.InQuery:
			addQuery(payload.Query, binding, value)
		case openapi2mcp.InHeader:
			payload.Header.Set(binding.Name, stringify(value))
		case openapi2mcp.InCookie:
			cookies = append(cookies, binding.Name+"="+url.QueryEscape(stringify(value)))
		case openapi2mcp.InBody:
			if hasBody {
				setBodyField(binding.Name, value)
			} else {
				addQuery(payload.Query, binding, value)
			}
		case openapi2mcp.InBodyWhole:
			if hasBody {
				payload.Body = value
			} else {
				payload.Query.Set(binding.Name, stringify(value))
			}
		}
	}

	extra := make([]string, 0, len(values))
	for name := range values {
		extra = append(extra, name)
	}
	sort.Strings(extra)
	for _, name := range extra {
		if hasBody {
			setBodyField(name, values[name])
		} else {
			addQuery(payload.Query, openapi2mcp.ArgumentBinding{Name: name, Explode: true}, values[name])
		}
	}

	if bodyFields != nil {
		if existing, ok := payload.Body.(map[string]any); ok {
			for k, v := range bodyFields {
				existing[k] = v
			}
		} else if payload.Body == nil {
			payload.Body = bodyFields
		}
	}
	if len(cookies) > 0 {
		payload.Header.Set("Cookie", strings.Join(cookies, "; "))
	}

	for name, vals := range b.extraHeaders {
		for i, v := range vals {
			if i == 0 {
				payload.Header.Set(name, v)
			} else {
				payload.Header.Add(name, v)
			}
		}
	}
	if payload.Header.Get("Accept") == "" {
		payload.Header.Set("Accept", "application/json")
	}
	if err := b.auth.Apply(payload); err != nil {
		return nil, err
	}

	target, err := url.Parse(base + path)
	if err != nil {
		return nil, server.Wrap(err, server.ErrorTypeInvalidArgument, "invalid request URL")
	}
	if len(payload.Query) > 0 {
		q := target.Query()
		for k, vs := range payload.Query {
			q[k] = vs
		}
		target.RawQuery = q.Encode()
	}

	built := &BuiltRequest{
		ToolName: tool.Name,
		Method:   op.Method,
		URL:      target.String(),
		Header:   payload.Header,
	}
	if payload.Body != nil && hasBody {
		contentType := "application/json"
		if op.RequestBody != nil && op.RequestBody.ContentType != "" {
			contentType = op.RequestBody.ContentType
		}
		body, err := encodeBody(payload.Body, contentType)
		if err != nil {
			return nil, server.Wrap(err, server.ErrorTypeInvalidArgument, "failed to encode request body")
		}
		built.Body = body
		built.Header.Set("Content-Type", contentType)
	}

	b.log.Debug("request built",
		zap.String("request_id", server.RequestIDFromContext(ctx)),
		zap.String("tool", tool.Name),
		zap.String("method", built.Method),
		zap.String("url", maskURL(built.URL)),
		zap.Int("body_bytes", len(built.Body)))
	return built, nil
}

// baseURL resolves the server for op: operation server, then the configured
// override, then the spec default.
func (b *Builder) baseURL(op *openapi2mcp.OperationDescriptor) (string, error) {
	fallback := b.serverOverride
	if fallback == "" {
		fallback = b.defaultServer
	}
	base := op.ServerURL
	if base == "" {
		base = fallback
	} else if strings.HasPrefix(base, "/") && fallback != "" {
		// Relative operation servers hang off the spec level host.
		if u, err := url.Parse(fallback); err == nil && u.Host != "" {
			base = u.Scheme + "://" + u.Host + base
		}
	}
	if base == "" {
		return "", server.NewError(server.ErrorTypeValidation,
			"no server URL", "the spec declares no servers; set SERVER_URL_OVERRIDE")
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return "", server.NewError(server.ErrorTypeValidation,
			"server URL is not absolute", base)
	}
	return strings.TrimRight(base, "/"), nil
}

// expandPath substitutes path placeholders with URL-encoded argument values.
func expandPath(tool *openapi2mcp.ToolDefinition, values map[string]any) (string, error) {
	path := tool.Operation.Path
	names := placeholders(path)
	if len(names) == 0 {
		return path, nil
	}

	resolved := make(map[string]string, len(names))
	var missing []string
	for _, name := range names {
		property := name
		for _, binding := range tool.Arguments {
			if binding.In == openapi2mcp.InPath && binding.Name == name {
				property = binding.Property
				break
			}
		}
		value, ok := values[property]
		if !ok {
			missing = append(missing, property)
			continue
		}
		delete(values, property)
		resolved[name] = pathValue(value)
	}
	if len(missing) > 0 {
		return "", server.NewError(server.ErrorTypeMissingArgument,
			"missing required argument(s): "+strings.Join(missing, ", "), tool.Name)
	}

	if tmpl, err := uritemplate.New(path); err == nil {
		vars := uritemplate.Values{}
		for name, value := range resolved {
			vars.Set(name, uritemplate.String(value))
		}
		if expanded, err := tmpl.Expand(vars); err == nil {
			return expanded, nil
		}
	}
	// Placeholder names that are not valid template variables, e.g. {user-id}.
	for name, value := range resolved {
		path = strings.ReplaceAll(path, "{"+name+"}", url.PathEscape(value))
	}
	return path, nil
}

func placeholders(path string) []string {
	var names []string
	for {
		start := strings.IndexByte(path, '{')
		if start < 0 {
			return names
		}
		end := strings.IndexByte(path[start:], '}')
		if end < 0 {
			return names
		}
		names = append(names, path[start+1:start+end])
		path = path[start+end+1:]
	}
}

// pathValue renders a path argument; arrays use the simple style "a,b,c".
func pathValue(value any) string {
	if items, ok := value.([]any); ok {
		parts := make([]string, 0, len(items))
		for _, item := range items {
			parts = append(parts, stringify(item))
		}
		return strings.Join(parts, ",")
	}
	return stringify(value)
}

// addQuery adds a query argument. Exploded arrays repeat the key, other arrays
// are comma separated, objects with deepObject style become key[field]=value.
func addQuery(q url.Values, binding openapi2mcp.ArgumentBinding, value any) {
	switch v := value.(type) {
	case []any:
		if binding.Explode {
			for _, item := range v {
				q.Add(binding.Name, stringify(item))
			}
			return
		}
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, stringify(item))
		}
		q.Set(binding.Name, strings.Join(parts, ","))
	case map[string]any:
		if binding.Style == "deepObject" {
			for k, item := range v {
				q.Set(binding.Name+"["+k+"]", stringify(item))
			}
			return
		}
		q.Set(binding.Name, stringify(v))
	default:
		q.Set(binding.Name, stringify(v))
	}
}

// stringify renders scalars as plain text and anything else as JSON.
func stringify(value any) string {
	switch v := value.(type) {
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
	s, err := cast.ToStringE(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return s
}

func encodeBody(body any, contentType string) ([]byte, error) {
	if contentType == "application/x-www-form-urlencoded" {
		if fields, ok := body.(map[string]any); ok {
			form := url.Values{}
			for k, v := range fields {
				addQuery(form, openapi2mcp.ArgumentBinding{Name: k, Explode: true}, v)
			}
			return []byte(form.Encode()), nil
		}
	}
	return json.Marshal(body)
}

func bodyMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}
