// Package openapi2mcp turns OpenAPI 3.x and Swagger 2.0 documents into MCP tool definitions.
//
// The conversion runs once at startup in two steps:
//
//	raw, _ := loader.NewSpecLoader(log).Load(ctx, "petstore.yaml")
//	doc, _ := openapi2mcp.Normalize(ctx, raw, log)
//	reg, _ := openapi2mcp.NewRegistry(doc, openapi2mcp.Options{Prefix: "pets_"}, log)
//
// Normalize walks the document and produces one OperationDescriptor per
// path and method, in document order, with local $refs resolved. NewRegistry
// filters the operations (whitelist or blacklist), derives a unique tool name
// for each one and synthesizes a flat JSON Schema for its arguments.
//
// The Registry is immutable once built. It is safe to share between
// goroutines without locking.
package openapi2mcp

import (
	"github.com/getkin/kin-openapi/openapi3"
)

// Argument locations. Parameters use the OpenAPI "in" values; body fields are
// flattened into the same argument namespace.
const (
	InPath      = "path"
	InQuery     = "query"
	InHeader    = "header"
	InCookie    = "cookie"
	InBody      = "body"
	InBodyWhole = "body-whole"
)

// RequestBodyProperty is the argument name used when a request body cannot be
// flattened (arrays, primitives, free-form objects).
const RequestBodyProperty = "requestBody"

// Parameter is a declared operation parameter.
type Parameter struct {
	Name        string
	In          string
	Required    bool
	Description string
	Schema      map[string]any
	// Explode and Style follow OpenAPI serialization rules for arrays in query strings.
	Explode bool
	Style   string
}

// RequestBody is the JSON (or form) request body an operation accepts.
type RequestBody struct {
	Required    bool
	ContentType string
	Description string
	Schema      map[string]any
}

// OperationDescriptor describes a single REST operation to be mapped to a tool.
type OperationDescriptor struct {
	Path        string
	Method      string
	OperationID string
	Summary     string
	Description string
	Tags        []string
	Deprecated  bool
	Parameters  []Parameter
	RequestBody *RequestBody
	// ServerURL is the operation or path level server, empty when the spec
	// only declares servers at the top level.
	ServerURL string
	// Security lists the security scheme names the operation requires.
	Security []string
}

// Key identifies the operation within its spec.
func (op *OperationDescriptor) Key() string {
	return op.Method + " " + op.Path
}

// Document is the normalized form of an OpenAPI document.
type Document struct {
	Title       string
	Version     string
	Description string
	// ServerURL is the spec level default base URL.
	ServerURL  string
	Operations []OperationDescriptor
	// Spec is the fully loaded v3 document (converted from v2 when needed).
	Spec *openapi3.T
	// SpecJSON is the original document re-encoded as JSON.
	SpecJSON []byte
	// SourceVersion is the "openapi" or "swagger" version string of the input.
	SourceVersion string
}

// ArgumentBinding maps a tool argument to where its value goes on the wire.
type ArgumentBinding struct {
	// Property is the argument name in the tool's input schema.
	Property string
	// Name is the wire name (parameter name or body field).
	Name     string
	In       string
	Required bool
	Schema   map[string]any
	Explode  bool
	Style    string
}

// ToolDefinition is one registered tool.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
	Operation   *OperationDescriptor
	Arguments   []ArgumentBinding
}

// Binding returns the binding for an argument name.
func (t *ToolDefinition) Binding(property string) (ArgumentBinding, bool) {
	for _, b := range t.Arguments {
		if b.Property == property {
			return b, true
		}
	}
	return ArgumentBinding{}, false
}

// HasBody reports whether the operation declares a request body.
func (t *ToolDefinition) HasBody() bool {
	return t.Operation.RequestBody != nil
}
