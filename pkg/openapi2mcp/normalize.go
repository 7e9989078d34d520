package openapi2mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi2"
	"github.com/getkin/kin-openapi/openapi2conv"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/loader"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/server"
	"go.uber.org/zap"
)

// methodOrder is the order in which operations of a single path are emitted.
var methodOrder = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS", "TRACE"}

// Normalize converts a parsed spec into a Document. Only local "#/..." references
// are supported; anything else fails with ErrorTypeUnsupportedRef.
func Normalize(ctx context.Context, raw *loader.RawDocument, log *zap.Logger) (*Document, error) {
	if raw == nil || raw.Tree == nil {
		return nil, server.NewError(server.ErrorTypeSpecInvalid, "spec is empty", "")
	}
	tree := raw.Tree

	swaggerVersion, isV2 := tree["swagger"].(string)
	openapiVersion, isV3 := tree["openapi"].(string)
	if !isV2 && !isV3 {
		return nil, server.NewError(server.ErrorTypeSpecInvalid,
			"spec has neither an \"openapi\" nor a \"swagger\" version", raw.Location)
	}
	if isV2 && !strings.HasPrefix(swaggerVersion, "2") {
		return nil, server.NewError(server.ErrorTypeSpecInvalid, "unsupported swagger version", swaggerVersion)
	}
	if isV3 && !strings.HasPrefix(openapiVersion, "3") {
		return nil, server.NewError(server.ErrorTypeSpecInvalid, "unsupported openapi version", openapiVersion)
	}
	if _, ok := tree["paths"].(map[string]any); !ok {
		return nil, server.NewError(server.ErrorTypeSpecInvalid, "spec has no \"paths\" object", raw.Location)
	}
	if ref := findExternalRef(tree); ref != "" {
		return nil, server.NewError(server.ErrorTypeUnsupportedRef, "only local references are supported", ref)
	}

	specJSON, err := json.Marshal(tree)
	if err != nil {
		return nil, server.Wrap(err, server.ErrorTypeSpecInvalid, "failed to encode spec")
	}

	var spec *openapi3.T
	version := openapiVersion
	if isV2 {
		version = swaggerVersion
		spec, err = convertV2(specJSON)
	} else {
		spec, err = loadV3(specJSON)
	}
	if err != nil {
		return nil, err
	}

	if err := spec.Validate(ctx); err != nil {
		log.Warn("spec does not fully validate, continuing", zap.String("location", raw.Location), zap.Error(err))
	}

	doc := &Document{
		Spec:          spec,
		SpecJSON:      specJSON,
		SourceVersion: version,
	}
	if spec.Info != nil {
		doc.Title = spec.Info.Title
		doc.Version = spec.Info.Version
		doc.Description = spec.Info.Description
	}
	if isV2 {
		doc.ServerURL = resolveServerURL(v2ServerURL(tree), raw.Location)
	} else if len(spec.Servers) > 0 {
		doc.ServerURL = resolveServerURL(serverURL(spec.Servers[0]), raw.Location)
	}

	doc.Operations = extractOperations(spec, raw, log)
	log.Debug("spec normalized",
		zap.String("title", doc.Title),
		zap.String("version", version),
		zap.String("server_url", doc.ServerURL),
		zap.Int("operations", len(doc.Operations)))
	return doc, nil
}

func loadV3(data []byte) (*openapi3.T, error) {
	l := openapi3.NewLoader()
	l.IsExternalRefsAllowed = false
	spec, err := l.LoadFromData(data)
	if err != nil {
		return nil, server.Wrap(err, server.ErrorTypeSpecInvalid, "failed to load OpenAPI document")
	}
	return spec, nil
}

// convertV2 converts a Swagger 2.0 document to v3 and reloads it so that
// references point at the converted components.
func convertV2(data []byte) (*openapi3.T, error) {
	var v2 openapi2.T
	if err := json.Unmarshal(data, &v2); err != nil {
		return nil, server.Wrap(err, server.ErrorTypeSpecInvalid, "failed to decode swagger document")
	}
	v3, err := openapi2conv.ToV3(&v2)
	if err != nil {
		return nil, server.Wrap(err, server.ErrorTypeSpecInvalid, "failed to convert swagger document")
	}
	converted, err := json.Marshal(v3)
	if err != nil {
		return nil, server.Wrap(err, server.ErrorTypeSpecInvalid, "failed to encode converted document")
	}
	return loadV3(converted)
}

// findExternalRef returns the first $ref that does not point into the document.
func findExternalRef(v any) string {
	switch val := v.(type) {
	case map[string]any:
		if ref, ok := val["$ref"].(string); ok && !strings.HasPrefix(ref, "#") {
			return ref
		}
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if ref := findExternalRef(val[k]); ref != "" {
				return ref
			}
		}
	case []any:
		for _, item := range val {
			if ref := findExternalRef(item); ref != "" {
				return ref
			}
		}
	}
	return ""
}

// serverURL substitutes server variables with their defaults.
func serverURL(s *openapi3.Server) string {
	if s == nil {
		return ""
	}
	u := s.URL
	for name, v := range s.Variables {
		if v == nil {
			continue
		}
		u = strings.ReplaceAll(u, "{"+name+"}", v.Default)
	}
	return u
}

// v2ServerURL builds the base URL from schemes, host and basePath.
func v2ServerURL(tree map[string]any) string {
	host, _ := tree["host"].(string)
	basePath, _ := tree["basePath"].(string)
	if host == "" {
		return basePath
	}
	scheme := "https"
	if schemes, ok := tree["schemes"].([]any); ok && len(schemes) > 0 {
		preferred := ""
		for _, s := range schemes {
			if str, ok := s.(string); ok {
				if str == "https" {
					preferred = str
					break
				}
				if preferred == "" {
					preferred = str
				}
			}
		}
		if preferred != "" {
			scheme = preferred
		}
	}
	return scheme + "://" + host + basePath
}

// resolveServerURL makes relative server URLs absolute against the spec location
// when the spec was fetched over HTTP.
func resolveServerURL(serverURL, location string) string {
	serverURL = strings.TrimRight(serverURL, "/")
	if serverURL == "" || strings.HasPrefix(serverURL, "http://") || strings.HasPrefix(serverURL, "https://") {
		return serverURL
	}
	if !strings.HasPrefix(location, "http://") && !strings.HasPrefix(location, "https://") {
		return serverURL
	}
	base, err := url.Parse(location)
	if err != nil {
		return serverURL
	}
	ref, err := url.Parse(serverURL)
	if err != nil {
		return serverURL
	}
	return strings.TrimRight(base.ResolveReference(ref).String(), "/")
}

func extractOperations(spec *openapi3.T, raw *loader.RawDocument, log *zap.Logger) []OperationDescriptor {
	if spec.Paths == nil {
		return nil
	}

	paths := raw.PathOrder
	if len(paths) == 0 {
		for p := range spec.Paths.Map() {
			paths = append(paths, p)
		}
		sort.Strings(paths)
	}

	var ops []OperationDescriptor
	index := map[string]int{}
	for _, path := range paths {
		item := spec.Paths.Value(path)
		if item == nil {
			continue
		}
		for _, method := range methodOrder {
			op := item.GetOperation(method)
			if op == nil {
				continue
			}
			desc := buildDescriptor(spec, path, method, item, op, log)
			if i, dup := index[desc.Key()]; dup {
				log.Warn("duplicate operation, keeping the last definition", zap.String("operation", desc.Key()))
				ops[i] = desc
				continue
			}
			index[desc.Key()] = len(ops)
			ops = append(ops, desc)
		}
	}
	return ops
}

func buildDescriptor(spec *openapi3.T, path, method string, item *openapi3.PathItem, op *openapi3.Operation, log *zap.Logger) OperationDescriptor {
	desc := OperationDescriptor{
		Path:        path,
		Method:      method,
		OperationID: op.OperationID,
		Summary:     op.Summary,
		Description: op.Description,
		Tags:        op.Tags,
		Deprecated:  op.Deprecated,
	}

	desc.Parameters = mergeParameters(item.Parameters, op.Parameters, spec, log)
	desc.RequestBody = extractRequestBody(op.RequestBody, spec, desc.Key(), log)

	switch {
	case op.Servers != nil && len(*op.Servers) > 0:
		desc.ServerURL = strings.TrimRight(serverURL((*op.Servers)[0]), "/")
	case len(item.Servers) > 0:
		desc.ServerURL = strings.TrimRight(serverURL(item.Servers[0]), "/")
	}

	security := spec.Security
	if op.Security != nil {
		security = *op.Security
	}
	seen := map[string]bool{}
	for _, req := range security {
		names := make([]string, 0, len(req))
		for name := range req {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if !seen[name] {
				seen[name] = true
				desc.Security = append(desc.Security, name)
			}
		}
	}
	return desc
}

// mergeParameters combines path level and operation level parameters. An
// operation parameter replaces a path parameter with the same name and location.
func mergeParameters(pathParams, opParams openapi3.Parameters, spec *openapi3.T, log *zap.Logger) []Parameter {
	var out []Parameter
	index := map[string]int{}
	add := func(refs openapi3.Parameters) {
		for _, ref := range refs {
			if ref == nil || ref.Value == nil {
				continue
			}
			p := convertParameter(ref.Value, spec, log)
			key := p.In + ":" + p.Name
			if i, ok := index[key]; ok {
				out[i] = p
				continue
			}
			index[key] = len(out)
			out = append(out, p)
		}
	}
	add(pathParams)
	add(opParams)
	return out
}

func convertParameter(p *openapi3.Parameter, spec *openapi3.T, log *zap.Logger) Parameter {
	param := Parameter{
		Name:        p.Name,
		In:          p.In,
		Required:    p.Required || p.In == InPath,
		Description: p.Description,
		Style:       p.Style,
		Explode:     true,
	}
	if p.Explode != nil {
		param.Explode = *p.Explode
	}

	switch {
	case p.Schema != nil:
		param.Schema = extractPropertyWithContext(p.Schema, spec)
	case len(p.Content) > 0:
		if _, mt := jsonMediaType(p.Content); mt != nil && mt.Schema != nil {
			param.Schema = extractPropertyWithContext(mt.Schema, spec)
		}
	}
	if param.Schema == nil {
		param.Schema = map[string]any{}
	}
	if _, ok := param.Schema["type"]; !ok && !hasComposition(param.Schema) {
		param.Schema["type"] = "string"
	}

	switch p.In {
	case InPath, InQuery, InHeader, InCookie:
	default:
		log.Warn("parameter uses unsupported location, sending it as query",
			zap.String("parameter", p.Name), zap.String("in", p.In))
		param.In = InQuery
	}
	return param
}

func extractRequestBody(ref *openapi3.RequestBodyRef, spec *openapi3.T, opKey string, log *zap.Logger) *RequestBody {
	if ref == nil || ref.Value == nil || len(ref.Value.Content) == 0 {
		return nil
	}
	content := ref.Value.Content

	contentType, mt := jsonMediaType(content)
	if mt == nil {
		if mt = getContentByType(content, "application/x-www-form-urlencoded"); mt != nil {
			contentType = "application/x-www-form-urlencoded"
		}
	}
	if mt == nil {
		types := make([]string, 0, len(content))
		for name := range content {
			types = append(types, name)
		}
		sort.Strings(types)
		log.Warn("request body has no supported media type, ignoring it",
			zap.String("operation", opKey), zap.Strings("media_types", types))
		return nil
	}

	body := &RequestBody{
		Required:    ref.Value.Required,
		ContentType: contentType,
		Description: ref.Value.Description,
	}
	if mt.Schema != nil {
		body.Schema = extractPropertyWithContext(mt.Schema, spec)
	}
	if body.Schema == nil {
		body.Schema = map[string]any{}
	}
	return body
}

// getContentByType returns the media type whose base type matches mediaType,
// ignoring parameters such as charset.
func getContentByType(content openapi3.Content, mediaType string) *openapi3.MediaType {
	if mt, ok := content[mediaType]; ok {
		return mt
	}
	for name, mt := range content {
		if baseMediaType(name) == mediaType {
			return mt
		}
	}
	return nil
}

// jsonMediaType picks application/json, then application/vnd.api+json, then
// any other +json type. It returns the content type to send with the body.
func jsonMediaType(content openapi3.Content) (string, *openapi3.MediaType) {
	if mt := getContentByType(content, "application/json"); mt != nil {
		return "application/json", mt
	}
	if mt := getContentByType(content, "application/vnd.api+json"); mt != nil {
		return "application/vnd.api+json", mt
	}
	names := make([]string, 0, len(content))
	for name := range content {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		base := baseMediaType(name)
		if strings.HasSuffix(base, "+json") {
			return base, content[name]
		}
		if base == "*/*" {
			return "application/json", content[name]
		}
	}
	return "", nil
}

func baseMediaType(mediaType string) string {
	if idx := strings.IndexByte(mediaType, ';'); idx > 0 {
		mediaType = mediaType[:idx]
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

func hasComposition(schema map[string]any) bool {
	for _, k := range []string{"anyOf", "oneOf", "allOf", "$ref"} {
		if _, ok := schema[k]; ok {
			return true
		}
	}
	return false
}

// describe returns a short human readable label for logs and errors.
func describe(op *OperationDescriptor) string {
	if op.OperationID != "" {
		return fmt.Sprintf("%s (%s)", op.Key(), op.OperationID)
	}
	return op.Key()
}
