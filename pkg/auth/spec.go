package auth

import (
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/server"
)

// SecurityScheme is the part of an OpenAPI security scheme needed to decide
// how a credential is sent.
type SecurityScheme struct {
	Name string
	// Type is "apiKey", "http", "oauth2" or "openIdConnect".
	Type string
	// Scheme is the http auth scheme, e.g. "bearer" or "basic".
	Scheme string
	// In and ParamName locate apiKey credentials.
	In        string
	ParamName string
}

// ExtractSecuritySchemes lists the security schemes of a document sorted by name.
func ExtractSecuritySchemes(doc *openapi3.T) []SecurityScheme {
	if doc == nil || doc.Components == nil || doc.Components.SecuritySchemes == nil {
		return nil
	}
	names := make([]string, 0, len(doc.Components.SecuritySchemes))
	for name := range doc.Components.SecuritySchemes {
		names = append(names, name)
	}
	sort.Strings(names)

	var schemes []SecurityScheme
	for _, name := range names {
		ref := doc.Components.SecuritySchemes[name]
		if ref == nil || ref.Value == nil {
			continue
		}
		schemes = append(schemes, SecurityScheme{
			Name:      name,
			Type:      ref.Value.Type,
			Scheme:    strings.ToLower(ref.Value.Scheme),
			In:        ref.Value.In,
			ParamName: ref.Value.Name,
		})
	}
	return schemes
}

// ExtractAuthSchemeFromSpec extracts the first usable security scheme from the
// OpenAPI spec. It returns the scheme name, the auth type ("apiKey", "bearer"
// or "basic") and the location as "header:<name>", "query:<name>" or
// "cookie:<name>".
func ExtractAuthSchemeFromSpec(schemes []SecurityScheme) (string, string, string) {
	for _, s := range schemes {
		switch s.Type {
		case "apiKey":
			location := "header"
			if s.In == "query" || s.In == "cookie" {
				location = s.In
			}
			return s.Name, "apiKey", location + ":" + s.ParamName
		case "http":
			switch s.Scheme {
			case "bearer":
				return s.Name, "bearer", "header:Authorization"
			case "basic":
				return s.Name, "basic", "header:Authorization"
			}
		case "oauth2", "openIdConnect":
			return s.Name, "bearer", "header:Authorization"
		}
	}
	return "", "", ""
}

// inferStrategy maps the spec's first usable security scheme to a strategy.
// Without one it falls back to a bearer token.
func inferStrategy(cfg *server.Config, schemes []SecurityScheme) (Strategy, error) {
	_, authType, location := ExtractAuthSchemeFromSpec(schemes)
	where, name, _ := strings.Cut(location, ":")

	switch authType {
	case "apiKey":
		switch where {
		case "query":
			return NewPayloadAuth("query."+name, cfg.Credential)
		case "cookie":
			return HeaderAuth{Header: "Cookie", Credential: name + "=" + cfg.Credential}, nil
		default:
			return HeaderAuth{Header: name, Credential: cfg.Credential}, nil
		}
	case "basic":
		return HeaderAuth{Header: "Authorization", Scheme: "Basic", Credential: basicCredential(cfg.Credential)}, nil
	default:
		return HeaderAuth{Header: "Authorization", Scheme: "Bearer", Credential: cfg.Credential}, nil
	}
}
