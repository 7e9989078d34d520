// Package auth injects the configured upstream credential into outgoing requests.
//
// Exactly one Strategy is active per process. HeaderAuth sets a header
// (Authorization: Bearer <token> by default). PayloadAuth writes the credential
// at a path inside the query string, the JSON body or the headers. NoAuth is
// used when no credential is configured.
package auth

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/starlake-ai/mcp-openapi-proxy/pkg/server"
)

// Payload is the mutable part of a request under construction.
type Payload struct {
	Header http.Header
	Query  url.Values
	// Body is the decoded JSON body, nil when the request has none.
	Body any
	// BodyAllowed is false when the operation cannot carry a body, e.g. GET.
	BodyAllowed bool
}

// NewPayload returns an empty payload that may carry a body.
func NewPayload() *Payload {
	return &Payload{Header: http.Header{}, Query: url.Values{}, BodyAllowed: true}
}

// Strategy applies a credential to a request payload.
type Strategy interface {
	Apply(p *Payload) error
	// Describe returns a log-safe description of the strategy.
	Describe() string
}

// NoAuth leaves requests untouched.
type NoAuth struct{}

func (NoAuth) Apply(*Payload) error { return nil }

func (NoAuth) Describe() string { return "none" }

// HeaderAuth sets Header to "<Scheme> <Credential>", or to the bare credential
// when Scheme is empty.
type HeaderAuth struct {
	Header     string
	Scheme     string
	Credential string
}

func (h HeaderAuth) Apply(p *Payload) error {
	header := h.Header
	if header == "" {
		header = "Authorization"
	}
	value := h.Credential
	if h.Scheme != "" {
		value = h.Scheme + " " + h.Credential
	}
	p.Header.Set(header, value)
	return nil
}

func (h HeaderAuth) Describe() string {
	header := h.Header
	if header == "" {
		header = "Authorization"
	}
	if h.Scheme == "" {
		return fmt.Sprintf("header %s: %s", header, server.MaskSecret(h.Credential))
	}
	return fmt.Sprintf("header %s: %s %s", header, h.Scheme, server.MaskSecret(h.Credential))
}

// PayloadAuth writes the credential at a path expression rooted at query,
// body or header, e.g. "query.token", "body.auth.api_key" or
// `body.credentials[0]["x-key"]`. Intermediate objects are created and any
// existing value is overwritten. A body path on a request without a body
// falls back to a query parameter named after the last key.
type PayloadAuth struct {
	Path       string
	Credential string

	root string
	segs []segment
}

// NewPayloadAuth parses the path expression.
func NewPayloadAuth(path, credential string) (*PayloadAuth, error) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, server.Wrap(err, server.ErrorTypeValidation, "invalid credential path expression")
	}
	root := strings.ToLower(segs[0].key)
	if root == "headers" {
		root = "header"
	}
	rest := segs[1:]
	switch root {
	case "query", "header":
		if len(rest) != 1 || rest[0].isIndex {
			return nil, server.NewError(server.ErrorTypeValidation,
				"query and header credential paths take exactly one name", path)
		}
	case "body":
		if len(rest) == 0 {
			return nil, server.NewError(server.ErrorTypeValidation, "body credential path needs a field", path)
		}
	default:
		return nil, server.NewError(server.ErrorTypeValidation,
			"credential path must start with query, body or header", path)
	}
	return &PayloadAuth{Path: path, Credential: credential, root: root, segs: rest}, nil
}

func (a *PayloadAuth) Apply(p *Payload) error {
	switch a.root {
	case "query":
		p.Query.Set(a.segs[0].key, a.Credential)
	case "header":
		p.Header.Set(a.segs[0].key, a.Credential)
	case "body":
		if !p.BodyAllowed {
			p.Query.Set(a.leafKey(), a.Credential)
			return nil
		}
		body, err := setPath(p.Body, a.segs, a.Credential)
		if err != nil {
			return server.Wrap(err, server.ErrorTypeValidation, "cannot inject credential into request body")
		}
		p.Body = body
	}
	return nil
}

func (a *PayloadAuth) leafKey() string {
	for i := len(a.segs) - 1; i >= 0; i-- {
		if !a.segs[i].isIndex {
			return a.segs[i].key
		}
	}
	return a.segs[0].key
}

func (a *PayloadAuth) Describe() string {
	return fmt.Sprintf("payload %s: %s", a.Path, server.MaskSecret(a.Credential))
}

// FromConfig selects the strategy for the configured auth type. schemes is
// consulted for API_AUTH_TYPE=auto and may be nil.
func FromConfig(cfg *server.Config, schemes []SecurityScheme) (Strategy, error) {
	if cfg.Credential == "" {
		return NoAuth{}, nil
	}
	if cfg.AuthType == server.AuthTypePayload || (cfg.PayloadPath != "" && cfg.AuthType != server.AuthTypeAuto) {
		return NewPayloadAuth(cfg.PayloadPath, cfg.Credential)
	}

	switch cfg.AuthType {
	case server.AuthTypeAuto:
		return inferStrategy(cfg, schemes)
	case server.AuthTypeAPIKey:
		return headerStrategy(cfg, "Api-Key"), nil
	case server.AuthTypeBasic:
		s := headerStrategy(cfg, "Basic")
		s.Credential = basicCredential(cfg.Credential)
		return s, nil
	case server.AuthTypeHeader:
		return headerStrategy(cfg, ""), nil
	default:
		return headerStrategy(cfg, "Bearer"), nil
	}
}

// headerStrategy applies the configured header and scheme. The type's default
// scheme is only used with the Authorization header.
func headerStrategy(cfg *server.Config, defaultScheme string) HeaderAuth {
	h := HeaderAuth{Header: cfg.AuthHeader, Scheme: cfg.AuthScheme, Credential: cfg.Credential}
	if h.Header == "" {
		h.Header = "Authorization"
	}
	if h.Scheme == "" && strings.EqualFold(h.Header, "Authorization") {
		h.Scheme = defaultScheme
	}
	return h
}

// basicCredential encodes "user:password" credentials; anything else is assumed
// to be encoded already.
func basicCredential(credential string) string {
	if strings.Contains(credential, ":") {
		return base64.StdEncoding.EncodeToString([]byte(credential))
	}
	return credential
}
