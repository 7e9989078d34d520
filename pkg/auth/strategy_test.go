package auth

import (
	"reflect"
	"testing"

	"github.com/starlake-ai/mcp-openapi-proxy/pkg/server"
)

func configWith(mutate func(c *server.Config)) *server.Config {
	cfg := server.NewDefaultConfig()
	cfg.Credential = "secret-token"
	mutate(cfg)
	return cfg
}

func TestFromConfigHeaderVariants(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(c *server.Config)
		wantHeader string
		wantValue  string
	}{
		{
			name:       "bearer default",
			mutate:     func(c *server.Config) {},
			wantHeader: "Authorization",
			wantValue:  "Bearer secret-token",
		},
		{
			name:       "api-key scheme",
			mutate:     func(c *server.Config) { c.AuthType = server.AuthTypeAPIKey },
			wantHeader: "Authorization",
			wantValue:  "Api-Key secret-token",
		},
		{
			name: "custom header sends bare credential",
			mutate: func(c *server.Config) {
				c.AuthType = server.AuthTypeAPIKey
				c.AuthHeader = "X-API-Key"
			},
			wantHeader: "X-API-Key",
			wantValue:  "secret-token",
		},
		{
			name: "custom header with explicit scheme",
			mutate: func(c *server.Config) {
				c.AuthHeader = "X-Auth"
				c.AuthScheme = "Token"
			},
			wantHeader: "X-Auth",
			wantValue:  "Token secret-token",
		},
		{
			name: "basic encodes user and password",
			mutate: func(c *server.Config) {
				c.AuthType = server.AuthTypeBasic
				c.Credential = "user:pass"
			},
			wantHeader: "Authorization",
			wantValue:  "Basic dXNlcjpwYXNz",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := FromConfig(configWith(tt.mutate), nil)
			if err != nil {
				t.Fatalf("FromConfig failed: %v", err)
			}
			p := NewPayload()
			if err := s.Apply(p); err != nil {
				t.Fatalf("Apply failed: %v", err)
			}
			if got := p.Header.Get(tt.wantHeader); got != tt.wantValue {
				t.Errorf("%s = %q, want %q", tt.wantHeader, got, tt.wantValue)
			}
		})
	}
}

func TestFromConfigNoCredential(t *testing.T) {
	s, err := FromConfig(configWith(func(c *server.Config) { c.Credential = "" }), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(NoAuth); !ok {
		t.Errorf("expected NoAuth, got %T", s)
	}
}

func TestPayloadAuth(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     any
		wantBody any
		query    string
		header   string
	}{
		{
			name:  "query",
			path:  "query.token",
			query: "token",
		},
		{
			name:   "header",
			path:   "header.X-Key",
			header: "X-Key",
		},
		{
			name:     "nested body creates objects",
			path:     "body.auth.api_key",
			body:     map[string]any{"name": "x"},
			wantBody: map[string]any{"name": "x", "auth": map[string]any{"api_key": "secret-token"}},
		},
		{
			name:     "body overwrites existing value",
			path:     "body.api_key",
			body:     map[string]any{"api_key": "from-client"},
			wantBody: map[string]any{"api_key": "secret-token"},
		},
		{
			name:     "array index",
			path:     "body.credentials[0].token",
			wantBody: map[string]any{"credentials": []any{map[string]any{"token": "secret-token"}}},
		},
		{
			name:     "quoted key",
			path:     `body["x-key"]`,
			wantBody: map[string]any{"x-key": "secret-token"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := FromConfig(configWith(func(c *server.Config) {
				c.AuthType = server.AuthTypePayload
				c.PayloadPath = tt.path
			}), nil)
			if err != nil {
				t.Fatalf("FromConfig failed: %v", err)
			}
			p := NewPayload()
			p.Body = tt.body
			if err := s.Apply(p); err != nil {
				t.Fatalf("Apply failed: %v", err)
			}
			if tt.query != "" && p.Query.Get(tt.query) != "secret-token" {
				t.Errorf("query %s = %q", tt.query, p.Query.Get(tt.query))
			}
			if tt.header != "" && p.Header.Get(tt.header) != "secret-token" {
				t.Errorf("header %s = %q", tt.header, p.Header.Get(tt.header))
			}
			if tt.wantBody != nil && !reflect.DeepEqual(p.Body, tt.wantBody) {
				t.Errorf("body = %#v, want %#v", p.Body, tt.wantBody)
			}
		})
	}
}

func TestPayloadAuthInvalidPaths(t *testing.T) {
	for _, path := range []string{"", "cookie.x", "query", "query.a.b", "body", "body..x", "body[", "body.a[x]"} {
		if _, err := NewPayloadAuth(path, "k"); err == nil {
			t.Errorf("NewPayloadAuth(%q) should fail", path)
		}
	}
}

func TestPayloadAuthBodyTypeMismatch(t *testing.T) {
	s, err := NewPayloadAuth("body.key", "k")
	if err != nil {
		t.Fatal(err)
	}
	p := NewPayload()
	p.Body = []any{1, 2}
	if err := s.Apply(p); err == nil {
		t.Error("expected an error when the body is an array")
	}
}

func TestPayloadAuthBodyWithoutBodyUsesQuery(t *testing.T) {
	s, err := NewPayloadAuth(`body.credentials[0]["x-key"]`, "k")
	if err != nil {
		t.Fatal(err)
	}
	p := NewPayload()
	p.BodyAllowed = false
	if err := s.Apply(p); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if p.Body != nil {
		t.Errorf("body = %v, want nil", p.Body)
	}
	if got := p.Query.Get("x-key"); got != "k" {
		t.Errorf("query x-key = %q", got)
	}
}

func TestInferStrategy(t *testing.T) {
	tests := []struct {
		name    string
		schemes []SecurityScheme
		check   func(t *testing.T, p *Payload)
	}{
		{
			name:    "bearer",
			schemes: []SecurityScheme{{Name: "token", Type: "http", Scheme: "bearer"}},
			check: func(t *testing.T, p *Payload) {
				if p.Header.Get("Authorization") != "Bearer secret-token" {
					t.Errorf("Authorization = %q", p.Header.Get("Authorization"))
				}
			},
		},
		{
			name:    "api key header",
			schemes: []SecurityScheme{{Name: "key", Type: "apiKey", In: "header", ParamName: "X-RapidAPI-Key"}},
			check: func(t *testing.T, p *Payload) {
				if p.Header.Get("X-RapidAPI-Key") != "secret-token" {
					t.Errorf("headers = %v", p.Header)
				}
			},
		},
		{
			name:    "api key query",
			schemes: []SecurityScheme{{Name: "key", Type: "apiKey", In: "query", ParamName: "appid"}},
			check: func(t *testing.T, p *Payload) {
				if p.Query.Get("appid") != "secret-token" {
					t.Errorf("query = %v", p.Query)
				}
			},
		},
		{
			name: "no schemes",
			check: func(t *testing.T, p *Payload) {
				if p.Header.Get("Authorization") != "Bearer secret-token" {
					t.Errorf("Authorization = %q", p.Header.Get("Authorization"))
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := FromConfig(configWith(func(c *server.Config) { c.AuthType = server.AuthTypeAuto }), tt.schemes)
			if err != nil {
				t.Fatalf("FromConfig failed: %v", err)
			}
			p := NewPayload()
			if err := s.Apply(p); err != nil {
				t.Fatal(err)
			}
			tt.check(t, p)
		})
	}
}

func TestDescribeMasksCredential(t *testing.T) {
	s := HeaderAuth{Header: "Authorization", Scheme: "Bearer", Credential: "abcdefghijklmnop"}
	if got := s.Describe(); got != "header Authorization: Bearer abcd********mnop" {
		t.Errorf("Describe = %q", got)
	}
}
