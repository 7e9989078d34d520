package request

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"testing"

	"github.com/starlake-ai/mcp-openapi-proxy/pkg/auth"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/openapi2mcp"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/server"
	"go.uber.org/zap/zaptest"
)

func newTool(t *testing.T, name string, op *openapi2mcp.OperationDescriptor) *openapi2mcp.ToolDefinition {
	t.Helper()
	schema, bindings := openapi2mcp.BuildInputSchema(op, zaptest.NewLogger(t))
	return &openapi2mcp.ToolDefinition{Name: name, InputSchema: schema, Operation: op, Arguments: bindings}
}

func getSessionTool(t *testing.T) *openapi2mcp.ToolDefinition {
	return newTool(t, "get_sessions_sessionid", &openapi2mcp.OperationDescriptor{
		Method: "GET",
		Path:   "/sessions/{sessionId}",
		Parameters: []openapi2mcp.Parameter{
			{Name: "sessionId", In: openapi2mcp.InPath, Required: true, Schema: map[string]any{"type": "string"}},
			{Name: "limit", In: openapi2mcp.InQuery, Schema: map[string]any{"type": "integer"}, Explode: true},
			{Name: "tags", In: openapi2mcp.InQuery, Explode: true,
				Schema: map[string]any{"type": "array", "items": map[string]any{"type": "string"}}},
			{Name: "X-Trace", In: openapi2mcp.InHeader, Schema: map[string]any{"type": "string"}},
			{Name: "session", In: openapi2mcp.InCookie, Schema: map[string]any{"type": "string"}},
		},
	})
}

func createSessionTool(t *testing.T) *openapi2mcp.ToolDefinition {
	return newTool(t, "post_sessions", &openapi2mcp.OperationDescriptor{
		Method: "POST",
		Path:   "/sessions",
		RequestBody: &openapi2mcp.RequestBody{
			Required:    true,
			ContentType: "application/json",
			Schema: map[string]any{
				"type":     "object",
				"required": []string{"user"},
				"properties": map[string]any{
					"user":   map[string]any{"type": "string"},
					"ttl":    map[string]any{"type": "integer"},
					"active": map[string]any{"type": "boolean"},
					"mode":   map[string]any{"type": "string", "enum": []any{"fast", "slow"}},
				},
			},
		},
	})
}

func newTestBuilder(t *testing.T, opts BuilderOptions) *Builder {
	if opts.DefaultServerURL == "" {
		opts.DefaultServerURL = "https://api.example.com/v1/"
	}
	return NewBuilder(opts, zaptest.NewLogger(t))
}

func TestBuildPathQueryHeaderCookie(t *testing.T) {
	b := newTestBuilder(t, BuilderOptions{})
	req, err := b.Build(context.Background(), getSessionTool(t), map[string]any{
		"sessionId": "a b/c",
		"limit":     "5",
		"tags":      []any{"x", "y"},
		"X-Trace":   "trace-1",
		"session":   "s1",
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		t.Fatal(err)
	}
	if u.EscapedPath() != "/v1/sessions/a%20b%2Fc" {
		t.Errorf("path = %q", u.EscapedPath())
	}
	if got := u.Query()["tags"]; !reflect.DeepEqual(got, []string{"x", "y"}) {
		t.Errorf("tags = %v", got)
	}
	if u.Query().Get("limit") != "5" {
		t.Errorf("limit = %q", u.Query().Get("limit"))
	}
	if req.Header.Get("X-Trace") != "trace-1" {
		t.Errorf("X-Trace = %q", req.Header.Get("X-Trace"))
	}
	if req.Header.Get("Cookie") != "session=s1" {
		t.Errorf("Cookie = %q", req.Header.Get("Cookie"))
	}
	if req.Header.Get("Accept") != "application/json" {
		t.Errorf("Accept = %q", req.Header.Get("Accept"))
	}
	if req.Body != nil {
		t.Errorf("GET request has a body: %s", req.Body)
	}
}

func TestBuildBody(t *testing.T) {
	b := newTestBuilder(t, BuilderOptions{})
	req, err := b.Build(context.Background(), createSessionTool(t), map[string]any{
		"user":   "ada",
		"ttl":    "30",
		"active": "true",
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if req.Method != http.MethodPost || req.URL != "https://api.example.com/v1/sessions" {
		t.Errorf("request = %s %s", req.Method, req.URL)
	}
	if req.Header.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", req.Header.Get("Content-Type"))
	}
	var body map[string]any
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	want := map[string]any{"user": "ada", "ttl": float64(30), "active": true}
	if !reflect.DeepEqual(body, want) {
		t.Errorf("body = %v, want %v", body, want)
	}
}

func TestBuildMissingArguments(t *testing.T) {
	b := newTestBuilder(t, BuilderOptions{})
	_, err := b.Build(context.Background(), getSessionTool(t), map[string]any{"limit": 1})
	if !server.IsType(err, server.ErrorTypeMissingArgument) {
		t.Fatalf("expected missing_argument, got %v", err)
	}
	if !strings.Contains(err.Error(), "sessionId") {
		t.Errorf("error should name the argument: %v", err)
	}

	_, err = b.Build(context.Background(), getSessionTool(t), map[string]any{"sessionId": nil})
	if !server.IsType(err, server.ErrorTypeMissingArgument) {
		t.Errorf("null counts as missing, got %v", err)
	}
}

func TestBuildInvalidArguments(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
	}{
		{name: "integer from text", args: map[string]any{"user": "ada", "ttl": "abc"}},
		{name: "fractional integer", args: map[string]any{"user": "ada", "ttl": 1.5}},
		{name: "boolean from text", args: map[string]any{"user": "ada", "active": "maybe"}},
		{name: "string from object", args: map[string]any{"user": map[string]any{"a": 1}}},
		{name: "enum", args: map[string]any{"user": "ada", "mode": "medium"}},
		{name: "empty integer", args: map[string]any{"user": "ada", "ttl": ""}},
		{name: "blank integer", args: map[string]any{"user": "ada", "ttl": "  "}},
		{name: "leading zero integer", args: map[string]any{"user": "ada", "ttl": "010"}},
		{name: "hex integer", args: map[string]any{"user": "ada", "ttl": "0x10"}},
		{name: "digit separators", args: map[string]any{"user": "ada", "ttl": "1_000"}},
	}
	b := newTestBuilder(t, BuilderOptions{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Build(context.Background(), createSessionTool(t), tt.args)
			if !server.IsType(err, server.ErrorTypeInvalidArgument) {
				t.Errorf("expected invalid_argument, got %v", err)
			}
		})
	}
}

func TestBuildServerSelection(t *testing.T) {
	tool := getSessionTool(t)
	args := map[string]any{"sessionId": "1"}

	b := newTestBuilder(t, BuilderOptions{ServerURLOverride: "http://localhost:9000"})
	req, err := b.Build(context.Background(), tool, args)
	if err != nil {
		t.Fatal(err)
	}
	if req.URL != "http://localhost:9000/sessions/1" {
		t.Errorf("override URL = %q", req.URL)
	}

	tool.Operation.ServerURL = "https://admin.example.com"
	req, err = b.Build(context.Background(), tool, map[string]any{"sessionId": "1"})
	if err != nil {
		t.Fatal(err)
	}
	if req.URL != "https://admin.example.com/sessions/1" {
		t.Errorf("operation server URL = %q", req.URL)
	}

	empty := NewBuilder(BuilderOptions{}, zaptest.NewLogger(t))
	if _, err := empty.Build(context.Background(), getSessionTool(t), map[string]any{"sessionId": "1"}); err == nil {
		t.Error("expected an error without any server URL")
	}
}

func TestBuildAuthExtraHeadersAndStripParam(t *testing.T) {
	strategy, err := auth.NewPayloadAuth("body.auth.key", "k-123")
	if err != nil {
		t.Fatal(err)
	}
	b := newTestBuilder(t, BuilderOptions{
		Auth:         strategy,
		ExtraHeaders: http.Header{"X-Client": []string{"proxy"}},
		StripParam:   "session_id",
	})
	req, err := b.Build(context.Background(), createSessionTool(t), map[string]any{
		"user":       "ada",
		"session_id": "should-vanish",
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if req.Header.Get("X-Client") != "proxy" {
		t.Errorf("X-Client = %q", req.Header.Get("X-Client"))
	}
	var body map[string]any
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatal(err)
	}
	if _, ok := body["session_id"]; ok {
		t.Error("stripped argument reached the body")
	}
	authField, _ := body["auth"].(map[string]any)
	if authField["key"] != "k-123" {
		t.Errorf("body = %v", body)
	}
}

func TestBuildBodyCredentialOnGetGoesToQuery(t *testing.T) {
	strategy, err := auth.NewPayloadAuth("body.api_key", "XYZ")
	if err != nil {
		t.Fatal(err)
	}
	b := newTestBuilder(t, BuilderOptions{Auth: strategy})
	req, err := b.Build(context.Background(), getSessionTool(t), map[string]any{"sessionId": "42"})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if req.Body != nil {
		t.Errorf("GET request carries a body: %s", req.Body)
	}
	if ct := req.Header.Get("Content-Type"); ct != "" {
		t.Errorf("Content-Type = %q, want none", ct)
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		t.Fatal(err)
	}
	if got := u.Query().Get("api_key"); got != "XYZ" {
		t.Errorf("api_key query = %q, url = %s", got, req.URL)
	}
}

func TestBuildWholeBodyAndUndeclaredArguments(t *testing.T) {
	tool := newTool(t, "post_tags", &openapi2mcp.OperationDescriptor{
		Method: "POST",
		Path:   "/tags",
		RequestBody: &openapi2mcp.RequestBody{
			ContentType: "application/json",
			Schema:      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
	})
	b := newTestBuilder(t, BuilderOptions{})
	req, err := b.Build(context.Background(), tool, map[string]any{"requestBody": []any{"a", "b"}})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if string(req.Body) != `["a","b"]` {
		t.Errorf("body = %s", req.Body)
	}

	get := getSessionTool(t)
	req, err = b.Build(context.Background(), get, map[string]any{"sessionId": "1", "extra": "v"})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !strings.HasSuffix(req.URL, "?extra=v") {
		t.Errorf("undeclared argument should go to the query: %s", req.URL)
	}
}

func TestBuildFormBody(t *testing.T) {
	tool := newTool(t, "post_login", &openapi2mcp.OperationDescriptor{
		Method: "POST",
		Path:   "/login",
		RequestBody: &openapi2mcp.RequestBody{
			ContentType: "application/x-www-form-urlencoded",
			Schema: map[string]any{"type": "object", "properties": map[string]any{
				"username": map[string]any{"type": "string"},
			}},
		},
	})
	b := newTestBuilder(t, BuilderOptions{})
	req, err := b.Build(context.Background(), tool, map[string]any{"username": "ada lovelace"})
	if err != nil {
		t.Fatal(err)
	}
	if string(req.Body) != "username=ada+lovelace" {
		t.Errorf("body = %s", req.Body)
	}
	if req.Header.Get("Content-Type") != "application/x-www-form-urlencoded" {
		t.Errorf("Content-Type = %q", req.Header.Get("Content-Type"))
	}
}

func TestExpandPathFallback(t *testing.T) {
	tool := newTool(t, "get_user", &openapi2mcp.OperationDescriptor{
		Method: "GET",
		Path:   "/users/{user-id}",
		Parameters: []openapi2mcp.Parameter{
			{Name: "user-id", In: openapi2mcp.InPath, Required: true, Schema: map[string]any{"type": "string"}},
		},
	})
	path, err := expandPath(tool, map[string]any{"user-id": "a/b"})
	if err != nil {
		t.Fatal(err)
	}
	if path != "/users/a%2Fb" {
		t.Errorf("path = %q", path)
	}
}
