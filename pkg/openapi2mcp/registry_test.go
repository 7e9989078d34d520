package openapi2mcp

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"
)

func newTestRegistry(t *testing.T, opts Options) *Registry {
	t.Helper()
	doc, err := normalizeString(t, "inline", sessionsSpec)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	reg, err := NewRegistry(doc, opts, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	return reg
}

func toolNames(reg *Registry) []string {
	var names []string
	for _, tool := range reg.List() {
		names = append(names, tool.Name)
	}
	return names
}

func TestRegistryNames(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	want := []string{
		"get_sessions",
		"post_sessions",
		"get_sessions_sessionid",
		"delete_sessions_sessionid",
		"get_users",
	}
	if got := toolNames(reg); !reflect.DeepEqual(got, want) {
		t.Errorf("names = %v, want %v", got, want)
	}

	tool, ok := reg.Lookup("get_sessions_sessionid")
	if !ok {
		t.Fatal("Lookup failed")
	}
	if tool.Operation.Path != "/sessions/{sessionId}" || tool.Operation.Method != "GET" {
		t.Errorf("tool maps to %s", tool.Operation.Key())
	}
	if _, ok := reg.Lookup("nope"); ok {
		t.Error("Lookup of unknown name succeeded")
	}
}

func TestRegistryPrefixAndOperationID(t *testing.T) {
	reg := newTestRegistry(t, Options{Prefix: "crm_", PreferOperationID: true})
	want := []string{
		"crm_listSessions",
		"crm_createSession",
		"crm_get_sessions_sessionid",
		"crm_delete_sessions_sessionid",
		"crm_get_users",
	}
	if got := toolNames(reg); !reflect.DeepEqual(got, want) {
		t.Errorf("names = %v, want %v", got, want)
	}
}

func TestRegistryWhitelistBlacklist(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{
			name: "whitelist prefix",
			opts: Options{Whitelist: []string{"/sessions"}},
			want: []string{"get_sessions", "post_sessions", "get_sessions_sessionid", "delete_sessions_sessionid"},
		},
		{
			name: "whitelist placeholder",
			opts: Options{Whitelist: []string{"/sessions/{id}"}},
			want: []string{"get_sessions_sessionid", "delete_sessions_sessionid"},
		},
		{
			name: "blacklist",
			opts: Options{Blacklist: []string{"/users"}},
			want: []string{"get_sessions", "post_sessions", "get_sessions_sessionid", "delete_sessions_sessionid"},
		},
		{
			name: "whitelist wins",
			opts: Options{Whitelist: []string{"/users"}, Blacklist: []string{"/users"}},
			want: []string{"get_users"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newTestRegistry(t, tt.opts)
			if got := toolNames(reg); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("names = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRegistryInputSchema(t *testing.T) {
	reg := newTestRegistry(t, Options{})

	list, _ := reg.Lookup("get_sessions")
	props := list.InputSchema["properties"].(map[string]any)
	if _, ok := props["filter_status_"]; !ok {
		t.Errorf("bracket parameter not escaped: %v", props)
	}
	b, ok := list.Binding("filter_status_")
	if !ok || b.Name != "filter[status]" || b.In != InQuery {
		t.Errorf("binding = %+v", b)
	}
	if list.InputSchema["additionalProperties"] != false {
		t.Error("additionalProperties must be false")
	}

	create, _ := reg.Lookup("post_sessions")
	props = create.InputSchema["properties"].(map[string]any)
	if _, ok := props["user"]; !ok {
		t.Errorf("body field not flattened: %v", props)
	}
	if _, ok := props["id"]; ok {
		t.Error("readOnly body field should not be an argument")
	}
	if got := create.InputSchema["required"]; !reflect.DeepEqual(got, []string{"user"}) {
		t.Errorf("required = %v", got)
	}

	getOne, _ := reg.Lookup("get_sessions_sessionid")
	if got := getOne.InputSchema["required"]; !reflect.DeepEqual(got, []string{"sessionId"}) {
		t.Errorf("required = %v", got)
	}
	if getOne.Description != "Get a session" {
		t.Errorf("description = %q", getOne.Description)
	}

	del, _ := reg.Lookup("delete_sessions_sessionid")
	if del.Description != "DELETE /sessions/{sessionId}" {
		t.Errorf("placeholder description = %q", del.Description)
	}
}

func TestBuildInputSchemaParameterWins(t *testing.T) {
	op := &OperationDescriptor{
		Method: "PUT",
		Path:   "/items/{id}",
		Parameters: []Parameter{
			{Name: "id", In: InPath, Required: true, Schema: map[string]any{"type": "string"}},
		},
		RequestBody: &RequestBody{
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":   map[string]any{"type": "integer"},
					"name": map[string]any{"type": "string"},
				},
			},
		},
	}
	schema, bindings := BuildInputSchema(op, zaptest.NewLogger(t))
	props := schema["properties"].(map[string]any)
	if props["id"].(map[string]any)["type"] != "string" {
		t.Errorf("parameter should win over body field: %v", props["id"])
	}
	if len(bindings) != 2 {
		t.Fatalf("bindings = %+v", bindings)
	}
	if bindings[0].In != InPath || bindings[1].In != InBody || bindings[1].Name != "name" {
		t.Errorf("bindings = %+v", bindings)
	}
}

func TestBuildInputSchemaNonObjectBody(t *testing.T) {
	op := &OperationDescriptor{
		Method: "POST",
		Path:   "/tags",
		RequestBody: &RequestBody{
			Required: true,
			Schema:   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
	}
	schema, bindings := BuildInputSchema(op, zaptest.NewLogger(t))
	props := schema["properties"].(map[string]any)
	body, ok := props[RequestBodyProperty].(map[string]any)
	if !ok || body["type"] != "array" {
		t.Fatalf("requestBody property = %v", props)
	}
	if len(bindings) != 1 || bindings[0].In != InBodyWhole {
		t.Errorf("bindings = %+v", bindings)
	}
	if !reflect.DeepEqual(schema["required"], []string{RequestBodyProperty}) {
		t.Errorf("required = %v", schema["required"])
	}
}

func TestToolNameStyles(t *testing.T) {
	tests := []struct {
		method, path, style, want string
	}{
		{"GET", "/sessions/{sessionId}", NameStylePath, "get_sessions_sessionid"},
		{"POST", "/v1/user-profiles/{id}/avatar.png", NameStylePath, "post_v1_user-profiles_id_avatar_png"},
		{"GET", "/", NameStylePath, "get_root"},
		{"GET", "/api/v2/users", NameStyleBy, "get_v2_users"},
		{"POST", "/users/{id}", NameStyleBy, "post_users_by_id"},
		{"GET", "/section/resources/{param1}.{param2}", NameStyleBy, "get_section_resources_by_param1_param2"},
		{"GET", "/{param1}/resources", NameStyleBy, "get_by_param1_resources"},
		{"GET", "/users/user_{id}", NameStyleBy, "get_users_user_by_id"},
	}
	for _, tt := range tests {
		op := &OperationDescriptor{Method: tt.method, Path: tt.path}
		if got := ToolName(op, tt.style, false); got != tt.want {
			t.Errorf("ToolName(%s %s, %s) = %q, want %q", tt.method, tt.path, tt.style, got, tt.want)
		}
	}
}

func TestUniqueNameRespectsLimit(t *testing.T) {
	taken := map[string]bool{}
	base := strings.Repeat("a", 10)
	var got []string
	for i := 0; i < 3; i++ {
		name := uniqueName(base, 10, taken)
		taken[name] = true
		got = append(got, name)
	}
	want := []string{"aaaaaaaaaa", "aaaaaaaa_2", "aaaaaaaa_3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("names = %v, want %v", got, want)
	}
}

func TestUniqueNameLimitShorterThanSuffix(t *testing.T) {
	taken := map[string]bool{"abcdef": true, "a_2": true}
	if got := uniqueName("abcdef", 2, taken); got != "a_3" {
		t.Errorf("uniqueName = %q, want a_3", got)
	}
	taken = map[string]bool{"abcdef": true}
	for n := 2; n < 10; n++ {
		taken[fmt.Sprintf("a_%d", n)] = true
	}
	if got := uniqueName("abcdef", 3, taken); got != "a_10" {
		t.Errorf("uniqueName = %q, want a_10", got)
	}
}

func TestRegistryCollisionSuffix(t *testing.T) {
	doc := &Document{Operations: []OperationDescriptor{
		{Method: "GET", Path: "/a/b"},
		{Method: "GET", Path: "/a_b"},
		{Method: "GET", Path: "/a/{b}"},
	}}
	reg, err := NewRegistry(doc, Options{}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"get_a_b", "get_a_b_2", "get_a_b_3"}
	if got := toolNames(reg); !reflect.DeepEqual(got, want) {
		t.Errorf("names = %v, want %v", got, want)
	}
	if reg.Len() != 3 {
		t.Errorf("Len = %d", reg.Len())
	}
}

func TestPathFilter(t *testing.T) {
	f, err := NewPathFilter([]string{"/pets", "/users/{id}/orders"})
	if err != nil {
		t.Fatal(err)
	}
	tests := map[string]bool{
		"/pets":                    true,
		"/pets/{petId}":            true,
		"/petsitters":              true,
		"/users/42/orders":         true,
		"/users/{userId}/orders/1": true,
		"/users/42":                false,
		"/users/a/b/orders":        false,
		"/stores":                  false,
	}
	for path, want := range tests {
		if got := f.Match(path); got != want {
			t.Errorf("Match(%q) = %v, want %v", path, got, want)
		}
	}
	empty, _ := NewPathFilter([]string{"", "  "})
	if !empty.Empty() {
		t.Error("blank entries should be ignored")
	}
}

func TestPrintToolSummary(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	var buf bytes.Buffer
	PrintToolSummary(&buf, reg)
	out := buf.String()
	for _, want := range []string{"API: Sessions API 2.1.0", "Total tools: 5", "sessions: 2", "get_users"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}
