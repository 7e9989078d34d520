package server

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadConfigArguments(t *testing.T) {
	cfg, err := LoadConfig([]string{"--simple", "--list-tools", "https://api.example.com/openapi.json", ":8080"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SpecLocation != "https://api.example.com/openapi.json" {
		t.Errorf("SpecLocation = %q", cfg.SpecLocation)
	}
	if !cfg.SimpleMode || !cfg.ListTools {
		t.Errorf("flags not applied: simple=%v list=%v", cfg.SimpleMode, cfg.ListTools)
	}
	if !cfg.HTTPMode || cfg.HTTPAddr != ":8080" {
		t.Errorf("http = %v %q", cfg.HTTPMode, cfg.HTTPAddr)
	}

	if _, err := LoadConfig([]string{"--verbose"}); err == nil {
		t.Error("expected an error for an unknown flag")
	}
}

func TestLoadConfigEnvironment(t *testing.T) {
	t.Setenv("OPENAPI_SPEC_URL", "./petstore.yaml")
	t.Setenv("TOOL_WHITELIST", "get_pets, post_pets ,")
	t.Setenv("TOOL_NAME_MAX_LENGTH", "40")
	t.Setenv("SERVER_URL_OVERRIDE", "ftp://mirror.example.com, https://staging.example.com")
	t.Setenv("EXTRA_HEADERS", "X-Client: proxy\nbroken line\nX-Team: core")
	t.Setenv("REQUEST_TIMEOUT", "2.5")
	t.Setenv("OPENAPI_SIMPLE_MODE", "yes")
	t.Setenv("API_KEY", "   ")

	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SpecLocation != "./petstore.yaml" {
		t.Errorf("SpecLocation = %q", cfg.SpecLocation)
	}
	if !reflect.DeepEqual(cfg.Whitelist, []string{"get_pets", "post_pets"}) {
		t.Errorf("Whitelist = %v", cfg.Whitelist)
	}
	if cfg.NameMaxLength != 40 {
		t.Errorf("NameMaxLength = %d", cfg.NameMaxLength)
	}
	if cfg.ServerURLOverride != "https://staging.example.com" {
		t.Errorf("ServerURLOverride = %q", cfg.ServerURLOverride)
	}
	if cfg.ExtraHeaders.Get("X-Client") != "proxy" || cfg.ExtraHeaders.Get("X-Team") != "core" {
		t.Errorf("ExtraHeaders = %v", cfg.ExtraHeaders)
	}
	if cfg.RequestTimeout != 2500*time.Millisecond {
		t.Errorf("RequestTimeout = %v", cfg.RequestTimeout)
	}
	if !cfg.SimpleMode {
		t.Error("OPENAPI_SIMPLE_MODE=yes should enable simple mode")
	}
	if cfg.Credential != "" {
		t.Errorf("blank API_KEY should be ignored, got %q", cfg.Credential)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	// Arguments win over the environment.
	cfg, err = LoadConfig([]string{"other.json"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SpecLocation != "other.json" {
		t.Errorf("SpecLocation = %q", cfg.SpecLocation)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxy.toml")
	content := `
[spec]
location = "https://api.example.com/spec.yaml"
timeout = "5s"

[tools]
blacklist = ["delete_pets_id"]
prefix = "pets_"

[auth]
type = "Header"
header = "X-Api-Key"

[upstream]
headers = { "X-Client" = "proxy" }
max_concurrent_calls = 4

[features]
prompts = true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TOOL_NAME_PREFIX", "env_")

	cfg, err := LoadConfig([]string{"--config", path})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SpecLocation != "https://api.example.com/spec.yaml" || cfg.SpecTimeout != 5*time.Second {
		t.Errorf("spec = %q %v", cfg.SpecLocation, cfg.SpecTimeout)
	}
	if cfg.NamePrefix != "env_" {
		t.Errorf("environment should override the file, NamePrefix = %q", cfg.NamePrefix)
	}
	if cfg.AuthType != AuthTypeHeader || cfg.AuthHeader != "X-Api-Key" {
		t.Errorf("auth = %q %q", cfg.AuthType, cfg.AuthHeader)
	}
	if cfg.ExtraHeaders.Get("X-Client") != "proxy" || cfg.MaxConcurrentCalls != 4 || !cfg.EnablePrompts {
		t.Errorf("cfg = %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.Blacklist, []string{"delete_pets_id"}) {
		t.Errorf("Blacklist = %v", cfg.Blacklist)
	}

	if _, err := LoadConfig([]string{"--config", filepath.Join(t.TempDir(), "missing.toml")}); err == nil {
		t.Error("expected an error for a missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "no spec", mutate: func(c *Config) { c.SpecLocation = "" }},
		{name: "unknown auth type", mutate: func(c *Config) { c.AuthType = "oauth" }},
		{name: "header without name", mutate: func(c *Config) { c.AuthType = AuthTypeHeader }},
		{name: "payload without path", mutate: func(c *Config) { c.AuthType = AuthTypePayload }},
		{name: "payload path root", mutate: func(c *Config) { c.PayloadPath = "cookie.token" }},
		{name: "relative override", mutate: func(c *Config) { c.ServerURLOverride = "/api" }},
		{name: "name style", mutate: func(c *Config) { c.NameStyle = "camel" }},
		{name: "concurrency", mutate: func(c *Config) { c.MaxConcurrentCalls = 0 }},
		{name: "timeout", mutate: func(c *Config) { c.RequestTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			cfg.SpecLocation = "spec.json"
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}

	cfg := NewDefaultConfig()
	cfg.SpecLocation = "spec.json"
	cfg.AuthType = AuthTypePayload
	cfg.PayloadPath = "body[0].auth.key"
	if err := cfg.Validate(); err != nil {
		t.Errorf("payload path with index: %v", err)
	}
}

func TestIsHTTPAddress(t *testing.T) {
	tests := map[string]bool{
		":8080":              true,
		"localhost:9000":     true,
		"0.0.0.0:80":         true,
		"":                   false,
		"spec.yaml":          false,
		"https://x.io:443":   false,
		"./dir/spec.json":    false,
		"localhost:notaport": false,
	}
	for in, want := range tests {
		if got := IsHTTPAddress(in); got != want {
			t.Errorf("IsHTTPAddress(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestMaskSecret(t *testing.T) {
	if got := MaskSecret("short"); got != "*****" {
		t.Errorf("MaskSecret(short) = %q", got)
	}
	if got := MaskSecret("sk-1234567890abcd"); got != "sk-1*********abcd" {
		t.Errorf("MaskSecret = %q", got)
	}
}
