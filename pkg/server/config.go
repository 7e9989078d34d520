package server

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

// Auth types accepted in API_AUTH_TYPE.
const (
	AuthTypeBearer  = "bearer"
	AuthTypeAPIKey  = "api-key"
	AuthTypeBasic   = "basic"
	AuthTypeHeader  = "header"
	AuthTypePayload = "payload"
	AuthTypeAuto    = "auto"
)

// Tool naming styles accepted in TOOL_NAME_STYLE.
const (
	NameStylePath = "path"
	NameStyleBy   = "by"
)

// Config holds the resolved proxy configuration. It is built once at startup
// and treated as read-only afterwards.
type Config struct {
	SpecLocation  string
	SpecTimeout   time.Duration
	IgnoreSSLSpec bool
	MaxSpecBytes  int64

	SimpleMode        bool
	Whitelist         []string
	Blacklist         []string
	NamePrefix        string
	NameMaxLength     int
	NameStyle         string
	PreferOperationID bool

	Credential  string
	AuthType    string
	AuthHeader  string
	AuthScheme  string
	PayloadPath string

	ServerURLOverride  string
	ExtraHeaders       http.Header
	StripParam         string
	IgnoreSSLTools     bool
	RequestTimeout     time.Duration
	MaxResponseBytes   int64
	MaxConcurrentCalls int

	EnableResources bool
	EnablePrompts   bool

	HTTPMode bool
	HTTPAddr string

	DatabaseURL string
	LogLevel    string
	ConfigFile  string
	// ListTools prints the tool summary and exits instead of serving.
	ListTools bool
}

// fileConfig mirrors the TOML config file layout.
type fileConfig struct {
	Spec struct {
		Location  string `toml:"location"`
		Timeout   string `toml:"timeout"`
		IgnoreSSL bool   `toml:"ignore_ssl"`
		MaxBytes  int64  `toml:"max_bytes"`
	} `toml:"spec"`
	Tools struct {
		SimpleMode        bool     `toml:"simple_mode"`
		Whitelist         []string `toml:"whitelist"`
		Blacklist         []string `toml:"blacklist"`
		Prefix            string   `toml:"prefix"`
		MaxNameLength     int      `toml:"max_name_length"`
		NameStyle         string   `toml:"name_style"`
		PreferOperationID bool     `toml:"prefer_operation_id"`
		StripParam        string   `toml:"strip_param"`
	} `toml:"tools"`
	Auth struct {
		Type        string `toml:"type"`
		Header      string `toml:"header"`
		Scheme      string `toml:"scheme"`
		PayloadPath string `toml:"payload_path"`
	} `toml:"auth"`
	Upstream struct {
		ServerURL          string            `toml:"server_url"`
		Headers            map[string]string `toml:"headers"`
		Timeout            string            `toml:"timeout"`
		IgnoreSSL          bool              `toml:"ignore_ssl"`
		MaxResponseBytes   int64             `toml:"max_response_bytes"`
		MaxConcurrentCalls int               `toml:"max_concurrent_calls"`
	} `toml:"upstream"`
	Features struct {
		Resources bool `toml:"resources"`
		Prompts   bool `toml:"prompts"`
	} `toml:"features"`
	HTTP struct {
		Addr string `toml:"addr"`
	} `toml:"http"`
	Database struct {
		URL string `toml:"url"`
	} `toml:"database"`
	Logging struct {
		Level string `toml:"level"`
	} `toml:"logging"`
}

// NewDefaultConfig returns a Config with defaults applied.
func NewDefaultConfig() *Config {
	return &Config{
		SpecTimeout:        30 * time.Second,
		MaxSpecBytes:       32 << 20,
		NameMaxLength:      64,
		NameStyle:          NameStylePath,
		AuthType:           AuthTypeBearer,
		ExtraHeaders:       make(http.Header),
		RequestTimeout:     30 * time.Second,
		MaxResponseBytes:   10 << 20,
		MaxConcurrentCalls: 16,
		LogLevel:           "info",
	}
}

// LoadConfig loads configuration with priority:
// defaults -> TOML file -> .env -> environment -> command line arguments.
//
// Recognised arguments are "--http <addr>", "--config <file>", "--simple" and
// one positional spec location.
func LoadConfig(args []string) (*Config, error) {
	config := NewDefaultConfig()

	var httpAddr, specArg string
	simpleFlag := false
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--http" && i+1 < len(args):
			httpAddr = args[i+1]
			i++
		case arg == "--config" && i+1 < len(args):
			config.ConfigFile = args[i+1]
			i++
		case arg == "--simple":
			simpleFlag = true
		case arg == "--list-tools":
			config.ListTools = true
		case strings.HasPrefix(arg, "--"):
			return nil, fmt.Errorf("unknown argument %q", arg)
		case IsHTTPAddress(arg):
			httpAddr = arg
		default:
			specArg = arg
		}
	}

	if config.ConfigFile == "" {
		config.ConfigFile = os.Getenv("MCP_PROXY_CONFIG")
	}
	if config.ConfigFile != "" {
		if err := config.loadFile(config.ConfigFile); err != nil {
			return nil, err
		}
	}

	// .env never overrides variables already present in the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}

	if specArg != "" {
		config.SpecLocation = specArg
	}
	if simpleFlag {
		config.SimpleMode = true
	}
	if httpAddr != "" {
		config.HTTPMode = true
		config.HTTPAddr = httpAddr
	}

	return config, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	setString(&c.SpecLocation, fc.Spec.Location)
	if fc.Spec.Timeout != "" {
		d, err := parseDuration(fc.Spec.Timeout)
		if err != nil {
			return fmt.Errorf("spec.timeout: %w", err)
		}
		c.SpecTimeout = d
	}
	c.IgnoreSSLSpec = c.IgnoreSSLSpec || fc.Spec.IgnoreSSL
	if fc.Spec.MaxBytes > 0 {
		c.MaxSpecBytes = fc.Spec.MaxBytes
	}

	c.SimpleMode = c.SimpleMode || fc.Tools.SimpleMode
	if len(fc.Tools.Whitelist) > 0 {
		c.Whitelist = fc.Tools.Whitelist
	}
	if len(fc.Tools.Blacklist) > 0 {
		c.Blacklist = fc.Tools.Blacklist
	}
	setString(&c.NamePrefix, fc.Tools.Prefix)
	if fc.Tools.MaxNameLength > 0 {
		c.NameMaxLength = fc.Tools.MaxNameLength
	}
	setString(&c.NameStyle, fc.Tools.NameStyle)
	c.PreferOperationID = c.PreferOperationID || fc.Tools.PreferOperationID
	setString(&c.StripParam, fc.Tools.StripParam)

	setString(&c.AuthType, strings.ToLower(fc.Auth.Type))
	setString(&c.AuthHeader, fc.Auth.Header)
	setString(&c.AuthScheme, fc.Auth.Scheme)
	setString(&c.PayloadPath, fc.Auth.PayloadPath)

	setString(&c.ServerURLOverride, fc.Upstream.ServerURL)
	for name, value := range fc.Upstream.Headers {
		c.ExtraHeaders.Set(name, value)
	}
	if fc.Upstream.Timeout != "" {
		d, err := parseDuration(fc.Upstream.Timeout)
		if err != nil {
			return fmt.Errorf("upstream.timeout: %w", err)
		}
		c.RequestTimeout = d
	}
	c.IgnoreSSLTools = c.IgnoreSSLTools || fc.Upstream.IgnoreSSL
	if fc.Upstream.MaxResponseBytes > 0 {
		c.MaxResponseBytes = fc.Upstream.MaxResponseBytes
	}
	if fc.Upstream.MaxConcurrentCalls > 0 {
		c.MaxConcurrentCalls = fc.Upstream.MaxConcurrentCalls
	}

	c.EnableResources = c.EnableResources || fc.Features.Resources
	c.EnablePrompts = c.EnablePrompts || fc.Features.Prompts

	if fc.HTTP.Addr != "" {
		c.HTTPMode = true
		c.HTTPAddr = fc.HTTP.Addr
	}
	setString(&c.DatabaseURL, fc.Database.URL)
	setString(&c.LogLevel, fc.Logging.Level)
	return nil
}

// applyEnvOverrides applies the proxy environment variables to config.
func applyEnvOverrides(c *Config) error {
	if v, ok := lookupEnv("OPENAPI_SPEC_URL"); ok {
		c.SpecLocation = v
	}
	if v, ok := lookupEnv("SPEC_TIMEOUT"); ok {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("SPEC_TIMEOUT: %w", err)
		}
		c.SpecTimeout = d
	}
	if v, ok := lookupEnv("IGNORE_SSL_SPEC"); ok {
		c.IgnoreSSLSpec = parseBool(v)
	}

	if v, ok := lookupEnv("OPENAPI_SIMPLE_MODE"); ok {
		c.SimpleMode = parseBool(v)
	}
	if v, ok := lookupEnv("TOOL_WHITELIST"); ok {
		c.Whitelist = splitList(v)
	}
	if v, ok := lookupEnv("TOOL_BLACKLIST"); ok {
		c.Blacklist = splitList(v)
	}
	if v, ok := lookupEnv("TOOL_NAME_PREFIX"); ok {
		c.NamePrefix = v
	}
	if v, ok := lookupEnv("TOOL_NAME_MAX_LENGTH"); ok {
		n, err := cast.ToIntE(v)
		if err != nil {
			return fmt.Errorf("TOOL_NAME_MAX_LENGTH: %w", err)
		}
		c.NameMaxLength = n
	}
	if v, ok := lookupEnv("TOOL_NAME_STYLE"); ok {
		c.NameStyle = strings.ToLower(v)
	}
	if v, ok := lookupEnv("TOOL_NAME_FROM_OPERATION_ID"); ok {
		c.PreferOperationID = parseBool(v)
	}
	if v, ok := lookupEnv("STRIP_PARAM"); ok {
		c.StripParam = v
	}

	if v, ok := lookupEnv("API_KEY"); ok {
		c.Credential = v
	}
	if v, ok := lookupEnv("API_AUTH_TYPE"); ok {
		c.AuthType = strings.ToLower(v)
	}
	if v, ok := lookupEnv("API_AUTH_HEADER"); ok {
		c.AuthHeader = v
	}
	if v, ok := lookupEnv("API_AUTH_SCHEME"); ok {
		c.AuthScheme = v
	}
	if v, ok := lookupEnv("API_KEY_JMESPATH"); ok {
		c.PayloadPath = v
	}

	if v, ok := lookupEnv("SERVER_URL_OVERRIDE"); ok {
		c.ServerURLOverride = firstHTTPURL(v)
		if c.ServerURLOverride == "" {
			return fmt.Errorf("SERVER_URL_OVERRIDE has no http(s) URL: %q", v)
		}
	}
	if v, ok := lookupEnv("EXTRA_HEADERS"); ok {
		for name, values := range ParseHeaderLines(v) {
			c.ExtraHeaders[name] = values
		}
	}
	if v, ok := lookupEnv("IGNORE_SSL_TOOLS"); ok {
		c.IgnoreSSLTools = parseBool(v)
	}
	if v, ok := lookupEnv("REQUEST_TIMEOUT"); ok {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("REQUEST_TIMEOUT: %w", err)
		}
		c.RequestTimeout = d
	}
	if v, ok := lookupEnv("MAX_CONCURRENT_CALLS"); ok {
		n, err := cast.ToIntE(v)
		if err != nil {
			return fmt.Errorf("MAX_CONCURRENT_CALLS: %w", err)
		}
		c.MaxConcurrentCalls = n
	}

	if v, ok := lookupEnv("ENABLE_RESOURCES"); ok {
		c.EnableResources = parseBool(v)
	}
	if v, ok := lookupEnv("ENABLE_PROMPTS"); ok {
		c.EnablePrompts = parseBool(v)
	}
	if v, ok := lookupEnv("DATABASE_URL"); ok {
		c.DatabaseURL = v
	}
	if v, ok := lookupEnv("LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := lookupEnv("DEBUG"); ok && parseBool(v) {
		c.LogLevel = "debug"
	}
	return nil
}

// IsHTTPAddress checks if a string looks like a listen address such as ":8080"
func IsHTTPAddress(s string) bool {
	if s == "" {
		return false
	}
	if s[0] == ':' {
		_, err := strconv.Atoi(s[1:])
		return err == nil
	}
	host, port, ok := strings.Cut(s, ":")
	if !ok || host == "" || strings.Contains(host, "/") {
		return false
	}
	_, err := strconv.Atoi(port)
	return err == nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.SpecLocation == "" {
		return fmt.Errorf("no OpenAPI spec location provided (set OPENAPI_SPEC_URL or pass it as an argument)")
	}

	switch c.AuthType {
	case "", AuthTypeBearer, AuthTypeAPIKey, AuthTypeBasic, AuthTypeHeader, AuthTypePayload, AuthTypeAuto:
	default:
		return fmt.Errorf("unsupported API_AUTH_TYPE %q", c.AuthType)
	}
	if c.AuthType == AuthTypeHeader && c.AuthHeader == "" {
		return fmt.Errorf("API_AUTH_TYPE=header requires API_AUTH_HEADER")
	}
	if c.AuthType == AuthTypePayload && c.PayloadPath == "" {
		return fmt.Errorf("API_AUTH_TYPE=payload requires API_KEY_JMESPATH")
	}
	if c.PayloadPath != "" {
		root, _, _ := strings.Cut(c.PayloadPath, ".")
		if i := strings.IndexByte(root, '['); i >= 0 {
			root = root[:i]
		}
		switch root {
		case "query", "body", "header", "headers":
		default:
			return fmt.Errorf("API_KEY_JMESPATH must start with query, body or header: %q", c.PayloadPath)
		}
	}

	if c.ServerURLOverride != "" && firstHTTPURL(c.ServerURLOverride) == "" {
		return fmt.Errorf("server URL override must be an http(s) URL: %q", c.ServerURLOverride)
	}

	switch c.NameStyle {
	case NameStylePath, NameStyleBy:
	default:
		return fmt.Errorf("unsupported TOOL_NAME_STYLE %q", c.NameStyle)
	}
	if c.NameMaxLength < 0 {
		return fmt.Errorf("TOOL_NAME_MAX_LENGTH must not be negative")
	}
	if c.MaxConcurrentCalls < 1 {
		return fmt.Errorf("MAX_CONCURRENT_CALLS must be at least 1")
	}
	if c.RequestTimeout <= 0 || c.SpecTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}

// LogConfiguration logs the current configuration with secrets masked
func (c *Config) LogConfiguration(log *zap.Logger) {
	fields := []zap.Field{
		zap.String("spec", c.SpecLocation),
		zap.Bool("simple_mode", c.SimpleMode),
		zap.Strings("whitelist", c.Whitelist),
		zap.Strings("blacklist", c.Blacklist),
		zap.String("name_prefix", c.NamePrefix),
		zap.String("name_style", c.NameStyle),
		zap.String("auth_type", c.AuthType),
		zap.Bool("credential_set", c.Credential != ""),
		zap.Duration("request_timeout", c.RequestTimeout),
	}
	if c.Credential != "" {
		fields = append(fields, zap.String("credential", MaskSecret(c.Credential)))
	}
	if c.ServerURLOverride != "" {
		fields = append(fields, zap.String("server_url_override", c.ServerURLOverride))
	}
	if len(c.ExtraHeaders) > 0 {
		names := make([]string, 0, len(c.ExtraHeaders))
		for name := range c.ExtraHeaders {
			names = append(names, name)
		}
		fields = append(fields, zap.Strings("extra_headers", names))
	}
	if c.DatabaseURL != "" {
		fields = append(fields, zap.String("database_url", maskSensitive(c.DatabaseURL)))
	}
	if c.HTTPMode {
		fields = append(fields, zap.String("http_addr", c.HTTPAddr))
	} else {
		fields = append(fields, zap.String("transport", "stdio"))
	}
	log.Info("configuration loaded", fields...)
}

// ParseHeaderLines parses "Name: value" lines. Lines without a colon are ignored.
func ParseHeaderLines(s string) http.Header {
	headers := make(http.Header)
	for _, line := range strings.Split(s, "\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		headers.Add(name, strings.TrimSpace(value))
	}
	return headers
}

// MaskSecret masks sensitive authentication values for logging
func MaskSecret(value string) string {
	if len(value) <= 8 {
		return strings.Repeat("*", len(value))
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// maskSensitive masks sensitive parts of URLs for logging
func maskSensitive(url string) string {
	if len(url) > 20 {
		return url[:8] + "***" + url[len(url)-8:]
	}
	return "***"
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstHTTPURL(s string) string {
	for _, candidate := range splitList(s) {
		if strings.HasPrefix(candidate, "http://") || strings.HasPrefix(candidate, "https://") {
			return candidate
		}
	}
	return ""
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "on":
		return true
	}
	return cast.ToBool(s)
}

// parseDuration accepts Go durations ("15s") and bare numbers as seconds.
func parseDuration(s string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return cast.ToDurationE(s)
}
