package openapi2mcp

import (
	"fmt"
	"regexp"
	"strings"
)

// Name styles.
const (
	NameStylePath = "path"
	NameStyleBy   = "by"
)

// DefaultMaxNameLength is the tool name limit most MCP clients enforce.
const DefaultMaxNameLength = 64

var (
	invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
	repeatedUnders   = regexp.MustCompile(`_{2,}`)
	apiSegment       = regexp.MustCompile(`/(api|rest|public)/?`)
	placeholder      = regexp.MustCompile(`\{([^}]+)\}`)
)

// ToolName derives the base tool name of an operation, before prefixing and
// truncation.
func ToolName(op *OperationDescriptor, style string, preferOperationID bool) string {
	if preferOperationID && op.OperationID != "" {
		if name := sanitizeName(op.OperationID); name != "" {
			return name
		}
	}
	if style == NameStyleBy {
		return byStyleName(op.Method, op.Path)
	}
	return pathStyleName(op.Method, op.Path)
}

// pathStyleName turns "GET /sessions/{sessionId}" into "get_sessions_sessionid".
func pathStyleName(method, path string) string {
	p := strings.TrimPrefix(path, "/")
	p = strings.ReplaceAll(p, "/", "_")
	p = strings.NewReplacer("{", "", "}", "").Replace(p)
	if p == "" {
		p = "root"
	}
	name := strings.ToLower(method) + "_" + p
	return strings.ToLower(sanitizeName(name))
}

// byStyleName turns "GET /api/v2/users/{id}" into "get_v2_users_by_id".
func byStyleName(method, path string) string {
	p := apiSegment.ReplaceAllString(path, "/")
	parts := strings.Split(p, "/")
	for i, part := range parts {
		params := placeholder.FindAllStringSubmatch(part, -1)
		if len(params) == 0 {
			continue
		}
		names := make([]string, 0, len(params))
		for _, m := range params {
			names = append(names, m[1])
		}
		base := placeholder.ReplaceAllString(part, "")
		parts[i] = base + "_by_" + strings.Join(names, "_")
	}
	p = strings.Join(parts, "_")
	p = strings.NewReplacer(".", "_", "-", "_").Replace(p)
	return sanitizeName(strings.ToLower(method) + "_" + p)
}

// sanitizeName replaces characters MCP clients reject and tidies underscores.
func sanitizeName(name string) string {
	name = invalidNameChars.ReplaceAllString(name, "_")
	name = repeatedUnders.ReplaceAllString(name, "_")
	return strings.Trim(name, "_")
}

// truncateName cuts name to at most max bytes. max <= 0 disables the limit.
func truncateName(name string, max int) string {
	if max <= 0 || len(name) <= max {
		return name
	}
	return strings.TrimRight(name[:max], "_")
}

// uniqueName returns name, or name with a "_2", "_3", ... suffix when it is
// already taken. The base is truncated so the suffixed name fits in max; it
// keeps at least one character, so a max shorter than the suffix is exceeded.
func uniqueName(name string, max int, taken map[string]bool) string {
	if !taken[name] {
		return name
	}
	for n := 2; ; n++ {
		suffix := fmt.Sprintf("_%d", n)
		limit := 0
		if max > 0 {
			limit = max - len(suffix)
			if limit < 1 {
				limit = 1
			}
		}
		candidate := truncateName(name, limit) + suffix
		if !taken[candidate] {
			return candidate
		}
	}
}
