package openapi2mcp

import (
	"fmt"
	"strings"

	"github.com/starlake-ai/mcp-openapi-proxy/pkg/server"
	"go.uber.org/zap"
)

// Options control which operations become tools and how they are named.
type Options struct {
	Whitelist         []string
	Blacklist         []string
	Prefix            string
	MaxNameLength     int
	NameStyle         string
	PreferOperationID bool
}

// OptionsFromConfig extracts registry options from the server configuration.
func OptionsFromConfig(cfg *server.Config) Options {
	return Options{
		Whitelist:         cfg.Whitelist,
		Blacklist:         cfg.Blacklist,
		Prefix:            cfg.NamePrefix,
		MaxNameLength:     cfg.NameMaxLength,
		NameStyle:         cfg.NameStyle,
		PreferOperationID: cfg.PreferOperationID,
	}
}

// Registry holds the tools derived from a Document, keyed by name.
type Registry struct {
	doc    *Document
	tools  []*ToolDefinition
	byName map[string]*ToolDefinition
}

// NewRegistry filters the operations of doc and builds one tool per remaining
// operation. The whitelist, when set, takes precedence over the blacklist.
func NewRegistry(doc *Document, opts Options, log *zap.Logger) (*Registry, error) {
	whitelist, err := NewPathFilter(opts.Whitelist)
	if err != nil {
		return nil, server.Wrap(err, server.ErrorTypeValidation, "invalid whitelist entry")
	}
	blacklist, err := NewPathFilter(opts.Blacklist)
	if err != nil {
		return nil, server.Wrap(err, server.ErrorTypeValidation, "invalid blacklist entry")
	}
	if opts.MaxNameLength == 0 {
		opts.MaxNameLength = DefaultMaxNameLength
	}

	r := &Registry{
		doc:    doc,
		byName: make(map[string]*ToolDefinition, len(doc.Operations)),
	}
	taken := map[string]bool{}
	skipped := 0

	for i := range doc.Operations {
		op := &doc.Operations[i]
		switch {
		case !whitelist.Empty():
			if !whitelist.Match(op.Path) {
				skipped++
				continue
			}
		case blacklist.Match(op.Path):
			skipped++
			continue
		}

		name := opts.Prefix + ToolName(op, opts.NameStyle, opts.PreferOperationID)
		name = truncateName(name, opts.MaxNameLength)
		unique := uniqueName(name, opts.MaxNameLength, taken)
		if unique != name {
			log.Warn("tool name collision, adding suffix",
				zap.String("operation", describe(op)), zap.String("name", name), zap.String("registered_as", unique))
		}
		taken[unique] = true

		schema, bindings := BuildInputSchema(op, log)
		tool := &ToolDefinition{
			Name:        unique,
			Description: toolDescription(op),
			InputSchema: schema,
			Operation:   op,
			Arguments:   bindings,
		}
		r.tools = append(r.tools, tool)
		r.byName[unique] = tool
	}

	log.Info("tool registry built",
		zap.String("api", doc.Title),
		zap.Int("operations", len(doc.Operations)),
		zap.Int("tools", len(r.tools)),
		zap.Int("filtered", skipped))
	return r, nil
}

// toolDescription joins summary and description, falling back to "METHOD /path".
func toolDescription(op *OperationDescriptor) string {
	summary := strings.TrimSpace(op.Summary)
	description := strings.TrimSpace(op.Description)
	var text string
	switch {
	case summary != "" && description != "" && summary != description:
		text = summary + "\n\n" + description
	case summary != "":
		text = summary
	case description != "":
		text = description
	default:
		text = fmt.Sprintf("%s %s", op.Method, op.Path)
	}
	if op.Deprecated {
		text = "[DEPRECATED] " + text
	}
	return text
}

// List returns the tools in registration order.
func (r *Registry) List() []*ToolDefinition {
	return r.tools
}

// Lookup finds a tool by name.
func (r *Registry) Lookup(name string) (*ToolDefinition, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.tools)
}

// Document returns the normalized document the registry was built from.
func (r *Registry) Document() *Document {
	return r.doc
}
