// Package proxy assembles the spec loader, tool registry, request pipeline and
// MCP presenter from a Config. The stdio server, the HTTP server and the tool
// console all start from New.
package proxy

import (
	"context"
	"strings"

	"github.com/starlake-ai/mcp-openapi-proxy/pkg/auth"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/database"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/loader"
	mcpserver "github.com/starlake-ai/mcp-openapi-proxy/pkg/mcp/server"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/openapi2mcp"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/repository"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/request"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/server"
	"go.uber.org/zap"
)

// Catalog resolves "catalog:<name>" spec locations and their stored tokens.
type Catalog interface {
	loader.CatalogSource
	APIKeyToken(ctx context.Context, name string) (string, error)
}

// Option configures New.
type Option func(*options)

type options struct {
	catalog Catalog
	version string
}

// WithCatalog uses catalog instead of connecting to DATABASE_URL.
func WithCatalog(catalog Catalog) Option {
	return func(o *options) {
		o.catalog = catalog
	}
}

// WithVersion sets the server version reported on initialize.
func WithVersion(version string) Option {
	return func(o *options) {
		o.version = version
	}
}

// Proxy is a loaded spec wired to its upstream API.
type Proxy struct {
	Config     *server.Config
	Registry   *openapi2mcp.Registry
	Dispatcher *mcpserver.Dispatcher
	Presenter  mcpserver.Presenter
	Auth       auth.Strategy

	version string
	closers []func() error
	log     *zap.Logger
}

// New loads cfg.SpecLocation and builds the tool pipeline. Errors while loading
// the spec are ServerErrors of a spec_* type and are fatal to startup.
func New(ctx context.Context, cfg *server.Config, log *zap.Logger, opts ...Option) (*Proxy, error) {
	o := &options{version: "dev"}
	for _, opt := range opts {
		opt(o)
	}
	p := &Proxy{Config: cfg, version: o.version, log: log}

	catalog := o.catalog
	if catalog == nil && cfg.DatabaseURL != "" {
		db, err := database.Open(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, db.Close)
		catalog = repository.NewOpenAPISpecRepository(db)
	}

	loaderOpts := []loader.Option{
		loader.WithTimeout(cfg.SpecTimeout),
		loader.WithInsecureTLS(cfg.IgnoreSSLSpec),
		loader.WithMaxBytes(cfg.MaxSpecBytes),
	}
	if catalog != nil {
		loaderOpts = append(loaderOpts, loader.WithCatalog(catalog))
	}

	raw, err := loader.NewSpecLoader(log, loaderOpts...).Load(ctx, cfg.SpecLocation)
	if err != nil {
		p.Close()
		return nil, err
	}
	doc, err := openapi2mcp.Normalize(ctx, raw, log)
	if err != nil {
		p.Close()
		return nil, err
	}
	reg, err := openapi2mcp.NewRegistry(doc, openapi2mcp.OptionsFromConfig(cfg), log)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.Registry = reg

	if cfg.Credential == "" && catalog != nil && strings.HasPrefix(cfg.SpecLocation, loader.CatalogPrefix) {
		name := strings.TrimPrefix(cfg.SpecLocation, loader.CatalogPrefix)
		token, err := catalog.APIKeyToken(ctx, name)
		if err != nil {
			log.Warn("failed to read catalog api key token", zap.String("spec", name), zap.Error(err))
		} else if token != "" {
			cfg.Credential = token
			log.Info("using api key token stored in the catalog", zap.String("spec", name))
		}
	}

	strategy, err := auth.FromConfig(cfg, auth.ExtractSecuritySchemes(doc.Spec))
	if err != nil {
		p.Close()
		return nil, err
	}
	p.Auth = strategy

	builder := request.NewBuilder(request.BuilderOptions{
		DefaultServerURL:  doc.ServerURL,
		ServerURLOverride: cfg.ServerURLOverride,
		ExtraHeaders:      cfg.ExtraHeaders,
		StripParam:        cfg.StripParam,
		Auth:              strategy,
	}, log)
	invoker := request.NewInvoker(request.InvokerOptions{
		Timeout:          cfg.RequestTimeout,
		MaxResponseBytes: cfg.MaxResponseBytes,
		InsecureTLS:      cfg.IgnoreSSLTools,
	}, log)
	p.Dispatcher = mcpserver.NewDispatcher(reg, builder, invoker, log)

	if cfg.SimpleMode {
		p.Presenter = mcpserver.NewGenericInvokerPresenter(p.Dispatcher)
	} else {
		p.Presenter = mcpserver.NewDynamicPresenter(p.Dispatcher, log)
	}

	log.Info("spec loaded",
		zap.String("title", doc.Title),
		zap.String("version", doc.Version),
		zap.String("server_url", doc.ServerURL),
		zap.Int("operations", len(doc.Operations)),
		zap.Int("tools", reg.Len()),
		zap.String("auth", strategy.Describe()),
		zap.Bool("simple_mode", cfg.SimpleMode))
	return p, nil
}

// NewAdapter creates an adapter for one client session.
func (p *Proxy) NewAdapter() *mcpserver.Adapter {
	return mcpserver.NewAdapter(p.AdapterOptions(), p.log)
}

// AdapterOptions returns the adapter settings derived from the config.
func (p *Proxy) AdapterOptions() mcpserver.AdapterOptions {
	return mcpserver.AdapterOptions{
		Version:         p.version,
		Presenter:       p.Presenter,
		Registry:        p.Registry,
		EnableResources: p.Config.EnableResources,
		EnablePrompts:   p.Config.EnablePrompts,
		Instructions:    instructions(p.Registry.Document(), p.Config.SimpleMode),
	}
}

// Close releases the catalog connection, if any.
func (p *Proxy) Close() error {
	var first error
	for _, c := range p.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	p.closers = nil
	return first
}

func instructions(doc *openapi2mcp.Document, simple bool) string {
	if doc == nil || doc.Title == "" {
		return ""
	}
	text := "Tools for the " + doc.Title + " API."
	if simple {
		text += " Call " + mcpserver.ListFunctionsTool + " first, then " + mcpserver.CallFunctionTool + " with a toolName and its arguments."
	}
	return text
}
