// Command mcp-openapi-proxy exposes the operations of an OpenAPI v2/v3 spec as
// MCP tools over stdio or Streamable HTTP.
//
// Usage:
//
//	mcp-openapi-proxy [--simple] [--list-tools] [--config file.toml] [--http :8080] [spec]
//
// The spec location is a URL, a file path, or "catalog:<name>" with
// DATABASE_URL set. Every option also has an environment variable; see
// pkg/server/config.go.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/starlake-ai/mcp-openapi-proxy/pkg/mcp/server"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/openapi2mcp"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/proxy"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/server"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 25 * time.Second

func main() {
	cfg, err := server.LoadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	log, err := server.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	cfg.LogConfiguration(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		var serverErr *server.ServerError
		if errors.As(err, &serverErr) {
			serverErr.LogError(log)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		_ = log.Sync()
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *server.Config, log *zap.Logger) error {
	p, err := proxy.New(ctx, cfg, log, proxy.WithVersion(version))
	if err != nil {
		return err
	}
	defer p.Close()

	if cfg.ListTools {
		openapi2mcp.PrintToolSummary(os.Stdout, p.Registry)
		return nil
	}

	if cfg.HTTPMode {
		return serveHTTP(ctx, p, cfg.HTTPAddr, log)
	}

	log.Info("serving MCP over stdio", zap.Int("tools", p.Registry.Len()))
	return mcpserver.ServeStdio(ctx, p.NewAdapter(), cfg.MaxConcurrentCalls, os.Stdin, os.Stdout, log)
}

func serveHTTP(ctx context.Context, p *proxy.Proxy, addr string, log *zap.Logger) error {
	httpServer := mcpserver.NewStreamableHTTPServer(p.NewAdapter,
		mcpserver.WithToolLister(p.Presenter),
		mcpserver.WithHTTPContextFunc(requestIDFromHeader),
		mcpserver.WithLogger(log))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpServer.Start(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down HTTP server", zap.Duration("timeout", shutdownTimeout))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// requestIDFromHeader lets clients correlate tool calls with their own ids.
func requestIDFromHeader(ctx context.Context, r *http.Request) context.Context {
	if id := r.Header.Get("X-Request-Id"); id != "" {
		return server.WithRequestID(ctx, id)
	}
	return ctx
}
