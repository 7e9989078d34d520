// Command tool-console loads a spec like the proxy does and lets you list,
// describe and call its tools from an interactive prompt, without an MCP client.
//
//	tool-console [--simple] [--config file.toml] <spec>
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/proxy"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/server"
)

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
	if os.Getenv("LOG_LEVEL") == "" && os.Getenv("DEBUG") == "" {
		cfg.LogLevel = "warn"
	}
	log := server.MustNewLogger(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	p, err := proxy.New(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer p.Close()

	c := newConsole(p.Presenter, os.Stdout)
	if err := repl(ctx, c); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func repl(ctx context.Context, c *console) error {
	historyFile := ""
	if home, err := os.UserHomeDir(); err == nil {
		historyFile = filepath.Join(home, ".mcp_tool_console_history")
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "tools> ",
		HistoryFile:     historyFile,
		AutoComplete:    c.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdout:          c.out,
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Fprintf(c.out, "%d tools loaded. Type 'help' for commands.\n", len(c.tools))
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if quit := c.exec(ctx, line); quit {
			return nil
		}
	}
}
