package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/chzyer/readline"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/starlake-ai/mcp-openapi-proxy/pkg/mcp/server"
)

type console struct {
	presenter mcpserver.Presenter
	tools     map[string]mcpgo.Tool
	names     []string
	out       io.Writer
}

func newConsole(presenter mcpserver.Presenter, out io.Writer) *console {
	c := &console{presenter: presenter, tools: map[string]mcpgo.Tool{}, out: out}
	for _, tool := range presenter.ListTools() {
		c.tools[tool.Name] = tool
		c.names = append(c.names, tool.Name)
	}
	sort.Strings(c.names)
	return c
}

func (c *console) completer() *readline.PrefixCompleter {
	toolNames := func(string) []string { return c.names }
	return readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("list"),
		readline.PcItem("describe", readline.PcItemDynamic(toolNames)),
		readline.PcItem("call", readline.PcItemDynamic(toolNames)),
		readline.PcItem("exit"),
	)
}

// exec runs one console command and reports whether the console should exit.
func (c *console) exec(ctx context.Context, line string) bool {
	command, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)

	switch command {
	case "":
	case "help", "?":
		c.help()
	case "list", "ls":
		c.list(rest)
	case "describe", "desc":
		c.describe(rest)
	case "call":
		c.call(ctx, rest)
	case "exit", "quit":
		return true
	default:
		fmt.Fprintf(c.out, "unknown command %q, type 'help'\n", command)
	}
	return false
}

func (c *console) help() {
	fmt.Fprintln(c.out, "Commands:")
	fmt.Fprintln(c.out, "  list [filter]                  List tools, optionally those containing filter")
	fmt.Fprintln(c.out, "  describe <tool>                Show a tool's description and input schema")
	fmt.Fprintln(c.out, "  call <tool> {json}             Call a tool with a JSON object of arguments")
	fmt.Fprintln(c.out, "  call <tool> key=value ...      Call a tool with string arguments")
	fmt.Fprintln(c.out, "  exit                           Leave the console")
}

func (c *console) list(filter string) {
	n := 0
	for _, name := range c.names {
		if filter != "" && !strings.Contains(name, filter) {
			continue
		}
		fmt.Fprintf(c.out, "  %-40s %s\n", name, firstLine(c.tools[name].Description))
		n++
	}
	fmt.Fprintf(c.out, "%d tools\n", n)
}

func (c *console) describe(name string) {
	tool, ok := c.tools[name]
	if !ok {
		fmt.Fprintf(c.out, "unknown tool %q\n", name)
		return
	}
	fmt.Fprintln(c.out, tool.Name)
	if tool.Description != "" {
		fmt.Fprintln(c.out, tool.Description)
	}
	schema := tool.RawInputSchema
	if len(schema) == 0 {
		data, err := json.Marshal(tool.InputSchema)
		if err == nil {
			schema = data
		}
	}
	var pretty strings.Builder
	var decoded any
	if err := json.Unmarshal(schema, &decoded); err == nil {
		enc := json.NewEncoder(&pretty)
		enc.SetIndent("", "  ")
		_ = enc.Encode(decoded)
	}
	fmt.Fprint(c.out, "Input schema:\n"+pretty.String())
}

func (c *console) call(ctx context.Context, rest string) {
	name, rawArgs, _ := strings.Cut(rest, " ")
	if name == "" {
		fmt.Fprintln(c.out, "usage: call <tool> [{json} | key=value ...]")
		return
	}
	args, err := parseArguments(strings.TrimSpace(rawArgs))
	if err != nil {
		fmt.Fprintf(c.out, "invalid arguments: %v\n", err)
		return
	}

	result, err := c.presenter.CallTool(ctx, name, args)
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return
	}
	if result.IsError {
		fmt.Fprint(c.out, "tool error: ")
	}
	for _, content := range result.Content {
		if text, ok := content.(mcpgo.TextContent); ok {
			fmt.Fprintln(c.out, text.Text)
		}
	}
}

// parseArguments accepts a JSON object or whitespace separated key=value pairs.
func parseArguments(raw string) (map[string]any, error) {
	args := map[string]any{}
	if raw == "" {
		return args, nil
	}
	if strings.HasPrefix(raw, "{") {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return nil, err
		}
		return args, nil
	}
	for _, pair := range strings.Fields(raw) {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", pair)
		}
		args[key] = value
	}
	return args, nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	if len(line) > 80 {
		line = line[:77] + "..."
	}
	return line
}
