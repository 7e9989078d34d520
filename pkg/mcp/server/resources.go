package server

import (
	"fmt"
	"strings"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/openapi2mcp"
)

const (
	// SpecResourceURI identifies the loaded OpenAPI document as a resource.
	SpecResourceURI = "file:///openapi_spec.json"
	// SummarizePrompt is the name of the API overview prompt.
	SummarizePrompt = "summarize_spec"
)

func specResource(doc *openapi2mcp.Document) mcpgo.Resource {
	name := "OpenAPI specification"
	if doc.Title != "" {
		name = doc.Title + " OpenAPI specification"
	}
	return mcpgo.NewResource(SpecResourceURI, name,
		mcpgo.WithResourceDescription("The OpenAPI document the tools were generated from, as JSON"),
		mcpgo.WithMIMEType("application/json"),
	)
}

func readSpecResource(doc *openapi2mcp.Document, uri string) (*mcpgo.ReadResourceResult, error) {
	if uri != SpecResourceURI {
		return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, uri)
	}
	return &mcpgo.ReadResourceResult{
		Contents: []mcpgo.ResourceContents{
			mcpgo.TextResourceContents{
				URI:      SpecResourceURI,
				MIMEType: "application/json",
				Text:     string(doc.SpecJSON),
			},
		},
	}, nil
}

func summarizePrompt() mcpgo.Prompt {
	return mcpgo.NewPrompt(SummarizePrompt,
		mcpgo.WithPromptDescription("Summarize the API: its purpose, its endpoints and how to call them"),
	)
}

func getSummarizePrompt(reg *openapi2mcp.Registry, name string) (*mcpgo.GetPromptResult, error) {
	if name != SummarizePrompt {
		return nil, fmt.Errorf("%w: %s", ErrPromptNotFound, name)
	}
	return &mcpgo.GetPromptResult{
		Description: "Overview of the API exposed by this server",
		Messages: []mcpgo.PromptMessage{
			mcpgo.NewPromptMessage(mcpgo.RoleUser, mcpgo.NewTextContent(specOverview(reg))),
		},
	}, nil
}

// specOverview renders the text the summarize prompt asks the model to work from.
func specOverview(reg *openapi2mcp.Registry) string {
	doc := reg.Document()
	var b strings.Builder
	title := doc.Title
	if title == "" {
		title = "this API"
	}
	fmt.Fprintf(&b, "Summarize %s", title)
	if doc.Version != "" {
		fmt.Fprintf(&b, " (version %s)", doc.Version)
	}
	b.WriteString(" for a developer who wants to integrate with it.\n")
	if doc.Description != "" {
		fmt.Fprintf(&b, "\nDescription: %s\n", strings.TrimSpace(doc.Description))
	}
	if doc.ServerURL != "" {
		fmt.Fprintf(&b, "Base URL: %s\n", doc.ServerURL)
	}
	fmt.Fprintf(&b, "\nIt exposes %d tools:\n", reg.Len())
	for _, tool := range reg.List() {
		summary := tool.Operation.Summary
		if summary == "" {
			summary = firstLine(tool.Description)
		}
		fmt.Fprintf(&b, "- %s (%s %s): %s\n", tool.Name, tool.Operation.Method, tool.Operation.Path, summary)
	}
	return b.String()
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
