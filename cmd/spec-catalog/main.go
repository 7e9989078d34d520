// Command spec-catalog manages the OpenAPI specs stored in the Postgres catalog.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/database"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/models"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/repository"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/server"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) < 2 || os.Args[1] == "help" || os.Args[1] == "--help" {
		printHelp(os.Stdout)
		if len(os.Args) < 2 {
			os.Exit(1)
		}
		return
	}

	_ = godotenv.Load()
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "warn"
	}
	log := server.MustNewLogger(logLevel)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1], os.Args[2:], log); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, args []string, log *zap.Logger) error {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return errors.New("DATABASE_URL is not set")
	}
	db, err := database.Open(ctx, databaseURL, log)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := repository.NewOpenAPISpecRepository(db)

	switch command {
	case "list":
		activeOnly := len(args) > 0 && args[0] == "--active"
		return handleList(ctx, repo, activeOnly, os.Stdout)
	case "active":
		return handleList(ctx, repo, true, os.Stdout)
	case "import":
		return handleImport(ctx, repo, args)
	case "import-dir":
		dir := "./specs"
		if len(args) > 0 {
			dir = args[0]
		}
		return handleImportDir(ctx, repo, dir)
	case "seed":
		if len(args) < 1 {
			return errors.New("usage: spec-catalog seed <config.yaml|config.json>")
		}
		return handleSeed(ctx, repo, args[0])
	case "activate", "deactivate":
		id, err := parseID(args)
		if err != nil {
			return err
		}
		if err := repo.SetActive(ctx, id, command == "activate"); err != nil {
			return err
		}
		fmt.Printf("✓ Spec %d %sd\n", id, command)
		return nil
	case "delete":
		id, err := parseID(args)
		if err != nil {
			return err
		}
		if err := repo.Delete(ctx, id); err != nil {
			return err
		}
		fmt.Printf("✓ Spec %d deleted\n", id)
		return nil
	case "set-token":
		return handleSetToken(ctx, repo, args)
	default:
		printHelp(os.Stderr)
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, "OpenAPI Spec Catalog")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  list [--active]                List specs in the catalog")
	fmt.Fprintln(w, "  active                         List only active specs")
	fmt.Fprintln(w, "  import <file> <name> [token]   Import or replace a spec file")
	fmt.Fprintln(w, "  import-dir [dir]               Import every .json/.yaml/.yml file of dir (default ./specs)")
	fmt.Fprintln(w, "  seed <config>                  Import the specs listed in a YAML or JSON seed file")
	fmt.Fprintln(w, "  activate <id>                  Activate a spec by ID")
	fmt.Fprintln(w, "  deactivate <id>                Deactivate a spec by ID")
	fmt.Fprintln(w, "  delete <id>                    Delete a spec by ID")
	fmt.Fprintln(w, "  set-token <id> [token]         Set, or clear when omitted, the API key token of a spec")
	fmt.Fprintln(w, "  help                           Show this help message")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Serve a catalog spec with:")
	fmt.Fprintln(w, "  DATABASE_URL=... mcp-openapi-proxy catalog:<name>")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Environment Variables:")
	fmt.Fprintln(w, "  DATABASE_URL                   PostgreSQL connection string")
	fmt.Fprintln(w, "  LOG_LEVEL                      debug, info, warn (default) or error")
}

func parseID(args []string) (int, error) {
	if len(args) < 1 {
		return 0, errors.New("missing spec ID")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid spec ID %q", args[0])
	}
	return id, nil
}

func handleList(ctx context.Context, repo *repository.OpenAPISpecRepository, activeOnly bool, w io.Writer) error {
	specs, err := repo.List(ctx, activeOnly)
	if err != nil {
		return err
	}
	printSpecs(w, specs)
	return nil
}

func printSpecs(w io.Writer, specs []*models.OpenAPISpec) {
	if len(specs) == 0 {
		fmt.Fprintln(w, "No specs found in the catalog.")
		return
	}

	fmt.Fprintf(w, "%-4s %-20s %-30s %-10s %-8s %-6s %s\n", "ID", "Name", "Title", "Version", "Active", "Format", "Has Token")
	fmt.Fprintln(w, strings.Repeat("-", 92))
	for _, spec := range specs {
		format := ""
		if spec.FileFormat != nil {
			format = *spec.FileFormat
		}
		fmt.Fprintf(w, "%-4d %-20s %-30s %-10s %-8t %-6s %t\n",
			spec.ID,
			truncate(spec.Name, 20),
			truncate(spec.TitleOrEmpty(), 30),
			truncate(spec.VersionOrEmpty(), 10),
			spec.Active(),
			format,
			spec.Token() != "")
	}
}

func truncate(s string, width int) string {
	if len(s) <= width {
		return s
	}
	return s[:width-3] + "..."
}

func handleImport(ctx context.Context, repo *repository.OpenAPISpecRepository, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: spec-catalog import <file> <name> [token]")
	}
	token := ""
	if len(args) > 2 {
		token = args[2]
	}
	spec, err := repo.ImportFile(ctx, args[0], args[1], token)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Imported %s as '%s' (id %d)\n", args[0], spec.Name, spec.ID)
	return nil
}

func handleSetToken(ctx context.Context, repo *repository.OpenAPISpecRepository, args []string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	var token *string
	if len(args) > 1 && args[1] != "" {
		token = &args[1]
	}
	if err := repo.UpdateAPIKeyToken(ctx, id, token); err != nil {
		return err
	}
	if token == nil {
		fmt.Printf("✓ Cleared API key token of spec %d\n", id)
	} else {
		fmt.Printf("✓ Set API key token of spec %d (%s)\n", id, server.MaskSecret(*token))
	}
	return nil
}
