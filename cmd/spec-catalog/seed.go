package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/starlake-ai/mcp-openapi-proxy/pkg/repository"
	"gopkg.in/yaml.v3"
)

// SpecConfig defines how each spec should be imported
type SpecConfig struct {
	File  string `json:"file" yaml:"file"`
	Name  string `json:"name" yaml:"name"`
	Token string `json:"api_key_token,omitempty" yaml:"api_key_token,omitempty"`
	// Active defaults to true when omitted.
	Active *bool `json:"active,omitempty" yaml:"active,omitempty"`
}

// SeedConfig defines the seeding configuration
type SeedConfig struct {
	Specs []SpecConfig `json:"specs" yaml:"specs"`
}

// loadSeedConfig reads a seed file. Relative spec paths are resolved
// against the directory of the seed file.
func loadSeedConfig(path string) (*SeedConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var config SeedConfig
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		err = json.Unmarshal(data, &config)
	} else {
		err = yaml.Unmarshal(data, &config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	base := filepath.Dir(path)
	for i := range config.Specs {
		spec := &config.Specs[i]
		if spec.File == "" {
			return nil, fmt.Errorf("spec %d has no file", i)
		}
		if !filepath.IsAbs(spec.File) {
			spec.File = filepath.Join(base, spec.File)
		}
		if spec.Name == "" {
			spec.Name = nameFromFile(spec.File)
		}
	}
	return &config, nil
}

// nameFromFile derives a catalog name from a spec file name, e.g.
// "specs/google_finance.yml" -> "google-finance".
func nameFromFile(path string) string {
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return strings.ReplaceAll(strings.ToLower(name), "_", "-")
}

func isSpecFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

func handleSeed(ctx context.Context, repo *repository.OpenAPISpecRepository, path string) error {
	config, err := loadSeedConfig(path)
	if err != nil {
		return err
	}
	fmt.Printf("Seeding catalog with %d specs from %s...\n", len(config.Specs), path)

	imported := 0
	for _, sc := range config.Specs {
		spec, err := repo.ImportFile(ctx, sc.File, sc.Name, sc.Token)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to import %s: %v\n", sc.File, err)
			continue
		}
		status := "active"
		if sc.Active != nil && !*sc.Active {
			if err := repo.SetActive(ctx, spec.ID, false); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: Failed to deactivate %s: %v\n", sc.Name, err)
			}
			status = "inactive"
		}
		fmt.Printf("✓ Imported %s as '%s' (%s)\n", sc.File, sc.Name, status)
		imported++
	}

	fmt.Printf("\nSeeding completed: %d specs imported successfully\n", imported)
	return nil
}

func handleImportDir(ctx context.Context, repo *repository.OpenAPISpecRepository, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read specs directory: %w", err)
	}

	imported := 0
	for _, entry := range entries {
		if entry.IsDir() || !isSpecFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		name := nameFromFile(path)
		if _, err := repo.ImportFile(ctx, path, name, ""); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to import %s: %v\n", entry.Name(), err)
			continue
		}
		fmt.Printf("✓ Imported %s as '%s'\n", entry.Name(), name)
		imported++
	}

	fmt.Printf("\nImport completed: %d specs imported successfully\n", imported)
	return nil
}
