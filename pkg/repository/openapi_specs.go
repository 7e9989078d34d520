// Package repository stores OpenAPI specs in the Postgres catalog.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/starlake-ai/mcp-openapi-proxy/pkg/loader"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/models"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/server"
)

const specColumns = `id, name, title, version, spec_content, file_format, file_size, api_key_token, is_active, created_at, updated_at`

// OpenAPISpecRepository handles database operations for OpenAPI specs.
// It also serves as the loader's catalog source.
type OpenAPISpecRepository struct {
	db *sql.DB
}

var _ loader.CatalogSource = (*OpenAPISpecRepository)(nil)

// NewOpenAPISpecRepository creates a new repository instance
func NewOpenAPISpecRepository(db *sql.DB) *OpenAPISpecRepository {
	return &OpenAPISpecRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSpec(row rowScanner) (*models.OpenAPISpec, error) {
	spec := &models.OpenAPISpec{}
	err := row.Scan(
		&spec.ID,
		&spec.Name,
		&spec.Title,
		&spec.Version,
		&spec.SpecContent,
		&spec.FileFormat,
		&spec.FileSize,
		&spec.ApiKeyToken,
		&spec.IsActive,
		&spec.CreatedAt,
		&spec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return spec, nil
}

// Create inserts a new OpenAPI spec into the database
func (r *OpenAPISpecRepository) Create(ctx context.Context, spec *models.OpenAPISpec) (*models.OpenAPISpec, error) {
	query := `
		INSERT INTO openapi_specs (name, title, version, spec_content, file_format, file_size, api_key_token, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		spec.Name,
		spec.Title,
		spec.Version,
		spec.SpecContent,
		spec.FileFormat,
		spec.FileSize,
		spec.ApiKeyToken,
		spec.IsActive,
	).Scan(&spec.ID, &spec.CreatedAt, &spec.UpdatedAt)
	if err != nil {
		return nil, server.Wrap(err, server.ErrorTypeDatabase, "failed to create openapi spec "+spec.Name)
	}
	return spec, nil
}

// Upsert inserts spec or replaces the content of the spec with the same name.
// An existing api key token is kept when spec carries none.
func (r *OpenAPISpecRepository) Upsert(ctx context.Context, spec *models.OpenAPISpec) (*models.OpenAPISpec, error) {
	query := `
		INSERT INTO openapi_specs (name, title, version, spec_content, file_format, file_size, api_key_token, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (name) DO UPDATE SET
			title = EXCLUDED.title,
			version = EXCLUDED.version,
			spec_content = EXCLUDED.spec_content,
			file_format = EXCLUDED.file_format,
			file_size = EXCLUDED.file_size,
			api_key_token = COALESCE(EXCLUDED.api_key_token, openapi_specs.api_key_token),
			is_active = EXCLUDED.is_active
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		spec.Name,
		spec.Title,
		spec.Version,
		spec.SpecContent,
		spec.FileFormat,
		spec.FileSize,
		spec.ApiKeyToken,
		spec.IsActive,
	).Scan(&spec.ID, &spec.CreatedAt, &spec.UpdatedAt)
	if err != nil {
		return nil, server.Wrap(err, server.ErrorTypeDatabase, "failed to upsert openapi spec "+spec.Name)
	}
	return spec, nil
}

// GetByID retrieves an OpenAPI spec by its ID
func (r *OpenAPISpecRepository) GetByID(ctx context.Context, id int) (*models.OpenAPISpec, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+specColumns+` FROM openapi_specs WHERE id = $1`, id)
	spec, err := scanSpec(row)
	if err != nil {
		return nil, notFoundOr(err, fmt.Sprintf("openapi spec with id %d", id))
	}
	return spec, nil
}

// GetByName retrieves an OpenAPI spec by its name
func (r *OpenAPISpecRepository) GetByName(ctx context.Context, name string) (*models.OpenAPISpec, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+specColumns+` FROM openapi_specs WHERE name = $1`, name)
	spec, err := scanSpec(row)
	if err != nil {
		return nil, notFoundOr(err, fmt.Sprintf("openapi spec %q", name))
	}
	return spec, nil
}

// List returns the stored specs ordered by name, optionally only the active ones.
func (r *OpenAPISpecRepository) List(ctx context.Context, activeOnly bool) ([]*models.OpenAPISpec, error) {
	query := `SELECT ` + specColumns + ` FROM openapi_specs`
	if activeOnly {
		query += ` WHERE is_active = true`
	}
	query += ` ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, server.Wrap(err, server.ErrorTypeDatabase, "failed to list openapi specs")
	}
	defer rows.Close()

	var specs []*models.OpenAPISpec
	for rows.Next() {
		spec, err := scanSpec(rows)
		if err != nil {
			return nil, server.Wrap(err, server.ErrorTypeDatabase, "failed to scan openapi spec")
		}
		specs = append(specs, spec)
	}
	if err := rows.Err(); err != nil {
		return nil, server.Wrap(err, server.ErrorTypeDatabase, "failed to list openapi specs")
	}
	return specs, nil
}

// Update updates an existing OpenAPI spec
func (r *OpenAPISpecRepository) Update(ctx context.Context, spec *models.OpenAPISpec) (*models.OpenAPISpec, error) {
	query := `
		UPDATE openapi_specs
		SET name = $2, title = $3, version = $4, spec_content = $5, file_format = $6,
		    file_size = $7, api_key_token = $8, is_active = $9
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		spec.ID,
		spec.Name,
		spec.Title,
		spec.Version,
		spec.SpecContent,
		spec.FileFormat,
		spec.FileSize,
		spec.ApiKeyToken,
		spec.IsActive,
	).Scan(&spec.UpdatedAt)
	if err != nil {
		return nil, notFoundOr(err, fmt.Sprintf("openapi spec with id %d", spec.ID))
	}
	return spec, nil
}

// Delete removes an OpenAPI spec from the database
func (r *OpenAPISpecRepository) Delete(ctx context.Context, id int) error {
	return r.exec(ctx, id, `DELETE FROM openapi_specs WHERE id = $1`)
}

// SetActive sets the active status of an OpenAPI spec
func (r *OpenAPISpecRepository) SetActive(ctx context.Context, id int, active bool) error {
	return r.exec(ctx, id, `UPDATE openapi_specs SET is_active = $2 WHERE id = $1`, active)
}

// UpdateAPIKeyToken sets or clears (nil) the api key token of a spec.
func (r *OpenAPISpecRepository) UpdateAPIKeyToken(ctx context.Context, id int, token *string) error {
	return r.exec(ctx, id, `UPDATE openapi_specs SET api_key_token = $2 WHERE id = $1`, token)
}

func (r *OpenAPISpecRepository) exec(ctx context.Context, id int, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return server.Wrap(err, server.ErrorTypeDatabase, fmt.Sprintf("failed to update openapi spec %d", id))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return server.Wrap(err, server.ErrorTypeDatabase, "failed to get affected rows")
	}
	if n == 0 {
		return server.NewError(server.ErrorTypeNotFound, fmt.Sprintf("openapi spec with id %d not found", id), "")
	}
	return nil
}

// SpecContent returns the content of the active spec called name.
func (r *OpenAPISpecRepository) SpecContent(ctx context.Context, name string) ([]byte, error) {
	spec, err := r.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if !spec.Active() {
		return nil, server.NewError(server.ErrorTypeNotFound, fmt.Sprintf("openapi spec %q is not active", name), "")
	}
	return []byte(spec.SpecContent), nil
}

// APIKeyToken returns the token stored for name, or "" when there is none.
func (r *OpenAPISpecRepository) APIKeyToken(ctx context.Context, name string) (string, error) {
	spec, err := r.GetByName(ctx, name)
	if err != nil {
		return "", err
	}
	return spec.Token(), nil
}

// ImportFile reads a spec file and upserts it under name. A non-empty token
// is stored as the spec's api key token.
func (r *OpenAPISpecRepository) ImportFile(ctx context.Context, path, name, token string) (*models.OpenAPISpec, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, server.Wrap(err, server.ErrorTypeValidation, "failed to read spec file "+path)
	}
	spec, err := SpecFromContent(path, name, content)
	if err != nil {
		return nil, err
	}
	if token != "" {
		spec.ApiKeyToken = &token
	}
	return r.Upsert(ctx, spec)
}

// SpecFromContent parses content and builds the catalog row for it. The
// format follows the file extension of path, falling back to the content.
func SpecFromContent(path, name string, content []byte) (*models.OpenAPISpec, error) {
	raw, err := loader.Parse(path, content)
	if err != nil {
		return nil, err
	}
	if _, ok := raw.Tree["openapi"]; !ok {
		if _, ok := raw.Tree["swagger"]; !ok {
			return nil, server.NewError(server.ErrorTypeSpecInvalid,
				"not an OpenAPI document", "missing openapi or swagger version key in "+path)
		}
	}

	format := raw.Format
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		format = models.FormatJSON
	case ".yaml", ".yml":
		format = models.FormatYAML
	}

	spec := models.NewOpenAPISpec(name, string(content), format)
	if info, ok := raw.Tree["info"].(map[string]any); ok {
		if title, ok := info["title"].(string); ok && title != "" {
			spec.Title = &title
		}
		if version := fmt.Sprint(info["version"]); info["version"] != nil && version != "" {
			spec.Version = &version
		}
	}
	return spec, nil
}

func notFoundOr(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return server.NewError(server.ErrorTypeNotFound, what+" not found", "")
	}
	return server.Wrap(err, server.ErrorTypeDatabase, "failed to get "+what)
}
