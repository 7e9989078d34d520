// Package models holds the rows stored in the spec catalog.
package models

import (
	"time"
)

// Spec file formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// OpenAPISpec represents the openapi_specs table structure
type OpenAPISpec struct {
	ID          int        `json:"id" db:"id" yaml:"-"`
	Name        string     `json:"name" db:"name" yaml:"name"`
	Title       *string    `json:"title,omitempty" db:"title" yaml:"title,omitempty"`
	Version     *string    `json:"version,omitempty" db:"version" yaml:"version,omitempty"`
	SpecContent string     `json:"spec_content" db:"spec_content" yaml:"-"`
	FileFormat  *string    `json:"file_format,omitempty" db:"file_format" yaml:"file_format,omitempty"`
	FileSize    *int       `json:"file_size,omitempty" db:"file_size" yaml:"file_size,omitempty"`
	ApiKeyToken *string    `json:"api_key_token,omitempty" db:"api_key_token" yaml:"-"`
	IsActive    *bool      `json:"is_active,omitempty" db:"is_active" yaml:"active,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty" db:"created_at" yaml:"-"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty" db:"updated_at" yaml:"-"`
}

// TableName returns the table name for the OpenAPISpec model
func (OpenAPISpec) TableName() string {
	return "openapi_specs"
}

// NewOpenAPISpec creates a new active OpenAPISpec for content.
func NewOpenAPISpec(name, specContent, format string) *OpenAPISpec {
	now := time.Now()
	active := true
	size := len(specContent)
	if format == "" {
		format = FormatYAML
	}

	return &OpenAPISpec{
		Name:        name,
		SpecContent: specContent,
		FileFormat:  &format,
		FileSize:    &size,
		IsActive:    &active,
		CreatedAt:   &now,
		UpdatedAt:   &now,
	}
}

// Active reports whether the spec may be served. A NULL is_active counts as active.
func (s *OpenAPISpec) Active() bool {
	return s.IsActive == nil || *s.IsActive
}

// Token returns the stored API key token, or "".
func (s *OpenAPISpec) Token() string {
	if s.ApiKeyToken == nil {
		return ""
	}
	return *s.ApiKeyToken
}

// TitleOrEmpty returns the title, or "".
func (s *OpenAPISpec) TitleOrEmpty() string {
	if s.Title == nil {
		return ""
	}
	return *s.Title
}

// VersionOrEmpty returns the version, or "".
func (s *OpenAPISpec) VersionOrEmpty() string {
	if s.Version == nil {
		return ""
	}
	return *s.Version
}
