package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/starlake-ai/mcp-openapi-proxy/pkg/database"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/models"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/server"
	"go.uber.org/zap/zaptest"
)

const petstoreYAML = `openapi: 3.0.0
info:
  title: Petstore
  version: 1.0.2
paths:
  /pets:
    get:
      operationId: listPets
      responses:
        "200":
          description: ok
`

func TestSpecFromContent(t *testing.T) {
	spec, err := SpecFromContent("specs/petstore.yml", "petstore", []byte(petstoreYAML))
	if err != nil {
		t.Fatal(err)
	}
	if spec.Name != "petstore" || spec.TitleOrEmpty() != "Petstore" || spec.VersionOrEmpty() != "1.0.2" {
		t.Errorf("spec = %+v", spec)
	}
	if spec.FileFormat == nil || *spec.FileFormat != models.FormatYAML {
		t.Errorf("format = %v", spec.FileFormat)
	}
	if spec.FileSize == nil || *spec.FileSize != len(petstoreYAML) {
		t.Errorf("size = %v", spec.FileSize)
	}
	if !spec.Active() || spec.Token() != "" {
		t.Errorf("new specs are active without a token: %+v", spec)
	}

	spec, err = SpecFromContent("inline", "swagger", []byte(`{"swagger":"2.0","info":{"title":"S","version":2},"paths":{}}`))
	if err != nil {
		t.Fatal(err)
	}
	if *spec.FileFormat != models.FormatJSON || spec.VersionOrEmpty() != "2" {
		t.Errorf("spec = %+v", spec)
	}
}

func TestSpecFromContentRejectsNonSpecs(t *testing.T) {
	_, err := SpecFromContent("x.json", "x", []byte(`{"info":{"title":"no version key"}}`))
	if !server.IsType(err, server.ErrorTypeSpecInvalid) {
		t.Errorf("expected spec_invalid, got %v", err)
	}
	_, err = SpecFromContent("x.json", "x", []byte(`[1, 2]`))
	if !server.IsType(err, server.ErrorTypeSpecNotJSON) {
		t.Errorf("expected spec_not_json, got %v", err)
	}
}

func newTestRepository(t *testing.T) *OpenAPISpecRepository {
	t.Helper()
	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := database.Open(context.Background(), databaseURL, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_, _ = db.Exec(`DELETE FROM openapi_specs WHERE name LIKE 'test_%'`)
		db.Close()
	})
	return NewOpenAPISpecRepository(db)
}

func TestRepositoryLifecycle(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "petstore.yaml")
	if err := os.WriteFile(path, []byte(petstoreYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	spec, err := repo.ImportFile(ctx, path, "test_petstore", "tok-1")
	if err != nil {
		t.Fatal(err)
	}

	content, err := repo.SpecContent(ctx, "test_petstore")
	if err != nil || string(content) != petstoreYAML {
		t.Fatalf("SpecContent = %q, %v", content, err)
	}
	if token, _ := repo.APIKeyToken(ctx, "test_petstore"); token != "tok-1" {
		t.Errorf("token = %q", token)
	}

	// Re-importing without a token keeps the stored one.
	again, err := repo.ImportFile(ctx, path, "test_petstore", "")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != spec.ID {
		t.Errorf("upsert created a new row: %d != %d", again.ID, spec.ID)
	}
	if token, _ := repo.APIKeyToken(ctx, "test_petstore"); token != "tok-1" {
		t.Errorf("token after re-import = %q", token)
	}

	if err := repo.SetActive(ctx, spec.ID, false); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.SpecContent(ctx, "test_petstore"); !server.IsType(err, server.ErrorTypeNotFound) {
		t.Errorf("inactive spec served: %v", err)
	}
	active, err := repo.List(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range active {
		if s.ID == spec.ID {
			t.Error("inactive spec listed as active")
		}
	}

	if err := repo.UpdateAPIKeyToken(ctx, spec.ID, nil); err != nil {
		t.Fatal(err)
	}
	if err := repo.Delete(ctx, spec.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.GetByID(ctx, spec.ID); !server.IsType(err, server.ErrorTypeNotFound) {
		t.Errorf("GetByID after delete = %v", err)
	}
	if err := repo.Delete(ctx, spec.ID); !server.IsType(err, server.ErrorTypeNotFound) {
		t.Errorf("second delete = %v", err)
	}
}
