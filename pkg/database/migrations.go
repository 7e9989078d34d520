package database

import (
	"context"
	"database/sql"

	"github.com/starlake-ai/mcp-openapi-proxy/pkg/server"
	"go.uber.org/zap"
)

// CreateSpecsTable creates the openapi_specs table with its indexes and the
// updated_at trigger.
func CreateSpecsTable(ctx context.Context, db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS openapi_specs (
		id SERIAL PRIMARY KEY,
		name VARCHAR(255) UNIQUE NOT NULL,
		title VARCHAR(500),
		version VARCHAR(100),
		spec_content TEXT NOT NULL,
		file_format VARCHAR(10) DEFAULT 'yaml',
		file_size INTEGER,
		api_key_token VARCHAR(500),
		is_active BOOLEAN DEFAULT true,
		created_at TIMESTAMP(6) DEFAULT NOW(),
		updated_at TIMESTAMP(6) DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_openapi_specs_is_active ON openapi_specs(is_active);

	CREATE OR REPLACE FUNCTION update_updated_at_column()
	RETURNS TRIGGER AS $$
	BEGIN
		NEW.updated_at = NOW();
		RETURN NEW;
	END;
	$$ language 'plpgsql';

	DROP TRIGGER IF EXISTS update_openapi_specs_updated_at ON openapi_specs;
	CREATE TRIGGER update_openapi_specs_updated_at
		BEFORE UPDATE ON openapi_specs
		FOR EACH ROW
		EXECUTE FUNCTION update_updated_at_column();
	`

	if _, err := db.ExecContext(ctx, query); err != nil {
		return server.Wrap(err, server.ErrorTypeDatabase, "failed to create openapi_specs table")
	}
	return nil
}

// DropSpecsTable drops the openapi_specs table with its trigger function.
func DropSpecsTable(ctx context.Context, db *sql.DB) error {
	query := `
	DROP TABLE IF EXISTS openapi_specs CASCADE;
	DROP FUNCTION IF EXISTS update_updated_at_column();
	`

	if _, err := db.ExecContext(ctx, query); err != nil {
		return server.Wrap(err, server.ErrorTypeDatabase, "failed to drop openapi_specs table")
	}
	return nil
}

// RunMigrations runs all database migrations
func RunMigrations(ctx context.Context, db *sql.DB, log *zap.Logger) error {
	if err := CreateSpecsTable(ctx, db); err != nil {
		return err
	}
	log.Debug("database migrations completed")
	return nil
}
