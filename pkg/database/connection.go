// Package database opens the Postgres connection that backs the spec catalog.
package database

import (
	"context"
	"database/sql"
	"net/url"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/server"
	"go.uber.org/zap"
)

// Connect establishes a connection to the PostgreSQL database at databaseURL
// and checks it with a ping.
func Connect(ctx context.Context, databaseURL string, log *zap.Logger) (*sql.DB, error) {
	if databaseURL == "" {
		return nil, server.NewError(server.ErrorTypeValidation, "database URL is not set", "set DATABASE_URL")
	}

	// Basic validation of PostgreSQL URL format
	if !strings.HasPrefix(databaseURL, "postgres://") && !strings.HasPrefix(databaseURL, "postgresql://") {
		return nil, server.NewError(server.ErrorTypeValidation,
			"database URL must start with postgres:// or postgresql://", RedactURL(databaseURL))
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, server.Wrap(err, server.ErrorTypeDatabase, "failed to open database connection")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, server.Wrap(err, server.ErrorTypeDatabase, "failed to ping database")
	}

	// Set connection pool settings
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	log.Info("database connected", zap.String("url", RedactURL(databaseURL)))
	return db, nil
}

// Open connects to the database and runs migrations.
func Open(ctx context.Context, databaseURL string, log *zap.Logger) (*sql.DB, error) {
	db, err := Connect(ctx, databaseURL, log)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(ctx, db, log); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// RedactURL hides the password of a connection URL.
func RedactURL(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "[invalid URL]"
	}
	return u.Redacted()
}
