package db

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidIdentifier reports whether name is a plain lower-case SQL identifier.
func ValidIdentifier(name string) bool {
	return identPattern.MatchString(name)
}

// CreateStarSchema creates the warehouse schema and applies all pending
// migrations to it. A nil migrator only creates the schema.
func CreateStarSchema(ctx context.Context, pool *pgxpool.Pool, schema string, migrator *Migrator) (int, error) {
	if !identPattern.MatchString(schema) {
		return 0, fmt.Errorf("invalid schema name: %s", schema)
	}

	_, err := pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize())
	if err != nil {
		return 0, fmt.Errorf("create schema %s: %w", schema, err)
	}

	if migrator == nil {
		return 0, nil
	}
	n, err := migrator.Up(ctx, schema)
	if err != nil {
		return n, fmt.Errorf("run migrations for %s: %w", schema, err)
	}
	return n, nil
}
