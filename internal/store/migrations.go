package store

import (
	"context"
	_ "embed"
	"strings"

	"github.com/driprun/driprun/pkg/schema"
)

//go:embed migrations/001_initial_schema.sql
var initialSchema string

const schemaVersion = 1

// Migrate brings the database up to the current schema version. It is
// idempotent and safe to call on every startup.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version    INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "create schema_version table").WithCause(err)
	}

	var current int
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&current); err != nil {
		return schema.NewError(schema.ErrCodeStore, "read schema version").WithCause(err)
	}
	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range splitStatements(initialSchema) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "apply migration statement: %v", err).WithCause(err)
		}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO schema_version (version, applied_at) VALUES (?, datetime('now'))`,
		schemaVersion)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "record schema version").WithCause(err)
	}
	return nil
}

// splitStatements splits a migration file on semicolons, dropping comments
// and blank fragments. Good enough for DDL; no statement here embeds a
// semicolon in a literal.
func splitStatements(sqlText string) []string {
	var out []string
	for _, raw := range strings.Split(sqlText, ";") {
		var lines []string
		for _, line := range strings.Split(raw, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "--") {
				continue
			}
			lines = append(lines, line)
		}
		stmt := strings.TrimSpace(strings.Join(lines, "\n"))
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
