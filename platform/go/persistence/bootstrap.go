package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	sqlassets "github.com/collabridge/rapport-tracker/database"
)

// ApplySchema applies the core DDL in a single transaction, in this order:
//  1. users
//  2. contacts
//  3. interactions
//  4. rapport_tactics and interaction_tactic_logs
//
// SQL is embedded at build time so binaries stay self-contained. Every
// statement is idempotent; the helper backs the CLI bootstrap and tests.
func ApplySchema(ctx context.Context, db *DB) error {
	if db == nil {
		return fmt.Errorf("apply schema: db is required")
	}

	var statements []string
	for _, file := range sqlassets.CoreSchema() {
		statements = append(statements, splitStatements(file)...)
	}

	return db.WithTx(ctx, func(tx pgx.Tx) error {
		for _, stmt := range statements {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply ddl: %w", err)
			}
		}
		return nil
	})
}

// splitStatements breaks a DDL file on semicolons. The core schema has no
// function bodies, so no dollar-quoting is handled.
func splitStatements(sql string) []string {
	raw := strings.Split(sql, ";")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		stmt := strings.TrimSpace(r)
		if stmt == "" {
			continue
		}
		out = append(out, stmt)
	}
	return out
}
