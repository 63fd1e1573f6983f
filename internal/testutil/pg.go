// Package testutil holds helpers shared by DB-backed tests.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"vectra/internal/infra"
)

// PostgresPool connects to VECTRA_TEST_DSN, applies migrations and empties
// every table. The test is skipped when the variable is unset.
func PostgresPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("VECTRA_TEST_DSN")
	if dsn == "" {
		t.Skip("VECTRA_TEST_DSN not set; skipping DB-backed test")
	}
	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(db.Close)

	Migrate(t, db)
	if _, err := db.Exec(ctx, "TRUNCATE TABLE raw_gps_traces, refined_locations, location_feedback"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return db
}

// Migrate applies the repository migrations to db.
func Migrate(t *testing.T, db *pgxpool.Pool) {
	t.Helper()
	root, err := infra.RepoRoot()
	if err != nil {
		t.Fatalf("repo root: %v", err)
	}
	if err := infra.ApplyMigrations(context.Background(), db, filepath.Join(root, "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
}
