package db

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e, err := Open(context.Background(), ":memory:", logger)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestQueryAndExec(t *testing.T) {
	e := newTestExecutor(t)
	ctx := context.Background()

	if _, err := e.Exec(ctx, `CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	affected, err := e.Exec(ctx, `INSERT INTO items (name) VALUES ('a'), ('b')`)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if affected != 2 {
		t.Errorf("rows affected = %d, want 2", affected)
	}

	rows, err := e.Query(ctx, `SELECT name FROM items ORDER BY id`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("query returned %d rows, want 2", len(rows))
	}
	if rows[0]["name"] != "a" {
		t.Errorf("first row = %v", rows[0])
	}

	if _, err := e.Query(ctx, `SELECT * FROM nope`); err == nil {
		t.Error("query against missing table should fail")
	}
}

func TestApplyMigration(t *testing.T) {
	e := newTestExecutor(t)
	ctx := context.Background()

	if err := e.ApplyMigration(ctx, "001_items", `CREATE TABLE items (id INTEGER)`); err != nil {
		t.Fatalf("ApplyMigration() error: %v", err)
	}

	// Duplicate names are rejected.
	if err := e.ApplyMigration(ctx, "001_items", `CREATE TABLE other (id INTEGER)`); err == nil {
		t.Error("re-applying a migration should fail")
	}

	// A failing migration rolls back and is not recorded.
	if err := e.ApplyMigration(ctx, "002_bad", `CREATE BOGUS`); err == nil {
		t.Error("invalid migration SQL should fail")
	}

	migrations, err := e.ListMigrations(ctx)
	if err != nil {
		t.Fatalf("ListMigrations() error: %v", err)
	}
	if len(migrations) != 1 || migrations[0].Name != "001_items" {
		t.Errorf("migrations = %+v, want just 001_items", migrations)
	}
}

func TestListTablesExcludesInternal(t *testing.T) {
	e := newTestExecutor(t)
	ctx := context.Background()

	if _, err := e.Exec(ctx, `CREATE TABLE visible (id INTEGER)`); err != nil {
		t.Fatalf("create table: %v", err)
	}

	tables, err := e.ListTables(ctx)
	if err != nil {
		t.Fatalf("ListTables() error: %v", err)
	}
	for _, name := range tables {
		if name == "_migrations" {
			t.Error("internal bookkeeping tables should be hidden")
		}
	}
	found := false
	for _, name := range tables {
		if name == "visible" {
			found = true
		}
	}
	if !found {
		t.Errorf("tables = %v, want visible included", tables)
	}
}

func TestDatabaseStats(t *testing.T) {
	e := newTestExecutor(t)
	ctx := context.Background()

	if _, err := e.Exec(ctx, `CREATE TABLE counted (id INTEGER)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := e.Exec(ctx, `INSERT INTO counted VALUES (1), (2), (3)`); err != nil {
		t.Fatalf("insert: %v", err)
	}

	stats, err := e.DatabaseStats(ctx)
	if err != nil {
		t.Fatalf("DatabaseStats() error: %v", err)
	}
	if stats.SizeBytes <= 0 {
		t.Errorf("SizeBytes = %d, want positive", stats.SizeBytes)
	}
	if stats.RowCounts["counted"] != 3 {
		t.Errorf("RowCounts[counted] = %d, want 3", stats.RowCounts["counted"])
	}
}

func TestAuthUserLifecycle(t *testing.T) {
	e := newTestExecutor(t)
	ctx := context.Background()

	created, err := e.CreateAuthUser(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("CreateAuthUser() error: %v", err)
	}
	if created.ID == "" {
		t.Error("created user should have an ID")
	}

	got, err := e.GetAuthUser(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetAuthUser() error: %v", err)
	}
	if got.Email != "alice@example.com" {
		t.Errorf("Email = %q", got.Email)
	}

	updated, err := e.UpdateAuthUser(ctx, created.ID, "alice@new.example.com")
	if err != nil {
		t.Fatalf("UpdateAuthUser() error: %v", err)
	}
	if updated.Email != "alice@new.example.com" {
		t.Errorf("updated Email = %q", updated.Email)
	}

	users, err := e.ListAuthUsers(ctx)
	if err != nil {
		t.Fatalf("ListAuthUsers() error: %v", err)
	}
	if len(users) != 1 {
		t.Errorf("ListAuthUsers() = %d users, want 1", len(users))
	}

	if err := e.DeleteAuthUser(ctx, created.ID); err != nil {
		t.Fatalf("DeleteAuthUser() error: %v", err)
	}
	if _, err := e.GetAuthUser(ctx, created.ID); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetAuthUser() after delete = %v, want ErrUserNotFound", err)
	}
	if err := e.DeleteAuthUser(ctx, created.ID); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("double delete = %v, want ErrUserNotFound", err)
	}
	if _, err := e.UpdateAuthUser(ctx, "missing", "x@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("update missing = %v, want ErrUserNotFound", err)
	}
}

func TestRebuildHooks(t *testing.T) {
	e := newTestExecutor(t)
	ctx := context.Background()

	if err := e.RebuildHooks(ctx); err != nil {
		t.Fatalf("RebuildHooks() error: %v", err)
	}
	// Idempotent.
	if err := e.RebuildHooks(ctx); err != nil {
		t.Fatalf("second RebuildHooks() error: %v", err)
	}
	if _, err := e.Query(ctx, `SELECT COUNT(*) FROM _hooks`); err != nil {
		t.Errorf("hooks table should exist: %v", err)
	}
}
