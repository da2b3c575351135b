// Package db executes gateway operations against the project database.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Executor runs SQL statements and administrative actions. It owns the
// database handle and the bootstrap schema.
type Executor struct {
	db     *sql.DB
	logger *slog.Logger
}

// bootstrapSchema creates the tables the administrative operations need.
var bootstrapSchema = []string{
	`CREATE TABLE IF NOT EXISTS _migrations (
		name       TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS auth_users (
		id         TEXT PRIMARY KEY,
		email      TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
}

// Open opens (creating if needed) the database at path and bootstraps the
// administrative schema. Use ":memory:" for an ephemeral database.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Executor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	handle, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent writers.
	handle.SetMaxOpenConns(1)

	if err := handle.PingContext(ctx); err != nil {
		handle.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	for _, stmt := range bootstrapSchema {
		if _, err := handle.ExecContext(ctx, stmt); err != nil {
			handle.Close()
			return nil, fmt.Errorf("bootstrap schema: %w", err)
		}
	}

	logger.Info("database opened", "path", path)
	return &Executor{db: handle, logger: logger}, nil
}

// Close releases the database handle.
func (e *Executor) Close() error {
	return e.db.Close()
}

// Query runs a statement and returns the rows as a slice of column-keyed
// maps. Used for read-only statements.
func (e *Executor) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	var results []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return results, nil
}

// Exec runs a mutating statement and returns the number of affected rows.
func (e *Executor) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := e.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("exec: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}

// Migration is one applied schema migration.
type Migration struct {
	Name      string    `json:"name"`
	AppliedAt time.Time `json:"applied_at"`
}

// ApplyMigration runs migration SQL and records it. A migration name that
// was already applied is rejected.
func (e *Executor) ApplyMigration(ctx context.Context, name, migrationSQL string) error {
	var exists int
	err := e.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM _migrations WHERE name = ?`, name).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check migration: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("migration %q already applied", name)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migrationSQL); err != nil {
		return fmt.Errorf("apply migration %q: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO _migrations (name, applied_at) VALUES (?, ?)`,
		name, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("record migration %q: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %q: %w", name, err)
	}

	e.logger.Info("migration applied", "name", name)
	return nil
}

// ListMigrations returns applied migrations in application order.
func (e *Executor) ListMigrations(ctx context.Context) ([]Migration, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT name, applied_at FROM _migrations ORDER BY applied_at, name`)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	defer rows.Close()

	var migrations []Migration
	for rows.Next() {
		var m Migration
		var appliedAt string
		if err := rows.Scan(&m.Name, &appliedAt); err != nil {
			return nil, fmt.Errorf("scan migration: %w", err)
		}
		m.AppliedAt, _ = time.Parse(time.RFC3339, appliedAt)
		migrations = append(migrations, m)
	}
	return migrations, rows.Err()
}

// ListTables returns user table names, excluding internal bookkeeping.
func (e *Executor) ListTables(ctx context.Context) ([]string, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master
		 WHERE type = 'table' AND name NOT LIKE 'sqlite_%' AND name NOT LIKE '\_%' ESCAPE '\'
		 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// ListExtensions returns the loaded database modules. SQLite exposes
// compile-time options rather than installable extensions.
func (e *Executor) ListExtensions(ctx context.Context) ([]string, error) {
	rows, err := e.db.QueryContext(ctx, `PRAGMA compile_options`)
	if err != nil {
		return nil, fmt.Errorf("list extensions: %w", err)
	}
	defer rows.Close()

	var options []string
	for rows.Next() {
		var opt string
		if err := rows.Scan(&opt); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		options = append(options, opt)
	}
	return options, rows.Err()
}

// Stats summarizes database size and contents.
type Stats struct {
	SizeBytes  int64          `json:"size_bytes"`
	TableCount int            `json:"table_count"`
	RowCounts  map[string]int `json:"row_counts"`
}

// DatabaseStats reports size and per-table row counts.
func (e *Executor) DatabaseStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{RowCounts: make(map[string]int)}

	var pageCount, pageSize int64
	if err := e.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pageCount); err != nil {
		return nil, fmt.Errorf("page count: %w", err)
	}
	if err := e.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return nil, fmt.Errorf("page size: %w", err)
	}
	stats.SizeBytes = pageCount * pageSize

	tables, err := e.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	stats.TableCount = len(tables)
	for _, table := range tables {
		var count int
		// Table names come from sqlite_master, not caller input.
		if err := e.db.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT COUNT(*) FROM %q`, table)).Scan(&count); err != nil {
			return nil, fmt.Errorf("count rows in %s: %w", table, err)
		}
		stats.RowCounts[table] = count
	}
	return stats, nil
}

// AuthUser is one row in the auth schema.
type AuthUser struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ErrUserNotFound is returned when an auth user lookup finds nothing.
var ErrUserNotFound = errors.New("auth user not found")

// ListAuthUsers returns all users ordered by creation time.
func (e *Executor) ListAuthUsers(ctx context.Context) ([]AuthUser, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT id, email, created_at, updated_at FROM auth_users ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list auth users: %w", err)
	}
	defer rows.Close()

	var users []AuthUser
	for rows.Next() {
		u, err := scanAuthUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetAuthUser fetches one user by ID.
func (e *Executor) GetAuthUser(ctx context.Context, userID string) (*AuthUser, error) {
	row := e.db.QueryRowContext(ctx,
		`SELECT id, email, created_at, updated_at FROM auth_users WHERE id = ?`, userID)
	u, err := scanAuthUser(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateAuthUser inserts a new user and returns it.
func (e *Executor) CreateAuthUser(ctx context.Context, email string) (*AuthUser, error) {
	now := time.Now().UTC()
	u := AuthUser{
		ID:        uuid.NewString(),
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := e.db.ExecContext(ctx,
		`INSERT INTO auth_users (id, email, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Email, now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("create auth user: %w", err)
	}
	return &u, nil
}

// UpdateAuthUser changes a user's email.
func (e *Executor) UpdateAuthUser(ctx context.Context, userID, email string) (*AuthUser, error) {
	now := time.Now().UTC()
	result, err := e.db.ExecContext(ctx,
		`UPDATE auth_users SET email = ?, updated_at = ? WHERE id = ?`,
		email, now.Format(time.RFC3339), userID)
	if err != nil {
		return nil, fmt.Errorf("update auth user: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return nil, ErrUserNotFound
	}
	return e.GetAuthUser(ctx, userID)
}

// DeleteAuthUser removes a user by ID.
func (e *Executor) DeleteAuthUser(ctx context.Context, userID string) error {
	result, err := e.db.ExecContext(ctx, `DELETE FROM auth_users WHERE id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete auth user: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// RebuildHooks recreates the webhook trigger bookkeeping table.
func (e *Executor) RebuildHooks(ctx context.Context) error {
	stmts := []string{
		`DROP TABLE IF EXISTS _hooks`,
		`CREATE TABLE _hooks (
			id         TEXT PRIMARY KEY,
			table_name TEXT NOT NULL,
			event      TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("rebuild hooks: %w", err)
		}
	}
	e.logger.Info("hooks rebuilt")
	return nil
}

func scanAuthUser(scan func(...any) error) (AuthUser, error) {
	var u AuthUser
	var createdAt, updatedAt string
	if err := scan(&u.ID, &u.Email, &createdAt, &updatedAt); err != nil {
		return AuthUser{}, err
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	u.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return u, nil
}
