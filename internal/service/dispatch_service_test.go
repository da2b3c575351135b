package service

import (
	"context"
	"testing"

	"github.com/sqlward/sqlward/internal/adapter/outbound/db"
	"github.com/sqlward/sqlward/internal/domain/audit"
	"github.com/sqlward/sqlward/internal/domain/auth"
	"github.com/sqlward/sqlward/internal/domain/policy"
	"github.com/sqlward/sqlward/internal/domain/tool"
)

type dispatchFixture struct {
	*authFixture
	dispatcher *Dispatcher
	executor   *db.Executor
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()
	f := newAuthFixture(t, nil, nil)

	executor, err := db.Open(context.Background(), ":memory:", discardLogger())
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { executor.Close() })

	return &dispatchFixture{
		authFixture: f,
		dispatcher: NewDispatcher(f.service, executor, tool.NewRegistry(),
			"http://localhost:8000", nil, discardLogger()),
		executor: executor,
	}
}

func TestDispatchReadOnlySQL(t *testing.T) {
	f := newDispatchFixture(t)

	result, err := f.dispatcher.Dispatch(context.Background(), opCtx(policy.RoleOperator),
		"execute_sql", map[string]any{"sql": "SELECT 1 AS one"})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	rows, ok := result.([]map[string]any)
	if !ok || len(rows) != 1 {
		t.Fatalf("result = %#v, want one row", result)
	}

	execs := f.trail.ByAction(audit.ActionToolExecution)
	if len(execs) != 1 || execs[0].Outcome != audit.OutcomeSuccess {
		t.Errorf("execution events = %+v, want one success", execs)
	}
}

func TestDispatchMutatingSQL(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()
	admin := opCtx(policy.RoleAdmin)

	if _, err := f.dispatcher.Dispatch(ctx, admin, "execute_sql",
		map[string]any{"sql": "CREATE TABLE t (id INTEGER)"}); err != nil {
		t.Fatalf("create table: %v", err)
	}
	result, err := f.dispatcher.Dispatch(ctx, admin, "execute_sql",
		map[string]any{"sql": "INSERT INTO t VALUES (1), (2)"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	out, ok := result.(map[string]any)
	if !ok || out["rows_affected"] != int64(2) {
		t.Errorf("result = %#v, want rows_affected 2", result)
	}
}

func TestDispatchDeniedBeforeExecution(t *testing.T) {
	f := newDispatchFixture(t)

	_, err := f.dispatcher.Dispatch(context.Background(), opCtx(policy.RoleOperator),
		"execute_sql", map[string]any{"sql": "DROP TABLE auth_users"})
	if !auth.HasCode(err, auth.CodeDangerousSQL) {
		t.Fatalf("error = %v, want AUTH_DANGEROUS_SQL", err)
	}

	// Denied invocations never reach execution or its audit category.
	if execs := f.trail.ByAction(audit.ActionToolExecution); len(execs) != 0 {
		t.Errorf("denied call produced %d execution events", len(execs))
	}
	// The auth_users table is intact.
	if _, err := f.executor.ListAuthUsers(context.Background()); err != nil {
		t.Errorf("auth_users table should survive the denied call: %v", err)
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	f := newDispatchFixture(t)

	if _, err := f.dispatcher.Dispatch(context.Background(), opCtx(policy.RoleAdmin),
		"made_up_tool", nil); err == nil {
		t.Error("Dispatch() should fail for unregistered tools")
	}
}

func TestDispatchMigrationFlow(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()
	operator := opCtx(policy.RoleOperator)

	if _, err := f.dispatcher.Dispatch(ctx, operator, "apply_migration", map[string]any{
		"name": "001_items",
		"sql":  "CREATE TABLE items (id INTEGER)",
	}); err != nil {
		t.Fatalf("apply_migration: %v", err)
	}

	result, err := f.dispatcher.Dispatch(ctx, operator, "list_migrations", nil)
	if err != nil {
		t.Fatalf("list_migrations: %v", err)
	}
	migrations, ok := result.([]db.Migration)
	if !ok || len(migrations) != 1 || migrations[0].Name != "001_items" {
		t.Errorf("migrations = %#v", result)
	}

	result, err = f.dispatcher.Dispatch(ctx, operator, "list_tables", nil)
	if err != nil {
		t.Fatalf("list_tables: %v", err)
	}
	tables, _ := result.([]string)
	found := false
	for _, name := range tables {
		if name == "items" {
			found = true
		}
	}
	if !found {
		t.Errorf("tables = %v, want items included", tables)
	}
}

func TestDispatchExecutionErrorAudited(t *testing.T) {
	f := newDispatchFixture(t)

	_, err := f.dispatcher.Dispatch(context.Background(), opCtx(policy.RoleOperator),
		"execute_sql", map[string]any{"sql": "SELECT * FROM missing_table"})
	if err == nil {
		t.Fatal("query against missing table should fail")
	}

	execs := f.trail.ByAction(audit.ActionToolExecution)
	if len(execs) != 1 || execs[0].Outcome != audit.OutcomeError {
		t.Errorf("execution events = %+v, want one error outcome", execs)
	}
}

func TestDispatchProjectURL(t *testing.T) {
	f := newDispatchFixture(t)

	result, err := f.dispatcher.Dispatch(context.Background(), opCtx(policy.RoleAuthenticated),
		"get_project_url", nil)
	if err != nil {
		t.Fatalf("get_project_url: %v", err)
	}
	out, _ := result.(map[string]any)
	if out["url"] != "http://localhost:8000" {
		t.Errorf("result = %#v", result)
	}
}

func TestDispatchAuthUserOperations(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()
	service := opCtx(policy.RoleServiceRole)

	result, err := f.dispatcher.Dispatch(ctx, service, "create_auth_user",
		map[string]any{"email": "bob@example.com"})
	if err != nil {
		t.Fatalf("create_auth_user: %v", err)
	}
	created, ok := result.(*db.AuthUser)
	if !ok || created.Email != "bob@example.com" {
		t.Fatalf("result = %#v", result)
	}

	if _, err := f.dispatcher.Dispatch(ctx, service, "delete_auth_user",
		map[string]any{"user_id": created.ID}); err != nil {
		t.Fatalf("delete_auth_user: %v", err)
	}

	// The operator role has no auth-user permissions at all.
	_, err = f.dispatcher.Dispatch(ctx, opCtx(policy.RoleOperator), "list_auth_users", nil)
	if !auth.HasCode(err, auth.CodeAccessDenied) {
		t.Errorf("operator list_auth_users = %v, want AUTH_ACCESS_DENIED", err)
	}
}
