package policy

import (
	"testing"

	"github.com/sqlward/sqlward/internal/domain/auth"
)

func authedCtx(roles ...string) *auth.Context {
	return &auth.Context{
		UserID:        "u1",
		SessionID:     "s1",
		Roles:         roles,
		Authenticated: true,
	}
}

func TestAdminWildcardGrantsEverything(t *testing.T) {
	e := NewEngine(nil, nil)
	ctx := authedCtx(RoleAdmin)

	pairs := []struct{ action, resource string }{
		{"read", "public_data"},
		{"write", "auth_users"},
		{"execute", "sql"},
		{"delete", "anything"},
		{"frobnicate", "whatsit"},
	}
	for _, p := range pairs {
		if !e.HasPermission(ctx, p.action, p.resource, nil) {
			t.Errorf("admin denied %s on %s", p.action, p.resource)
		}
	}
}

func TestAnonDeniedWrites(t *testing.T) {
	e := NewEngine(nil, nil)
	ctx := auth.Anonymous()

	if e.HasPermission(ctx, "write", "auth_users", nil) {
		t.Error("anon granted write on auth_users")
	}
	if !e.HasPermission(ctx, "read", "public_data", nil) {
		t.Error("anon denied read on public_data")
	}
}

func TestUnauthenticatedWithoutAnonRoleDenied(t *testing.T) {
	e := NewEngine(nil, nil)
	ctx := &auth.Context{SessionID: "s1", Roles: []string{RoleAdmin}, Authenticated: false}

	if e.HasPermission(ctx, "read", "public_data", nil) {
		t.Error("unauthenticated context without anon role must be denied outright")
	}
}

func TestConditionalPermissions(t *testing.T) {
	e := NewEngine(nil, nil)
	operator := authedCtx(RoleOperator)

	if !e.HasPermission(operator, "execute", "sql", map[string]any{"readOnly": true}) {
		t.Error("operator denied read-only SQL execution")
	}
	if e.HasPermission(operator, "execute", "sql", map[string]any{"readOnly": false}) {
		t.Error("operator granted mutating SQL execution")
	}
	if e.HasPermission(operator, "execute", "sql", nil) {
		t.Error("operator granted SQL execution with no conditions supplied")
	}

	service := authedCtx(RoleServiceRole)
	if !e.HasPermission(service, "execute", "sql", map[string]any{"readOnly": false}) {
		t.Error("service_role denied unrestricted SQL execution")
	}
}

func TestExplicitPermissionStringFallback(t *testing.T) {
	e := NewEngine(nil, nil)
	ctx := &auth.Context{
		UserID:        "u1",
		SessionID:     "s1",
		Roles:         []string{"nonexistent_role"},
		Permissions:   []string{"read:reports", "malformed", ":", "write:"},
		Authenticated: true,
	}

	if !e.HasPermission(ctx, "read", "reports", nil) {
		t.Error("explicit permission string should grant access")
	}
	if e.HasPermission(ctx, "write", "reports", nil) {
		t.Error("unlisted permission should be denied")
	}
	// Malformed strings fail closed, never panic.
	if e.HasPermission(ctx, "malformed", "", nil) {
		t.Error("malformed permission string should never match")
	}
}

func TestEnforce(t *testing.T) {
	e := NewEngine(nil, nil)

	if err := e.Enforce(authedCtx(RoleAdmin), "write", "auth_users", nil); err != nil {
		t.Errorf("Enforce() for admin error: %v", err)
	}

	err := e.Enforce(auth.Anonymous(), "write", "auth_users", nil)
	if err == nil {
		t.Fatal("Enforce() for anon should fail")
	}
	if !auth.HasCode(err, auth.CodeAccessDenied) {
		t.Errorf("error code = %s, want AUTH_ACCESS_DENIED", auth.ErrCode(err))
	}
}

func TestToolPermissionLookup(t *testing.T) {
	e := NewEngine(nil, nil)

	tests := []struct {
		operation string
		action    string
		resource  string
	}{
		{"execute_sql", "execute", "sql"},
		{"apply_migration", "write", "migrations"},
		{"list_tables", "read", "public_data"},
		{"delete_auth_user", "write", "auth_users"},
		{"custom_operation", "execute", "custom_operation"},
	}

	for _, tt := range tests {
		t.Run(tt.operation, func(t *testing.T) {
			tp := e.ToolPermission(tt.operation)
			if tp.Action != tt.action || tp.Resource != tt.resource {
				t.Errorf("ToolPermission(%s) = {%s %s}, want {%s %s}",
					tt.operation, tp.Action, tp.Resource, tt.action, tt.resource)
			}
		})
	}
}

func TestRequiresHumanApproval(t *testing.T) {
	e := NewEngine([]string{"delete_auth_user"}, nil)

	if !e.RequiresHumanApproval("delete_auth_user", authedCtx(RoleServiceRole)) {
		t.Error("service_role should require approval for listed operation")
	}
	if e.RequiresHumanApproval("delete_auth_user", authedCtx(RoleAdmin)) {
		t.Error("admin should bypass human approval")
	}
	if e.RequiresHumanApproval("list_tables", authedCtx(RoleServiceRole)) {
		t.Error("unlisted operation should not require approval")
	}
}

func TestMinimumRole(t *testing.T) {
	e := NewEngine(nil, nil)

	if got := e.MinimumRole("execute_sql"); got != RoleOperator {
		t.Errorf("MinimumRole(execute_sql) = %s, want operator", got)
	}
	if got := e.MinimumRole("delete_auth_user"); got != RoleServiceRole {
		t.Errorf("MinimumRole(delete_auth_user) = %s, want service_role", got)
	}
	if got := e.MinimumRole("anything_else"); got != RoleAuthenticated {
		t.Errorf("MinimumRole(anything_else) = %s, want authenticated", got)
	}
}

func TestSystemRolesImmutable(t *testing.T) {
	e := NewEngine(nil, nil)

	err := e.RegisterRole(Role{Name: RoleAdmin, Permissions: []Permission{{Action: "read", Resource: "nothing"}}})
	if err == nil {
		t.Fatal("RegisterRole should refuse to replace a system role")
	}

	if err := e.RegisterRole(Role{
		Name:        "analyst",
		Permissions: []Permission{{Action: "read", Resource: "reports"}},
	}); err != nil {
		t.Fatalf("RegisterRole for custom role error: %v", err)
	}
	if !e.HasPermission(authedCtx("analyst"), "read", "reports", nil) {
		t.Error("custom role permission not honored")
	}
}

func TestPermissionMatches(t *testing.T) {
	tests := []struct {
		name       string
		perm       Permission
		action     string
		resource   string
		conditions map[string]any
		want       bool
	}{
		{"exact", Permission{Action: "read", Resource: "x"}, "read", "x", nil, true},
		{"wildcard action", Permission{Action: "*", Resource: "x"}, "write", "x", nil, true},
		{"wildcard resource", Permission{Action: "read", Resource: "*"}, "read", "y", nil, true},
		{"action mismatch", Permission{Action: "read", Resource: "x"}, "write", "x", nil, false},
		{"condition met", Permission{Action: "a", Resource: "r", Conditions: map[string]any{"k": true}}, "a", "r", map[string]any{"k": true, "extra": 1}, true},
		{"condition value differs", Permission{Action: "a", Resource: "r", Conditions: map[string]any{"k": true}}, "a", "r", map[string]any{"k": false}, false},
		{"condition absent", Permission{Action: "a", Resource: "r", Conditions: map[string]any{"k": true}}, "a", "r", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.perm.Matches(tt.action, tt.resource, tt.conditions); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}
