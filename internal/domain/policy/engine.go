package policy

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/sqlward/sqlward/internal/domain/auth"
)

// toolPermissions maps each known operation to its required permission.
// Operations absent from the table default to {execute, <operation>}.
var toolPermissions = map[string]ToolPermission{
	"execute_sql":      {Action: "execute", Resource: "sql"},
	"apply_migration":  {Action: "write", Resource: "migrations"},
	"list_migrations":  {Action: "read", Resource: "migrations"},
	"list_tables":      {Action: "read", Resource: "public_data"},
	"list_extensions":  {Action: "read", Resource: "extensions"},
	"get_database_stats": {Action: "read", Resource: "database_stats"},
	"get_project_url":  {Action: "read", Resource: "project_url"},
	"list_auth_users":  {Action: "read", Resource: "auth_users"},
	"get_auth_user":    {Action: "read", Resource: "auth_users"},
	"create_auth_user": {Action: "write", Resource: "auth_users"},
	"update_auth_user": {Action: "write", Resource: "auth_users"},
	"delete_auth_user": {Action: "write", Resource: "auth_users"},
	"rebuild_hooks":    {Action: "execute", Resource: "hooks"},
}

// minimumRoles gives the lowest role formally expected per operation.
// Informational; the permission check is authoritative.
var minimumRoles = map[string]string{
	"execute_sql":      RoleOperator,
	"apply_migration":  RoleOperator,
	"list_migrations":  RoleOperator,
	"list_extensions":  RoleOperator,
	"list_auth_users":  RoleServiceRole,
	"get_auth_user":    RoleServiceRole,
	"create_auth_user": RoleServiceRole,
	"update_auth_user": RoleServiceRole,
	"delete_auth_user": RoleServiceRole,
	"rebuild_hooks":    RoleServiceRole,
}

// Engine decides allow/deny for (context, action, resource) triples.
// System roles are seeded at construction and immutable; additional custom
// roles may be registered before serving traffic.
type Engine struct {
	mu             sync.RWMutex
	roles          map[string]Role
	humanApproval  map[string]struct{}
	logger         *slog.Logger
}

// NewEngine creates a policy engine seeded with the system roles.
// humanApprovalTools lists operation names that require out-of-band
// approval for non-admin contexts.
func NewEngine(humanApprovalTools []string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		roles:         make(map[string]Role),
		humanApproval: make(map[string]struct{}, len(humanApprovalTools)),
		logger:        logger,
	}
	for _, r := range systemRoles() {
		e.roles[r.Name] = r
	}
	for _, name := range humanApprovalTools {
		e.humanApproval[name] = struct{}{}
	}
	return e
}

// RegisterRole adds a custom role. System roles cannot be replaced.
func (e *Engine) RegisterRole(r Role) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.roles[r.Name]; ok && existing.System {
		return fmt.Errorf("role %q is a system role and cannot be replaced", r.Name)
	}
	r.System = false
	e.roles[r.Name] = r
	return nil
}

// Role returns the definition of a named role.
func (e *Engine) Role(name string) (Role, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.roles[name]
	return r, ok
}

// HasPermission decides whether ctx may perform action on resource under
// the supplied conditions.
//
// An unauthenticated context without the anon role is denied outright.
// Role permissions are checked first; any single match grants access.
// The context's explicit permission strings are the fallback, parsed
// fail-closed. No match anywhere means deny.
func (e *Engine) HasPermission(ctx *auth.Context, action, resource string, conditions map[string]any) bool {
	if !ctx.Authenticated && !ctx.HasRole(RoleAnon) {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, roleName := range ctx.Roles {
		role, ok := e.roles[roleName]
		if !ok {
			continue
		}
		for _, perm := range role.Permissions {
			if perm.Matches(action, resource, conditions) {
				return true
			}
		}
	}

	for _, grant := range ctx.Permissions {
		perm, ok := ParsePermission(grant)
		if !ok {
			continue
		}
		if perm.Matches(action, resource, conditions) {
			return true
		}
	}

	return false
}

// Enforce fails with AUTH_ACCESS_DENIED when HasPermission denies.
func (e *Engine) Enforce(ctx *auth.Context, action, resource string, conditions map[string]any) error {
	if e.HasPermission(ctx, action, resource, conditions) {
		return nil
	}
	return auth.NewAuthorizationError(auth.CodeAccessDenied,
		fmt.Sprintf("permission denied: %s on %s", action, resource))
}

// ToolPermission returns the permission required for a named operation.
// Unknown operations default to {execute, <operation>}.
func (e *Engine) ToolPermission(operation string) ToolPermission {
	if tp, ok := toolPermissions[operation]; ok {
		return tp
	}
	return ToolPermission{Action: "execute", Resource: operation}
}

// RequiresHumanApproval reports whether the operation needs out-of-band
// approval for this context. Admins always bypass.
func (e *Engine) RequiresHumanApproval(operation string, ctx *auth.Context) bool {
	if ctx.HasRole(RoleAdmin) {
		return false
	}
	_, ok := e.humanApproval[operation]
	return ok
}

// MinimumRole returns the lowest role formally expected for an operation,
// defaulting to authenticated.
func (e *Engine) MinimumRole(operation string) string {
	if role, ok := minimumRoles[operation]; ok {
		return role
	}
	return RoleAuthenticated
}
