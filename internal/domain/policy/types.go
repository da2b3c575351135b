// Package policy implements role-based access control for tool invocations.
package policy

import (
	"strings"
)

// Wildcard matches any action or resource in a permission.
const Wildcard = "*"

// System role names. Seeded at engine construction and immutable.
const (
	RoleAnon          = "anon"
	RoleAuthenticated = "authenticated"
	RoleOperator      = "operator"
	RoleServiceRole   = "service_role"
	RoleAdmin         = "admin"
)

// Permission grants an action on a resource, optionally constrained by
// conditions that must subset-match the conditions supplied at check time.
type Permission struct {
	// Action is a verb, or Wildcard.
	Action string `yaml:"action"`
	// Resource is a noun, or Wildcard.
	Resource string `yaml:"resource"`
	// Conditions, when present, must all appear with equal values in the
	// check-time condition map for this permission to match.
	Conditions map[string]any `yaml:"conditions,omitempty"`
}

// Matches reports whether this permission grants the requested action on
// the requested resource under the supplied conditions.
func (p Permission) Matches(action, resource string, conditions map[string]any) bool {
	if p.Action != Wildcard && p.Action != action {
		return false
	}
	if p.Resource != Wildcard && p.Resource != resource {
		return false
	}
	for key, want := range p.Conditions {
		got, ok := conditions[key]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// ParsePermission parses an explicit "action:resource" permission string.
// Invalid strings fail closed: ok is false and the permission never
// matches. No error is returned so a malformed grant cannot abort a
// policy check mid-flight.
func ParsePermission(s string) (Permission, bool) {
	action, resource, found := strings.Cut(s, ":")
	if !found || action == "" || resource == "" {
		return Permission{}, false
	}
	return Permission{Action: action, Resource: resource}, true
}

// Role is a named bundle of permissions.
type Role struct {
	// Name identifies the role in token claims and policy checks.
	Name string `yaml:"name"`
	// Description is a human-readable summary.
	Description string `yaml:"description,omitempty"`
	// Permissions are evaluated in order; any single match grants access.
	Permissions []Permission `yaml:"permissions"`
	// System marks the immutable built-in roles.
	System bool `yaml:"-"`
}

// ToolPermission is the permission a named operation requires.
type ToolPermission struct {
	Action     string
	Resource   string
	Conditions map[string]any
}

// systemRoles seeds the engine with the immutable built-in roles.
func systemRoles() []Role {
	return []Role{
		{
			Name:        RoleAnon,
			Description: "Unauthenticated caller; may read public data only",
			System:      true,
			Permissions: []Permission{
				{Action: "read", Resource: "public_data"},
			},
		},
		{
			Name:        RoleAuthenticated,
			Description: "Default role for any valid token without explicit roles",
			System:      true,
			Permissions: []Permission{
				{Action: "read", Resource: "public_data"},
				{Action: "read", Resource: "own_data"},
				{Action: "read", Resource: "database_stats"},
				{Action: "read", Resource: "project_url"},
			},
		},
		{
			Name:        RoleOperator,
			Description: "Operational access: read-only SQL, migrations, stats, extensions",
			System:      true,
			Permissions: []Permission{
				{Action: "read", Resource: "public_data"},
				{Action: "read", Resource: "own_data"},
				{Action: "read", Resource: "database_stats"},
				{Action: "read", Resource: "project_url"},
				{Action: "read", Resource: "migrations"},
				{Action: "write", Resource: "migrations"},
				{Action: "read", Resource: "extensions"},
				{Action: "execute", Resource: "sql", Conditions: map[string]any{"readOnly": true}},
			},
		},
		{
			Name:        RoleServiceRole,
			Description: "Service access: broad read, auth-user writes, unrestricted SQL",
			System:      true,
			Permissions: []Permission{
				{Action: "read", Resource: Wildcard},
				{Action: "write", Resource: "auth_users"},
				{Action: "execute", Resource: "sql"},
				{Action: "execute", Resource: "hooks"},
				{Action: "execute", Resource: "rebuild"},
			},
		},
		{
			Name:        RoleAdmin,
			Description: "Unconditional allow",
			System:      true,
			Permissions: []Permission{
				{Action: Wildcard, Resource: Wildcard},
			},
		},
	}
}
