package tool

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the set of operations the gateway serves. Built-in
// operations are seeded at construction; the registry is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a registry seeded with the built-in operations.
func NewRegistry() *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range builtinTools() {
		r.tools[t.Name] = t
	}
	return r
}

// Register adds or replaces an operation. The name must pass ValidateName.
func (r *Registry) Register(t Tool) error {
	if err := ValidateName(t.Name); err != nil {
		return fmt.Errorf("register tool: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
	return nil
}

// Get returns the named operation.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all operations sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

func stringArg(name, description string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			name: map[string]any{"type": "string", "description": description},
		},
		"required": []string{name},
	}
}

// builtinTools lists the operations the gateway ships with.
func builtinTools() []Tool {
	return []Tool{
		{
			Name:        "execute_sql",
			Description: "Execute a SQL statement against the project database",
			InputSchema: stringArg("sql", "SQL statement to execute"),
		},
		{
			Name:        "apply_migration",
			Description: "Apply a named schema migration",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{"type": "string", "description": "Migration name"},
					"sql":  map[string]any{"type": "string", "description": "Migration SQL"},
				},
				"required": []string{"name", "sql"},
			},
		},
		{
			Name:        "list_migrations",
			Description: "List applied schema migrations",
			ReadOnly:    true,
		},
		{
			Name:        "list_tables",
			Description: "List tables in the project database",
			ReadOnly:    true,
		},
		{
			Name:        "list_extensions",
			Description: "List installed database extensions",
			ReadOnly:    true,
		},
		{
			Name:        "get_database_stats",
			Description: "Report database size and row-count statistics",
			ReadOnly:    true,
		},
		{
			Name:        "get_project_url",
			Description: "Return the project's API URL",
			ReadOnly:    true,
		},
		{
			Name:        "list_auth_users",
			Description: "List users in the auth schema",
			ReadOnly:    true,
		},
		{
			Name:        "get_auth_user",
			Description: "Fetch one user from the auth schema",
			ReadOnly:    true,
			InputSchema: stringArg("user_id", "User identifier"),
		},
		{
			Name:        "create_auth_user",
			Description: "Create a user in the auth schema",
			InputSchema: stringArg("email", "Email address for the new user"),
		},
		{
			Name:        "update_auth_user",
			Description: "Update a user in the auth schema",
			InputSchema: stringArg("user_id", "User identifier"),
		},
		{
			Name:        "delete_auth_user",
			Description: "Delete a user from the auth schema",
			InputSchema: stringArg("user_id", "User identifier"),
		},
		{
			Name:        "rebuild_hooks",
			Description: "Rebuild database webhook triggers",
		},
	}
}
