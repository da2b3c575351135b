// Package tool defines the gateway's invocable operations and their metadata.
package tool

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxNameLength is the maximum length of an operation name.
const MaxNameLength = 255

// namePattern validates operation names. Names must start with a letter
// and contain only alphanumeric characters, underscores, and hyphens.
var namePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// Tool describes one invocable gateway operation.
type Tool struct {
	// Name identifies the operation in tools/call requests.
	Name string `json:"name"`
	// Description is shown in tools/list responses.
	Description string `json:"description"`
	// ReadOnly marks operations that never mutate database state.
	ReadOnly bool `json:"-"`
	// InputSchema is the JSON Schema for the operation's arguments.
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// ValidateName checks an operation name against the allowed pattern.
// Path traversal sequences are rejected before the pattern match so the
// error names the actual problem.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("tool name too long: %d characters", len(name))
	}
	if strings.Contains(name, "..") || strings.Contains(name, "/") {
		return fmt.Errorf("invalid characters in tool name")
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid tool name format")
	}
	return nil
}
