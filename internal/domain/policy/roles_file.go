package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// rolesFile is the YAML shape of a custom roles file.
type rolesFile struct {
	Roles []Role `yaml:"roles"`
}

// LoadRolesFile reads custom role definitions from a YAML file and
// registers them on the engine. System roles cannot be overridden; a file
// that names one is rejected whole so a partial load never goes live.
func (e *Engine) LoadRolesFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read roles file: %w", err)
	}

	var f rolesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse roles file: %w", err)
	}

	for _, r := range f.Roles {
		if r.Name == "" {
			return fmt.Errorf("roles file %s: role with empty name", path)
		}
		if existing, ok := e.Role(r.Name); ok && existing.System {
			return fmt.Errorf("roles file %s: %q is a system role and cannot be overridden", path, r.Name)
		}
	}
	for _, r := range f.Roles {
		if err := e.RegisterRole(r); err != nil {
			return err
		}
	}

	e.logger.Info("custom roles loaded", "path", path, "count", len(f.Roles))
	return nil
}
