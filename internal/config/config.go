// Package config provides configuration loading for sqlward.
package config

import (
	"time"

	"github.com/sqlward/sqlward/internal/service"
)

// Config is the full process configuration, loaded once at startup and
// immutable thereafter.
type Config struct {
	Server   ServerConfig         `mapstructure:"server"`
	Database DatabaseConfig       `mapstructure:"database"`
	Auth     AuthConfig           `mapstructure:"auth"`
	Audit    AuditConfig          `mapstructure:"audit"`
	Rules    []service.RuleConfig `mapstructure:"rules" validate:"dive"`
	// RolesFile optionally points at a YAML file with custom role
	// definitions layered on top of the system roles.
	RolesFile string `mapstructure:"roles_file"`
}

// ServerConfig covers process-level settings.
type ServerConfig struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
	// MetricsAddr is the listen address for the Prometheus endpoint.
	// Empty disables the listener.
	MetricsAddr string `mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`
	// TracingEnabled turns on span export to stderr.
	TracingEnabled bool `mapstructure:"tracing_enabled"`
	// ProjectURL is reported by the get_project_url operation.
	ProjectURL string `mapstructure:"project_url" validate:"omitempty,url"`
}

// DatabaseConfig locates the project database.
type DatabaseConfig struct {
	// Path is the SQLite database file, or ":memory:".
	Path string `mapstructure:"path" validate:"required"`
}

// AuthConfig drives the authentication and authorization subsystem.
type AuthConfig struct {
	// SigningSecret verifies token signatures. Empty disables signature
	// verification; the loader logs a prominent warning in that case.
	SigningSecret string `mapstructure:"signing_secret"`
	// SessionTimeout is the sliding session expiry window.
	SessionTimeout time.Duration `mapstructure:"session_timeout" validate:"omitempty,min=1s"`
	// MaxConcurrentSessions caps active sessions per user.
	MaxConcurrentSessions int `mapstructure:"max_concurrent_sessions" validate:"omitempty,min=1"`
	// AuditEnabled toggles the audit trail.
	AuditEnabled bool `mapstructure:"audit_enabled"`
	// AllowedAudiences is the token audience allow-list. Empty allows any.
	AllowedAudiences []string `mapstructure:"allowed_audiences"`
	// AllowedIssuers is the token issuer allow-list. Empty allows any.
	AllowedIssuers []string `mapstructure:"allowed_issuers"`
	// HumanApprovalTools lists operations requiring out-of-band approval
	// for non-admin roles.
	HumanApprovalTools []string `mapstructure:"human_approval_tools"`
}

// AuditConfig sizes the audit trail and its optional file archive.
type AuditConfig struct {
	// Capacity bounds the in-memory event log.
	Capacity int `mapstructure:"capacity" validate:"omitempty,min=1"`
	// Dir, when set, enables the JSONL file archive in this directory.
	Dir string `mapstructure:"dir"`
	// RetentionDays is how long rotated archive files are kept.
	RetentionDays int `mapstructure:"retention_days" validate:"omitempty,min=1"`
	// MaxFileSizeMB triggers archive size rotation.
	MaxFileSizeMB int `mapstructure:"max_file_size_mb" validate:"omitempty,min=1"`
}

// SetDefaults applies default values for optional fields.
func (c *Config) SetDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.ProjectURL == "" {
		c.Server.ProjectURL = "http://localhost:8000"
	}
	if c.Database.Path == "" {
		c.Database.Path = "sqlward.db"
	}
	if c.Auth.SessionTimeout == 0 {
		c.Auth.SessionTimeout = 30 * time.Minute
	}
	if c.Auth.MaxConcurrentSessions == 0 {
		c.Auth.MaxConcurrentSessions = 5
	}
	if c.Audit.Capacity == 0 {
		c.Audit.Capacity = 10000
	}
}
