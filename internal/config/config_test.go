package config

import (
	"strings"
	"testing"
	"time"

	"github.com/sqlward/sqlward/internal/service"
)

func validConfig() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

func TestSetDefaults(t *testing.T) {
	c := &Config{}
	c.SetDefaults()

	if c.Server.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", c.Server.LogLevel)
	}
	if c.Server.ProjectURL != "http://localhost:8000" {
		t.Errorf("ProjectURL = %q", c.Server.ProjectURL)
	}
	if c.Database.Path != "sqlward.db" {
		t.Errorf("Database.Path = %q", c.Database.Path)
	}
	if c.Auth.SessionTimeout != 30*time.Minute {
		t.Errorf("SessionTimeout = %v", c.Auth.SessionTimeout)
	}
	if c.Auth.MaxConcurrentSessions != 5 {
		t.Errorf("MaxConcurrentSessions = %d", c.Auth.MaxConcurrentSessions)
	}
	if c.Audit.Capacity != 10000 {
		t.Errorf("Audit.Capacity = %d", c.Audit.Capacity)
	}
}

func TestSetDefaultsPreservesExplicitValues(t *testing.T) {
	c := &Config{}
	c.Server.LogLevel = "debug"
	c.Auth.SessionTimeout = time.Hour
	c.SetDefaults()

	if c.Server.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", c.Server.LogLevel)
	}
	if c.Auth.SessionTimeout != time.Hour {
		t.Errorf("SessionTimeout = %v, want 1h", c.Auth.SessionTimeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Server.LogLevel = "verbose" },
			wantErr: "must be one of",
		},
		{
			name:    "bad metrics addr",
			mutate:  func(c *Config) { c.Server.MetricsAddr = "no-port" },
			wantErr: "host:port",
		},
		{
			name:   "valid metrics addr",
			mutate: func(c *Config) { c.Server.MetricsAddr = "localhost:9090" },
		},
		{
			name:    "bad project url",
			mutate:  func(c *Config) { c.Server.ProjectURL = "not a url" },
			wantErr: "valid URL",
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "required",
		},
		{
			name:    "session timeout too short",
			mutate:  func(c *Config) { c.Auth.SessionTimeout = time.Millisecond },
			wantErr: "at least",
		},
		{
			name: "rule missing condition",
			mutate: func(c *Config) {
				c.Rules = []service.RuleConfig{{Name: "r", ToolMatch: "*", Action: "deny"}}
			},
			wantErr: "required",
		},
		{
			name: "rule bad action",
			mutate: func(c *Config) {
				c.Rules = []service.RuleConfig{{Name: "r", ToolMatch: "*", Condition: "true", Action: "allow"}}
			},
			wantErr: "must be one of",
		},
		{
			name: "duplicate rule names",
			mutate: func(c *Config) {
				c.Rules = []service.RuleConfig{
					{Name: "r", ToolMatch: "*", Condition: "true", Action: "deny"},
					{Name: "r", ToolMatch: "execute_*", Condition: "true", Action: "deny"},
				}
			},
			wantErr: "duplicate rule name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}
