package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, standard locations are searched for
// sqlward.yaml/.yml. The search requires an explicit YAML extension so the
// binary itself (same base name, no extension) is never matched.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found. Set name/type without search paths so
		// ReadInConfig returns ConfigFileNotFoundError, which callers
		// handle gracefully.
		viper.SetConfigName("sqlward")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: SQLWARD_AUTH_SIGNING_SECRET etc.
	viper.SetEnvPrefix("SQLWARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()

	// Audit is on unless explicitly disabled; a zero-value bool cannot
	// express that default.
	viper.SetDefault("auth.audit_enabled", true)
}

// findConfigFile searches standard locations for a sqlward config file
// with an explicit YAML extension.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".sqlward"),
		"/etc/sqlward",
	}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "sqlward"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds nested config keys for environment variable
// support. Arrays (rules, allow-lists) are config-file only.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("server.metrics_addr")
	_ = viper.BindEnv("server.tracing_enabled")
	_ = viper.BindEnv("server.project_url")

	_ = viper.BindEnv("database.path")

	_ = viper.BindEnv("auth.signing_secret")
	_ = viper.BindEnv("auth.session_timeout")
	_ = viper.BindEnv("auth.max_concurrent_sessions")
	_ = viper.BindEnv("auth.audit_enabled")

	_ = viper.BindEnv("roles_file")
}

// Load reads the configuration file, applies environment overrides and
// defaults, validates, and returns the Config.
func Load() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file; environment variables alone are fine.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// FileUsed returns the path of the loaded configuration file, or empty
// when running on environment variables only.
func FileUsed() string {
	return viper.ConfigFileUsed()
}
