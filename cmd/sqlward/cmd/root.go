// Package cmd provides the CLI commands for sqlward.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sqlward/sqlward/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sqlward",
	Short: "sqlward - authenticated SQL tool gateway",
	Long: `sqlward is a tool-invocation gateway for a relational database.

Callers invoke named operations (SQL execution, migrations, user
administration) over a JSON-RPC transport. Every invocation passes
through token validation, session management, role-based access control,
and an audit trail before any SQL runs.

Quick start:
  1. Create a config file: sqlward.yaml
  2. Run: sqlward serve

Configuration:
  Config is loaded from sqlward.yaml in the current directory,
  $HOME/.sqlward/, or /etc/sqlward/.

  Environment variables can override config values with the SQLWARD_ prefix.
  Example: SQLWARD_AUTH_SIGNING_SECRET=...

Commands:
  serve       Start the gateway on stdin/stdout
  hash-key    Generate SHA256 hash for a shared key
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./sqlward.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
