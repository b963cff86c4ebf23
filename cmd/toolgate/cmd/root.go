// Package cmd provides the CLI commands for Toolgate.
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/toolgate-dev/toolgate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "toolgate",
	Short: "Toolgate - policy gateway for agent tool calls",
	Long: `Toolgate sits between AI agents and their tools, evaluating every
tool call against a signed policy bundle before it executes.

It provides policy evaluation, dual-control approvals, rate limiting,
per-tenant budgets, and a hash-chained audit log, speaking MCP
(Model Context Protocol) over HTTP and stdio.

Quick start:
  1. Create a config file: toolgate.yaml
  2. Run: toolgate serve --dev

Configuration:
  Config is loaded from toolgate.yaml in the current directory,
  $HOME/.toolgate/, or /etc/toolgate/.

  Environment variables can override config values with the TOOLGATE_ prefix.
  Example: TOOLGATE_SERVER_HTTP_ADDR=:9090

Commands:
  serve        Start the HTTP gateway
  run          Serve MCP over stdin/stdout
  keygen       Generate an Ed25519 policy signing keypair
  sign-policy  Sign a policy bundle file
  version      Print version information`,
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./toolgate.yaml)")
}

func initConfig() {
	// A .env file is optional; absence is not an error.
	_ = godotenv.Load()
	config.InitViper(cfgFile)
}
