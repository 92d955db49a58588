// Package main provides the toolflight CLI.
//
// toolflight sits between an agent and its tools. Identical read-only calls
// issued while an earlier one is still running share its dispatch, and
// finished results are reused for the rest of the turn or session.
//
// # Basic Usage
//
// Serve the workspace tools over MCP stdio:
//
//	toolflight serve --config toolflight.yaml
//
// Validate an allowlist:
//
//	toolflight check --allowlist allowlist.yaml
//
// Print the cache key of a call:
//
//	toolflight key read_file '{"path":"README.md"}'
//
// # Environment Variables
//
//   - TOOLFLIGHT_CONFIG: configuration file used when --config is not given
//   - TOOLFLIGHT_DISABLE_CACHE: disables result caching; dedupe stays on
//   - TOOLFLIGHT_CACHE_MAX_ENTRIES: per-session cache bound
//   - TOOLFLIGHT_CACHE_TTL_SECS: default TTL of allowlisted tools
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "toolflight:", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "toolflight",
		Short: "Turn-scoped tool result cache with in-flight dedupe",
		Long: `toolflight proxies agent tool calls. Calls to allowlisted read-only tools
that match one already running wait for it instead of dispatching again, and
their results are cached for the turn or the session.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildCheckCmd(),
		buildKeyCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "toolflight %s (commit: %s, built: %s)\n", version, commit, date)
			return err
		},
	}
}
