package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/toolflight/allowlist"
	"github.com/jonwraymond/toolflight/cache"
	"github.com/jonwraymond/toolflight/config"
)

func buildCheckCmd() *cobra.Command {
	var (
		path       string
		defaultTTL = config.DefaultTTL
		maxTTL     = config.DefaultMaxTTL
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate an allowlist and print its classification",
		Long: `Load an allowlist file (YAML, or JSON with comments) and print the
effective policy of every tool. Without --allowlist the builtin list is shown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := []allowlist.Option{allowlist.WithDefaultTTL(defaultTTL), allowlist.WithMaxTTL(maxTTL)}

			var (
				a   *allowlist.Allowlist
				err error
			)
			if strings.TrimSpace(path) == "" {
				a, err = allowlist.Builtin(opts...)
			} else {
				a, err = allowlist.Load(path, opts...)
			}
			if err != nil {
				return err
			}
			return printAllowlist(cmd, a)
		},
	}
	cmd.Flags().StringVar(&path, "allowlist", "", "Allowlist file (.yaml, .yml, .json, .jsonc)")
	cmd.Flags().DurationVar(&defaultTTL, "default-ttl", defaultTTL, "TTL of entries without one, unless the file sets default_ttl")
	cmd.Flags().DurationVar(&maxTTL, "max-ttl", maxTTL, "TTL clamp, unless the file sets max_ttl (0 disables)")
	return cmd
}

func printAllowlist(cmd *cobra.Command, a *allowlist.Allowlist) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "allowlist %s: %d tools (default ttl %s, max ttl %s)\n",
		a.Version(), a.Len(), a.DefaultTTL(), a.MaxTTL())

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tCACHE\tDEDUPE\tSCOPE\tTTL\tTAGS")
	for _, e := range a.Entries() {
		fmt.Fprintf(w, "%s\t%t\t%t\t%s\t%s\t%s\n",
			e.Tool,
			a.IsCacheable(e.Tool),
			a.IsDedupeable(e.Tool),
			a.ScopeFor(e.Tool),
			a.TTLFor(e.Tool),
			strings.Join(e.Tags, ","),
		)
	}
	return w.Flush()
}

func buildKeyCmd() *cobra.Command {
	var session, turn, scope string
	cmd := &cobra.Command{
		Use:   "key TOOL [ARGS]",
		Short: "Print the canonical arguments and cache key of a call",
		Long: `Print the canonical form of a call's JSON arguments and the key it is cached
and deduplicated under. Calls whose arguments differ only in key order or
whitespace print the same key.`,
		Example: `  toolflight key read_file '{"path": "a.txt"}'
  toolflight key search_query '{"q":"go"}' --scope session`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := cache.ParseScope(scope)
			if err != nil {
				return err
			}
			var raw json.RawMessage
			if len(args) == 2 {
				raw = json.RawMessage(args[1])
			}
			key, err := cache.NewDefaultKeyer().Key(session, turn, allowlist.NormalizeTool(args[0]), raw, sc)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "tool:  %s\n", key.Tool)
			fmt.Fprintf(out, "args:  %s\n", key.Args)
			fmt.Fprintf(out, "scope: %s\n", sc)
			_, err = fmt.Fprintf(out, "key:   %s\n", key)
			return err
		},
	}
	cmd.Flags().StringVar(&session, "session", "cli", "Session id")
	cmd.Flags().StringVar(&turn, "turn", "cli", "Turn id (ignored for session scope)")
	cmd.Flags().StringVar(&scope, "scope", cache.ScopeTurn.String(), "Cache scope: turn or session")
	return cmd
}
