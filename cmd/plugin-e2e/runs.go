// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/plugin-e2e/internal/runstore"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List past runs from the history database",
	Long: `Runs lists recorded runs, newest first. Use --gate to see the recent
outcomes of one gate across runs, or the show subcommand to print the stored
manifest of a single run.`,
	RunE: runRuns,
}

var runsShowCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Print the stored manifest of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

func init() {
	runsCmd.PersistentFlags().String("store", "", "run history database (default .e2e/runs.db)")
	runsCmd.Flags().Int("limit", 20, "maximum number of rows")
	runsCmd.Flags().String("gate", "", "show history for one gate")
	runsCmd.Flags().Bool("yaml", false, "output as YAML")

	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

func openStore(cmd *cobra.Command) (*runstore.Store, error) {
	if err := bindFlags(cmd); err != nil {
		return nil, err
	}
	return runstore.Open(viper.GetString("store_path"))
}

func runRuns(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	gate, _ := cmd.Flags().GetString("gate")
	asYAML, _ := cmd.Flags().GetBool("yaml")
	w := cmd.OutOrStdout()

	if gate != "" {
		if !knownGate(gate) {
			return fmt.Errorf("unknown gate %q", gate)
		}
		hist, err := store.GateHistory(cmd.Context(), gate, limit)
		if err != nil {
			return err
		}
		if asYAML {
			return writeYAML(w, hist)
		}
		if len(hist) == 0 {
			fmt.Fprintln(w, "No results found.")
			return nil
		}
		for _, h := range hist {
			note := h.ErrorCode
			if h.SkipReason != "" {
				note = h.SkipReason
			}
			fmt.Fprintf(w, "%-36s  %-20s  %-8s  %s\n", h.RunID, h.StartedAt.Format("2006-01-02 15:04:05"), h.Outcome, note)
		}
		return nil
	}

	runs, err := store.ListRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if asYAML {
		return writeYAML(w, runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	fmt.Fprintf(w, "%-36s  %-20s  %-6s  %-6s  %-6s  %-7s  %s\n",
		"Run", "Generated", "Total", "Passed", "Failed", "Skipped", "Result")
	fmt.Fprintln(w, strings.Repeat("-", 106))
	for _, r := range runs {
		result := "pass"
		if !r.OverallSuccess {
			result = "FAIL"
		}
		if r.HostBugTier != "" {
			result += " (host: " + r.HostBugTier + ")"
		}
		fmt.Fprintf(w, "%-36s  %-20s  %-6d  %-6d  %-6d  %-7d  %s\n",
			r.RunID, r.GeneratedAt.Format("2006-01-02 15:04:05"), r.Total, r.Passed, r.Failed, r.Skipped, result)
	}
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	m, err := store.LoadManifest(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
