// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/plugin-e2e/internal/drift"
	"github.com/pdiddy/plugin-e2e/pkg/types"
)

const (
	driftTimeout = 30 * time.Second
	driftRetries = 3
)

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Check live provider APIs against recorded contracts",
	Long: `Drift sends one invalid request per provider and checks the error body,
then sends an authenticated request and checks the required, optional and
at_least_one fields of the response. Probes needing credentials that are not
in .secrets/ are skipped. Rate limits and outages are reported as
inconclusive, never as drift.

Drift is a warning unless --strict is set, in which case detected drift
exits non-zero.`,
	RunE: runDrift,
}

func init() {
	addDriftFlags(driftCmd)
	driftCmd.Flags().Bool("json", false, "output reports as JSON")
	rootCmd.AddCommand(driftCmd)
}

func runDrift(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Drift.ContractsFile == "" {
		return fmt.Errorf("provide a contracts file with --contracts or drift.contracts_file")
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	w := cmd.OutOrStdout()
	if jsonOutput {
		w = io.Discard
	}
	reports, err := probeContracts(cmd.Context(), cfg.Drift, w)
	if err != nil {
		return err
	}
	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			return err
		}
	}

	if drift.Detected(reports) {
		if cfg.Drift.Strict {
			return fmt.Errorf("provider drift detected")
		}
		logger.Warn("provider drift detected; rerun with --strict to fail")
	}
	return nil
}

func printDriftReport(w io.Writer, r types.DriftReport) {
	status := "ok"
	note := r.Details
	switch {
	case r.Skipped:
		status, note = "skipped", r.SkipReason
	case r.Inconclusive:
		status = "inconclusive"
	case r.DriftDetected:
		status = "drift"
	}
	fmt.Fprintf(w, "%-12s %-8s %s", r.Provider, r.Mode, status)
	if note != "" {
		fmt.Fprintf(w, " (%s)", note)
	}
	fmt.Fprintln(w)
}

func sortedStrings(ss []string) []string {
	out := append([]string(nil), ss...)
	sort.Strings(out)
	return out
}
