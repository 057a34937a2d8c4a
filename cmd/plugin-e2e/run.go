// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pdiddy/plugin-e2e/internal/container"
	"github.com/pdiddy/plugin-e2e/internal/drift"
	"github.com/pdiddy/plugin-e2e/internal/errcode"
	"github.com/pdiddy/plugin-e2e/internal/gates"
	"github.com/pdiddy/plugin-e2e/internal/hostapi"
	"github.com/pdiddy/plugin-e2e/internal/manifest"
	"github.com/pdiddy/plugin-e2e/internal/redact"
	"github.com/pdiddy/plugin-e2e/internal/runstore"
	"github.com/pdiddy/plugin-e2e/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the verification gates against a live host",
	Long: `Run executes the gates Schema, Search, AlbumSearch, Grab, Metadata,
ImportList, Persistence and AuthFailure in order against the configured host.
A gate whose predecessor did not succeed is skipped with a reason.

The manifest is written atomically to --manifest. The run is also recorded in
the history database unless --no-store is given. When --contracts is set the
drift sentinel runs after the gates and its reports join the manifest.

The command exits non-zero when any gate failed, or when drift was detected
and --strict is set.`,
	RunE: runRun,
}

func init() {
	addGateFlags(runCmd)
	runCmd.Flags().Bool("no-store", false, "do not record the run in the history database")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, sources, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	host, err := hostapi.New(cfg.Host, &http.Client{}, logger)
	if err != nil {
		return fmt.Errorf("%s: %w", errcode.ConfigInvalid, err)
	}

	rt, rtErr := container.Open(ctx, cfg.Container, container.OSExecutor{})
	if rtErr != nil {
		logger.Warn("container runtime unavailable", "error", redact.Text(rtErr.Error()))
	}

	runID := uuid.NewString()
	opts := gates.Options{
		Host:       host,
		Runtime:    rt,
		RuntimeErr: rtErr,
		RunID:      runID,
		Logger:     logger,
		Out:        out,
	}

	var store *runstore.Store
	noStore, _ := cmd.Flags().GetBool("no-store")
	if !noStore && cfg.StorePath != "" {
		store, err = runstore.Open(cfg.StorePath)
		if err != nil {
			logger.Warn("run history disabled", "error", err)
		} else {
			defer store.Close()
			opts.Store = store
		}
	}

	fmt.Fprintf(out, "run %s: plugin %s against %s\n", runID, cfg.Plugin.Name, redact.URL(cfg.Host.URL))
	results := gates.NewRunner(cfg, opts).Run(ctx)

	var reports []types.DriftReport
	if cfg.Drift.ContractsFile != "" {
		reports, err = probeContracts(ctx, cfg.Drift, out)
		if err != nil {
			logger.Warn("drift sentinel did not run", "error", err)
		}
	}

	m := manifest.Build(results, manifest.Context{
		RunID:     runID,
		Sources:   sources,
		Request:   requestContext(cmd, cfg),
		Effective: effectiveContext(cfg, rt),
		Drift:     reports,
		Logger:    logger,
	})
	if err := manifest.Write(cfg.ManifestPath, m); err != nil {
		return err
	}
	if store != nil {
		if err := store.SaveManifest(ctx, m); err != nil {
			logger.Warn("recording run history", "error", err)
		}
	}

	printSummary(out, m, cfg.ManifestPath)

	if !m.Summary.OverallSuccess {
		return fmt.Errorf("%d gate(s) failed", m.Summary.Failed)
	}
	if cfg.Drift.Strict && drift.Detected(reports) {
		return fmt.Errorf("provider drift detected")
	}
	return nil
}

// probeContracts runs the drift sentinel over the contracts file and prints
// one line per report.
func probeContracts(ctx context.Context, cfg types.DriftConfig, w io.Writer) ([]types.DriftReport, error) {
	contracts, err := drift.LoadContracts(cfg.ContractsFile)
	if err != nil {
		return nil, err
	}
	s := &drift.Sentinel{
		HTTP:       &http.Client{Timeout: driftTimeout},
		Secrets:    loadedSecrets,
		MaxRetries: driftRetries,
		Parallel:   cfg.Parallel,
		Logger:     logger,
	}
	reports := s.Run(ctx, contracts)
	for _, r := range reports {
		printDriftReport(w, r)
	}
	return reports, nil
}

func requestContext(cmd *cobra.Command, cfg types.Config) map[string]any {
	only := cfg.Gates.Only
	if len(only) == 0 {
		only = types.GateOrder
	}
	return map[string]any{
		"command":        cmd.CommandPath(),
		"plugin":         cfg.Plugin.Name,
		"implementation": cfg.Plugin.Implementation,
		"gates":          only,
		"artist":         cfg.Gates.Artist,
		"album":          cfg.Gates.Album,
		"driftContracts": cfg.Drift.ContractsFile,
	}
}

// effectiveContext is the configuration after defaults, minus secrets.
// Plugin field values are reduced to their names.
func effectiveContext(cfg types.Config, rt *container.Runtime) map[string]any {
	fieldNames := make([]string, 0, len(cfg.Plugin.Fields))
	for k := range cfg.Plugin.Fields {
		fieldNames = append(fieldNames, k)
	}
	apiKeyPresent := cfg.Host.APIKey != ""
	cfg.Plugin.Fields = nil
	cfg.Host.APIKey = ""

	eff, _ := manifest.Strip(cfg).(map[string]any)
	if eff == nil {
		eff = map[string]any{}
	}
	eff["pluginFieldNames"] = sortedStrings(fieldNames)
	eff["apiKeyPresent"] = apiKeyPresent
	eff["keyCount"] = len(loadedSecrets)
	if rt != nil {
		eff["containerRuntime"] = rt.Name()
	}
	return eff
}

func printSummary(w io.Writer, m types.RunManifest, path string) {
	s := m.Summary
	fmt.Fprintf(w, "\ntotal: %d, passed: %d, failed: %d, skipped: %d\n", s.Total, s.Passed, s.Failed, s.Skipped)
	if m.HostBugSuspected.Detected {
		fmt.Fprintf(w, "host defect suspected (%s) in %s: %s\n",
			m.HostBugSuspected.Tier, m.HostBugSuspected.Gate, m.HostBugSuspected.Evidence)
	}
	fmt.Fprintf(w, "manifest written to %s\n", path)
}
