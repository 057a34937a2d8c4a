// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/plugin-e2e/internal/errcode"
	"github.com/pdiddy/plugin-e2e/internal/secrets"
	"github.com/pdiddy/plugin-e2e/pkg/types"
)

const envPrefix = "PLUGIN_E2E"

// Secret file names consulted when flags, env and config leave a value empty.
const (
	secretHostAPIKey   = "host-api-key"
	secretPluginPrefix = "plugin-"
)

// configFlag maps a command-line flag to its viper key.
type configFlag struct {
	flag string
	key  string
}

var configFlags = []configFlag{
	{"host-url", "host.url"},
	{"api-key", "host.api_key"},
	{"host-timeout", "host.timeout"},
	{"max-retries", "host.max_retries"},
	{"plugin", "plugin.name"},
	{"implementation", "plugin.implementation"},
	{"download-client", "plugin.download_client_implementation"},
	{"import-list", "plugin.import_list_implementation"},
	{"field", "plugin.fields"},
	{"runtime", "container.runtime"},
	{"container", "container.name"},
	{"download-path", "container.download_path"},
	{"log-tail", "container.log_tail"},
	{"only", "gates.only"},
	{"artist", "gates.artist"},
	{"album", "gates.album"},
	{"poll-interval", "gates.poll_interval"},
	{"queue-timeout", "gates.queue_timeout"},
	{"command-timeout", "gates.command_timeout"},
	{"size-policy", "gates.size_policy"},
	{"auth-failure-mode", "gates.auth_failure_mode"},
	{"required-field", "gates.required_fields"},
	{"cleanup", "gates.cleanup"},
	{"contracts", "drift.contracts_file"},
	{"strict", "drift.strict"},
	{"parallel", "drift.parallel"},
	{"store", "store_path"},
	{"manifest", "manifest_path"},
}

func setDefaults() {
	viper.SetDefault("host.max_retries", 5)
	viper.SetDefault("container.runtime", "auto")
	viper.SetDefault("container.log_tail", 200)
	viper.SetDefault("gates.size_policy", string(types.SizeDescending))
	viper.SetDefault("gates.auth_failure_mode", "401")
	viper.SetDefault("store_path", ".e2e/runs.db")
	viper.SetDefault("manifest_path", ".e2e/manifest.json")
}

// addGateFlags registers the flags of the run command.
func addGateFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("host-url", "", "host base URL, e.g. http://localhost:8686")
	f.String("api-key", "", "host API key (default: .secrets/host-api-key)")
	f.Duration("host-timeout", 0, "per-request host timeout (default 30s)")
	f.Int("max-retries", 0, "retries on 429/5xx per host call (default 5)")
	f.String("plugin", "", "plugin display name used in results")
	f.String("implementation", "", "indexer implementation name reported by the host schema")
	f.String("download-client", "", "download client implementation name, if the plugin ships one")
	f.String("import-list", "", "import list implementation name, if the plugin ships one")
	f.StringToString("field", nil, "plugin field value as name=value (repeatable)")
	f.String("runtime", "", "container runtime: docker, podman, or auto")
	f.String("container", "", "host container name or ID")
	f.String("download-path", "", "in-container directory where grabbed releases land")
	f.Int("log-tail", 0, "container log lines collected for diagnostics (default 200)")
	f.StringSlice("only", nil, "run only the named gates (comma-separated)")
	f.String("artist", "", "artist used by the search gates")
	f.String("album", "", "album used by the search gates")
	f.Duration("poll-interval", 0, "sleep between queue and command polls (default 2s)")
	f.Duration("queue-timeout", 0, "wait for a grabbed release to reach the queue (default 60s)")
	f.Duration("command-timeout", 0, "wait for a host command to complete (default 120s)")
	f.String("size-policy", "", "size order when selecting a release: asc or desc (default desc)")
	f.String("auth-failure-mode", "", "status the AuthFailure gate expects: 401, 403, or 429 (default 401)")
	f.StringSlice("required-field", nil, "plugin field that credentialed gates require (repeatable)")
	f.Bool("cleanup", false, "delete components the run created after the last gate")
	f.String("store", "", "run history database (default .e2e/runs.db)")
	f.String("manifest", "", "manifest output path (default .e2e/manifest.json)")
	addDriftFlags(cmd)
}

// addDriftFlags registers the drift sentinel flags.
func addDriftFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("contracts", "", "provider contracts YAML file")
	f.Bool("strict", false, "fail when drift is detected instead of warning")
	f.Bool("parallel", false, "probe providers concurrently")
}

// bindFlags binds the flags cmd defines to their viper keys. Binding
// happens per command because run and drift share keys.
func bindFlags(cmd *cobra.Command) error {
	for _, c := range configFlags {
		f := cmd.Flags().Lookup(c.flag)
		if f == nil {
			continue
		}
		if err := viper.BindPFlag(c.key, f); err != nil {
			return fmt.Errorf("binding flag %s: %w", c.flag, err)
		}
	}
	return nil
}

// loadConfig resolves the configuration for cmd with precedence flag, env,
// config file, secret file, default. It also reports where each set value
// came from.
func loadConfig(cmd *cobra.Command) (types.Config, map[string]any, error) {
	var cfg types.Config
	if err := bindFlags(cmd); err != nil {
		return cfg, nil, err
	}
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, nil, fmt.Errorf("%s: decoding configuration: %w", errcode.ConfigInvalid, err)
	}

	sources := configSources(cmd)
	if cfg.Host.APIKey == "" {
		if v := secretDefault(secretHostAPIKey, ""); v != "" {
			cfg.Host.APIKey = v
			sources["host.api_key"] = "secrets"
		}
	}
	for field, v := range secrets.WithPrefix(loadedSecrets, secretPluginPrefix) {
		if cfg.Plugin.Fields == nil {
			cfg.Plugin.Fields = map[string]string{}
		}
		if _, set := cfg.Plugin.Fields[field]; !set {
			cfg.Plugin.Fields[field] = v
			sources["plugin.fields."+field] = "secrets"
		}
	}

	if err := validateConfig(cfg); err != nil {
		return cfg, sources, err
	}
	return cfg, sources, nil
}

func validateConfig(cfg types.Config) error {
	switch cfg.Gates.SizePolicy {
	case "", types.SizeAscending, types.SizeDescending:
	default:
		return fmt.Errorf("%s: size policy %q: want asc or desc", errcode.ConfigInvalid, cfg.Gates.SizePolicy)
	}
	switch strings.TrimSpace(cfg.Gates.AuthFailureMode) {
	case "", "401", "403", "429":
	default:
		return fmt.Errorf("%s: auth failure mode %q: want 401, 403, or 429", errcode.ConfigInvalid, cfg.Gates.AuthFailureMode)
	}
	for _, g := range cfg.Gates.Only {
		if !knownGate(g) {
			return fmt.Errorf("%s: unknown gate %q in --only", errcode.ConfigInvalid, g)
		}
	}
	return nil
}

func knownGate(name string) bool {
	for _, g := range types.GateOrder {
		if strings.EqualFold(strings.TrimSpace(name), g) {
			return true
		}
	}
	return false
}

// configSources reports, per viper key, whether the value came from a
// flag, the environment, or the config file. Keys left at their default
// are omitted.
func configSources(cmd *cobra.Command) map[string]any {
	out := map[string]any{}
	env := strings.NewReplacer(".", "_", "-", "_")
	for _, c := range configFlags {
		f := cmd.Flags().Lookup(c.flag)
		switch {
		case f != nil && f.Changed:
			out[c.key] = "flag"
		case envSet(envPrefix + "_" + strings.ToUpper(env.Replace(c.key))):
			out[c.key] = "env"
		case viper.InConfig(c.key):
			out[c.key] = "file"
		}
	}
	if used := viper.ConfigFileUsed(); used != "" {
		out["configFile"] = used
	}
	return out
}

func envSet(name string) bool {
	v, ok := os.LookupEnv(name)
	return ok && v != ""
}
