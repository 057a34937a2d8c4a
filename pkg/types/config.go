package types

import "time"

// HTTPConfig holds shared HTTP settings used by components that make network requests.
type HTTPConfig struct {
	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "plugin-e2e/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`

	// MaxRetries bounds retries on 429/5xx before a request is reported
	// inconclusive or failed (default 5).
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
}

// HostConfig identifies the host application under test.
type HostConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// URL is the base URL of the host, e.g. "http://localhost:8686".
	URL string `json:"url" yaml:"url" mapstructure:"url"`

	// APIKey is sent as X-Api-Key on every call. It never appears in output.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`
}

// PluginKind is the host component family the plugin provides.
type PluginKind string

const (
	KindIndexer        PluginKind = "indexer"
	KindDownloadClient PluginKind = "downloadclient"
	KindImportList     PluginKind = "importlist"
)

// PluginConfig names the plugin under test.
type PluginConfig struct {
	// Name is the display name used in results (e.g. "Tidalarr").
	Name string `json:"name" yaml:"name" mapstructure:"name"`

	// Implementation is the schema implementation name the host reports
	// for the plugin's indexer (matched case-insensitively).
	Implementation string `json:"implementation" yaml:"implementation" mapstructure:"implementation"`

	// DownloadClientImplementation is the plugin's download client
	// implementation, when it ships one.
	DownloadClientImplementation string `json:"download_client_implementation,omitempty" yaml:"download_client_implementation,omitempty" mapstructure:"download_client_implementation"`

	// ImportListImplementation is the plugin's import list implementation,
	// when it ships one.
	ImportListImplementation string `json:"import_list_implementation,omitempty" yaml:"import_list_implementation,omitempty" mapstructure:"import_list_implementation"`

	// Fields holds plugin configuration values applied to created
	// components, keyed by schema field name. Credentials live here too.
	Fields map[string]string `json:"fields,omitempty" yaml:"fields,omitempty" mapstructure:"fields"`
}

// ContainerConfig holds settings for the container runtime.
type ContainerConfig struct {
	// Runtime forces "docker" or "podman". Empty means detect.
	Runtime string `json:"runtime,omitempty" yaml:"runtime,omitempty" mapstructure:"runtime"`

	// Name is the host container name or ID.
	Name string `json:"name" yaml:"name" mapstructure:"name"`

	// DiagnosticTimeout bounds ps/inspect/exec calls (default 5s).
	DiagnosticTimeout time.Duration `json:"diagnostic_timeout" yaml:"diagnostic_timeout" mapstructure:"diagnostic_timeout"`

	// LogTimeout bounds log tailing (default 30s).
	LogTimeout time.Duration `json:"log_timeout" yaml:"log_timeout" mapstructure:"log_timeout"`

	// RestartTimeout bounds a container restart (default 120s).
	RestartTimeout time.Duration `json:"restart_timeout" yaml:"restart_timeout" mapstructure:"restart_timeout"`

	// LogTail is the number of log lines collected for diagnostics (default 200).
	LogTail int `json:"log_tail" yaml:"log_tail" mapstructure:"log_tail"`

	// DownloadPath is the in-container directory where grabbed releases land.
	DownloadPath string `json:"download_path" yaml:"download_path" mapstructure:"download_path"`
}

// SizePolicy orders candidates by size when titles and guids tie.
type SizePolicy string

const (
	SizeAscending  SizePolicy = "asc"
	SizeDescending SizePolicy = "desc"
)

// GatesConfig holds settings for the gate controller.
type GatesConfig struct {
	// Only restricts the run to the named gates. Empty runs all gates.
	Only []string `json:"only,omitempty" yaml:"only,omitempty" mapstructure:"only"`

	// Artist and Album drive the search gates.
	Artist string `json:"artist" yaml:"artist" mapstructure:"artist"`
	Album  string `json:"album" yaml:"album" mapstructure:"album"`

	// PollInterval is the sleep between queue/command polls (default 2s).
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval" mapstructure:"poll_interval"`

	// QueueTimeout bounds waiting for a grabbed release to appear (default 60s).
	QueueTimeout time.Duration `json:"queue_timeout" yaml:"queue_timeout" mapstructure:"queue_timeout"`

	// CommandTimeout bounds waiting for a host command to complete (default 120s).
	CommandTimeout time.Duration `json:"command_timeout" yaml:"command_timeout" mapstructure:"command_timeout"`

	// SizePolicy decides size ordering during release selection (default desc).
	SizePolicy SizePolicy `json:"size_policy" yaml:"size_policy" mapstructure:"size_policy"`

	// AuthFailureMode is the expected failure status: "401", "403", or "429".
	AuthFailureMode string `json:"auth_failure_mode" yaml:"auth_failure_mode" mapstructure:"auth_failure_mode"`

	// RequiredFields must all be set in plugin fields for credentialed gates.
	RequiredFields []string `json:"required_fields,omitempty" yaml:"required_fields,omitempty" mapstructure:"required_fields"`

	// Cleanup deletes the components the run created once every gate has
	// finished. Reused components are left alone.
	Cleanup bool `json:"cleanup" yaml:"cleanup" mapstructure:"cleanup"`

	// AlternativeFields lists field groups of which at least one group must
	// be fully set (e.g. [["username","password"],["refreshToken"]]).
	AlternativeFields [][]string `json:"alternative_fields,omitempty" yaml:"alternative_fields,omitempty" mapstructure:"alternative_fields"`
}

// DriftConfig holds settings for the drift sentinel.
type DriftConfig struct {
	// ContractsFile is the YAML file of provider contracts.
	ContractsFile string `json:"contracts_file" yaml:"contracts_file" mapstructure:"contracts_file"`

	// Strict makes detected drift fail the run instead of warning.
	Strict bool `json:"strict" yaml:"strict" mapstructure:"strict"`

	// Parallel probes providers concurrently.
	Parallel bool `json:"parallel" yaml:"parallel" mapstructure:"parallel"`
}

// Config groups all settings for one run.
type Config struct {
	Host      HostConfig      `json:"host" yaml:"host" mapstructure:"host"`
	Plugin    PluginConfig    `json:"plugin" yaml:"plugin" mapstructure:"plugin"`
	Container ContainerConfig `json:"container" yaml:"container" mapstructure:"container"`
	Gates     GatesConfig     `json:"gates" yaml:"gates" mapstructure:"gates"`
	Drift     DriftConfig     `json:"drift" yaml:"drift" mapstructure:"drift"`

	// StorePath is the SQLite run history file (default ".e2e/runs.db").
	StorePath string `json:"store_path" yaml:"store_path" mapstructure:"store_path"`

	// ManifestPath is where the run manifest is written (default ".e2e/manifest.json").
	ManifestPath string `json:"manifest_path" yaml:"manifest_path" mapstructure:"manifest_path"`
}
