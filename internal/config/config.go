// Package config provides configuration structures and loading for pprload.
package config

// Supported store drivers.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Malformed record policies.
const (
	OnErrorSkip  = "skip"
	OnErrorAbort = "abort"
)

// Duplicate natural key policies.
const (
	DuplicateDisambiguate = "disambiguate"
	DuplicateCollapse     = "collapse"
)

// DefaultSourceURL is the published location of the full register archive.
const DefaultSourceURL = "https://www.propertypriceregister.ie/website/npsra/ppr/npsra-ppr.nsf/Downloads/PPR-ALL.zip/$FILE/PPR-ALL.zip"

// Config represents the complete application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Source    SourceConfig    `yaml:"source" mapstructure:"source"`
	Normalize NormalizeConfig `yaml:"normalize" mapstructure:"normalize"`
	Reconcile ReconcileConfig `yaml:"reconcile" mapstructure:"reconcile"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
}

// StoreConfig represents the relational store holding the staging and clean tables.
type StoreConfig struct {
	Driver             string `yaml:"driver" mapstructure:"driver"` // mysql, postgres, sqlite3
	Host               string `yaml:"host" mapstructure:"host"`
	Port               int    `yaml:"port" mapstructure:"port"`
	User               string `yaml:"user" mapstructure:"user"`
	Password           string `yaml:"password" mapstructure:"password"`
	Database           string `yaml:"database" mapstructure:"database"` // file path for sqlite3
	TLS                string `yaml:"tls" mapstructure:"tls"`           // disable, preferred, required
	MaxConnections     int    `yaml:"max_connections" mapstructure:"max_connections"`
	MaxIdleConnections int    `yaml:"max_idle_connections" mapstructure:"max_idle_connections"`
	StagingTable       string `yaml:"staging_table" mapstructure:"staging_table"`
	CleanTable         string `yaml:"clean_table" mapstructure:"clean_table"`
	RunTable           string `yaml:"run_table" mapstructure:"run_table"`
}

// SourceConfig describes where the register archive comes from and where it is cached.
type SourceConfig struct {
	URL            string `yaml:"url" mapstructure:"url"`
	IndexURL       string `yaml:"index_url" mapstructure:"index_url"` // page to scrape the archive link from
	DataDir        string `yaml:"data_dir" mapstructure:"data_dir"`
	RowLimit       int    `yaml:"row_limit" mapstructure:"row_limit"` // 0 means no limit
	TimeoutSeconds int    `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
	InsecureTLS    bool   `yaml:"insecure_tls" mapstructure:"insecure_tls"`
}

// NormalizeConfig controls handling of records that fail normalization.
type NormalizeConfig struct {
	OnError string `yaml:"on_error" mapstructure:"on_error"` // skip or abort
}

// ReconcileConfig represents batch and safety settings for the load step.
type ReconcileConfig struct {
	BatchInsertSize    int    `yaml:"batch_insert_size" mapstructure:"batch_insert_size"`
	BatchDeleteSize    int    `yaml:"batch_delete_size" mapstructure:"batch_delete_size"`
	DuplicateKeys      string `yaml:"duplicate_keys" mapstructure:"duplicate_keys"` // disambiguate or collapse
	Verify             string `yaml:"verify" mapstructure:"verify"`                 // count, sha256 or skip
	Lock               bool   `yaml:"lock" mapstructure:"lock"`
	LockTimeoutSeconds int    `yaml:"lock_timeout_seconds" mapstructure:"lock_timeout_seconds"`
}

// MetricsConfig represents run metrics export settings.
type MetricsConfig struct {
	Textfile string `yaml:"textfile" mapstructure:"textfile"` // node_exporter textfile path, empty disables
}

// LoggingConfig represents logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // json or text
	Output string `yaml:"output" mapstructure:"output"` // stderr, stdout, or file path
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Driver:             DriverMySQL,
			Port:               3306,
			TLS:                "preferred",
			MaxConnections:     10,
			MaxIdleConnections: 5,
			StagingTable:       "ppr_raw_all",
			CleanTable:         "ppr_clean_all",
			RunTable:           "pprload_run",
		},
		Source: SourceConfig{
			URL:            DefaultSourceURL,
			DataDir:        "data",
			RowLimit:       0,
			TimeoutSeconds: 300,
		},
		Normalize: NormalizeConfig{
			OnError: OnErrorSkip,
		},
		Reconcile: ReconcileConfig{
			BatchInsertSize:    1000,
			BatchDeleteSize:    500,
			DuplicateKeys:      DuplicateDisambiguate,
			Verify:             "count",
			Lock:               true,
			LockTimeoutSeconds: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
	}
}
