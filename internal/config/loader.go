package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from the specified file path.
// It supports YAML files and performs environment variable substitution.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return LoadFromViper(v)
}

// LoadFromViper creates a Config from an existing Viper instance.
// Useful for testing or when Viper is configured externally.
func LoadFromViper(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	substituteEnvVars(cfg)

	if cfg.Store.Driver == DriverPostgres && !v.IsSet("store.port") {
		cfg.Store.Port = 5432
	}

	return cfg, nil
}

// envVarPattern matches ${VAR_NAME} or $VAR_NAME patterns
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable values.
// Source URLs are left alone: the register URL contains a literal "$FILE".
func substituteEnvVars(cfg *Config) {
	cfg.Store.Host = expandEnvVar(cfg.Store.Host)
	cfg.Store.User = expandEnvVar(cfg.Store.User)
	cfg.Store.Password = expandEnvVar(cfg.Store.Password)
	cfg.Store.Database = expandEnvVar(cfg.Store.Database)

	cfg.Source.DataDir = expandEnvVar(cfg.Source.DataDir)
	cfg.Metrics.Textfile = expandEnvVar(cfg.Metrics.Textfile)
	cfg.Logging.Output = expandEnvVar(cfg.Logging.Output)
}

// expandEnvVar expands environment variables in the format ${VAR} or $VAR.
func expandEnvVar(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Return original if env var not found
		return match
	})
}

// Overrides contains CLI flag values that take precedence over the config file.
// Zero values leave the file setting untouched.
type Overrides struct {
	LogLevel        string
	LogFormat       string
	BatchInsertSize int
	BatchDeleteSize int
	RowLimit        int
	OnError         string
	SkipVerify      bool
}

// ApplyOverrides applies CLI flag overrides to the configuration.
// Only non-zero/non-empty values are applied.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.LogLevel != "" {
		c.Logging.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		c.Logging.Format = o.LogFormat
	}
	if o.BatchInsertSize > 0 {
		c.Reconcile.BatchInsertSize = o.BatchInsertSize
	}
	if o.BatchDeleteSize > 0 {
		c.Reconcile.BatchDeleteSize = o.BatchDeleteSize
	}
	if o.RowLimit > 0 {
		c.Source.RowLimit = o.RowLimit
	}
	if o.OnError != "" {
		c.Normalize.OnError = o.OnError
	}
	if o.SkipVerify {
		c.Reconcile.Verify = "skip"
	}
}

// Masked returns a copy of the configuration with secrets blanked out,
// suitable for printing.
func (c *Config) Masked() *Config {
	out := *c
	if out.Store.Password != "" {
		out.Store.Password = "********"
	}
	return &out
}
