package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dbsmedya/pprload/internal/config"
)

func TestGetConfigFile(t *testing.T) {
	originalCfgFile := cfgFile
	defer func() {
		cfgFile = originalCfgFile
	}()

	tests := []struct {
		name     string
		cfgValue string
		want     string
	}{
		{
			name:     "empty config file",
			cfgValue: "",
			want:     "",
		},
		{
			name:     "custom config file",
			cfgValue: "/etc/pprload/prod.yaml",
			want:     "/etc/pprload/prod.yaml",
		},
		{
			name:     "config file with spaces",
			cfgValue: "/path/to/my config.yaml",
			want:     "/path/to/my config.yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgFile = tt.cfgValue
			assert.Equal(t, tt.want, GetConfigFile())
		})
	}
}

func TestGetCLIOverrides(t *testing.T) {
	defer resetFlags()

	logLevel = "debug"
	logFormat = "text"
	batchInsertSize = 5000
	batchDeleteSize = 250
	rowLimit = 100
	onError = "abort"
	skipVerify = true

	assert.Equal(t, config.Overrides{
		LogLevel:        "debug",
		LogFormat:       "text",
		BatchInsertSize: 5000,
		BatchDeleteSize: 250,
		RowLimit:        100,
		OnError:         "abort",
		SkipVerify:      true,
	}, GetCLIOverrides())
}

func TestGetCLIOverrides_Empty(t *testing.T) {
	resetFlags()
	assert.Equal(t, config.Overrides{}, GetCLIOverrides())
}

func TestPersistentFlagDefaults(t *testing.T) {
	flags := rootCmd.PersistentFlags()

	tests := []struct {
		name string
		want string
	}{
		{"config", "pprload.yaml"},
		{"log-level", ""},
		{"log-format", ""},
		{"batch-insert-size", "0"},
		{"batch-delete-size", "0"},
		{"row-limit", "0"},
		{"on-error", ""},
		{"skip-verify", "false"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := flags.Lookup(tt.name)
			if assert.NotNil(t, f) {
				assert.Equal(t, tt.want, f.DefValue)
			}
		})
	}

	assert.Equal(t, "c", flags.Lookup("config").Shorthand)
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{
		"run", "extract", "transform", "load", "plan",
		"init-db", "validate", "show-config", "runs", "version",
	}

	registered := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		registered[c.Name()] = true
		assert.NotEmpty(t, c.Short, "command %s", c.Name())
	}
	for _, name := range want {
		assert.True(t, registered[name], "command %s should be added to root command", name)
	}
}
