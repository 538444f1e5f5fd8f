package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var showConfigCmd = &cobra.Command{
	Use:   "show-config",
	Short: "Print the effective configuration",
	Long: `Show-config prints the configuration after defaults, environment
substitution and CLI overrides are applied. The password is masked.

Example:
  pprload show-config --config pprload.yaml --batch-insert-size 5000`,
	RunE: runShowConfig,
}

func init() {
	rootCmd.AddCommand(showConfigCmd)
}

func runShowConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(cfg.Masked())
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	cmd.Print(string(out))
	return nil
}
