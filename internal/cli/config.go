package cli

import (
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration autocoder would use, after the config file and
environment overrides are applied. The API key is never printed.

The output is valid TOML and can be saved as autocoder.toml.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return cfg.Encode(cmd.OutOrStdout())
	},
}
