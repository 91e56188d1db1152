package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/minutes/config"
)

// NewConfigCommand creates the config command.
func NewConfigCommand(deps *CommandDeps) *cobra.Command {
	deps = deps.orDefault()

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show configuration",
		Long: `Show the effective configuration.

Values come from the defaults, then the config file ($MINUTES_CONFIG or
~/.minutes/config.yaml), then MINUTES_* environment variables, then flags.
Secrets are masked.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			return cfg.Write(cmd.OutOrStdout())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := config.Path()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)
			return nil
		},
	})

	return cmd
}
