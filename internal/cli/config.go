package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yubzen/phonepilot/internal/config"
)

func NewConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), config.GetConfigPath())
		},
	}

	var plain bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if plain {
				return cfg.Encode(cmd.OutOrStdout())
			}
			return config.RunConfigForm(cfg, config.GetConfigPath())
		},
	}
	showCmd.Flags().BoolVar(&plain, "plain", false, "Print TOML instead of the interactive view")

	configCmd.AddCommand(pathCmd, showCmd)
	return configCmd
}
