package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/itohio/goecg/pkg/config"
)

var writeDefaults string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if writeDefaults != "" {
			if err := config.Default().Save(writeDefaults); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Default configuration written to %s\n", writeDefaults)
			return nil
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration OK: listener %s, http %s, buffer %d samples\n",
			cfg.Listener.Addr, cfg.HTTP.Addr, cfg.Buffer.Capacity)
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&writeDefaults, "write-defaults", "", "Write the default configuration to this file and exit")
	rootCmd.AddCommand(validateCmd)
}
