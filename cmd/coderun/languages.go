package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/isdmx/coderun/config"
	"github.com/isdmx/coderun/sandbox"
)

var languagesCmd = &cobra.Command{
	Use:   "languages",
	Short: "List the supported language identifiers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configFlag)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		registry, err := sandbox.NewRegistryFromConfig(cfg)
		if err != nil {
			return err
		}
		for _, id := range registry.IDs() {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(languagesCmd)
}
