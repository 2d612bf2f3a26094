package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "coderun",
	Short: "coderun - one-shot sandboxed code execution",
	Long: `coderun runs untrusted source code once inside an isolated,
network-disabled container and reports what it printed.

It serves a JSON API under /api and, optionally, the same operations as
Model Context Protocol tools.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to the configuration file (default ./config.yaml or ./config/config.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
