package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/isdmx/coderun/config"
	"github.com/isdmx/coderun/execution"
	"github.com/isdmx/coderun/logger"
	"github.com/isdmx/coderun/sandbox"
)

var languageFlag string

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Execute one program and print its execution record",
	Long: `Execute one program in a fresh sandbox and print the execution record as
JSON. The source is read from the file argument, or from stdin when the
argument is "-" or missing.

Examples:
  coderun run --language python hello.py
  echo 'puts 1 + 2' | coderun run --language ruby`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&languageFlag, "language", "l", "", "Language identifier (see coderun languages)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	code, err := readSource(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configFlag)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log, err := logger.NewFromConfig(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	registry, err := sandbox.NewRegistryFromConfig(cfg)
	if err != nil {
		return err
	}
	rt, err := sandbox.NewRuntime(log, cfg)
	if err != nil {
		return err
	}
	if closer, ok := rt.(io.Closer); ok {
		defer closer.Close()
	}

	executor, err := sandbox.NewExecutorFromConfig(log, cfg, rt, registry, nil)
	if err != nil {
		return err
	}

	svc := execution.NewService(log, executor, registry, cfg.GetTimeout())
	record, err := svc.Run(cmd.Context(), languageFlag, code)
	if err != nil {
		var failure *execution.Failure
		if errors.As(err, &failure) {
			return fmt.Errorf("%s %s", failure.Error(), failure.Details())
		}
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(record)
}

func readSource(stdin io.Reader, args []string) (string, error) {
	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return "", fmt.Errorf("reading source: %w", err)
	}
	return string(data), nil
}
