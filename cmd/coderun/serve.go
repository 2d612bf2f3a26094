package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/coderun/config"
	"github.com/isdmx/coderun/execution"
	"github.com/isdmx/coderun/httpserver"
	"github.com/isdmx/coderun/logger"
	"github.com/isdmx/coderun/mcpserver"
	"github.com/isdmx/coderun/sandbox"
)

var portFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the coderun HTTP API",
	Long: `Start the coderun HTTP API under /api and, when server.mcp_transport is
stdio or http, the MCP tool server.

Examples:
  coderun serve
  coderun serve --port 9090
  coderun serve --config /etc/coderun/config.yaml`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides server.http_port)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if portFlag > 0 {
		cfg.Server.HTTPPort = portFlag
	}

	app := fx.New(appOptions(cfg)...)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

func appOptions(cfg *config.Config) []fx.Option {
	return []fx.Option{
		fx.Supply(cfg),
		fx.Provide(
			// Logger with configuration
			logger.NewFromConfig,

			// Language profiles, built-ins plus overrides
			sandbox.NewRegistryFromConfig,

			// Container runtime selected by sandbox.backend
			newRuntime,
			newObserver,
			newExecutor,
			newService,

			// Transports
			newHTTPServer,
			newMCPServer,
		),
		fx.Invoke(func(*httpserver.Server, *mcpserver.MCPServer, *execution.Service) {}),
		fx.StopTimeout(cfg.GetShutdownTimeout()),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	}
}
