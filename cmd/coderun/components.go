package main

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/isdmx/coderun/config"
	"github.com/isdmx/coderun/execution"
	"github.com/isdmx/coderun/httpserver"
	"github.com/isdmx/coderun/mcpserver"
	"github.com/isdmx/coderun/metrics"
	"github.com/isdmx/coderun/sandbox"
)

func newRuntime(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (sandbox.Runtime, error) {
	rt, err := sandbox.NewRuntime(logger, cfg)
	if err != nil {
		return nil, err
	}
	if closer, ok := rt.(io.Closer); ok {
		lc.Append(fx.StopHook(closer.Close))
	}
	return rt, nil
}

func newObserver(cfg *config.Config) (sandbox.Observer, error) {
	if !cfg.Metrics.Enabled {
		return nil, nil
	}
	recorder, err := metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, err
	}
	return recorder, nil
}

func newExecutor(logger *zap.Logger, cfg *config.Config, rt sandbox.Runtime, registry *sandbox.Registry, observer sandbox.Observer) (sandbox.SandboxExecutor, error) {
	return sandbox.NewExecutorFromConfig(logger, cfg, rt, registry, observer)
}

func newService(logger *zap.Logger, cfg *config.Config, executor sandbox.SandboxExecutor, registry *sandbox.Registry) *execution.Service {
	return execution.NewService(logger, executor, registry, cfg.GetTimeout())
}

func newHTTPServer(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger, service *execution.Service, rt sandbox.Runtime) *httpserver.Server {
	var opts []httpserver.Option
	if p, ok := rt.(sandbox.Pinger); ok {
		opts = append(opts, httpserver.WithPinger(p))
	}
	s := httpserver.New(cfg, logger, service, opts...)
	lc.Append(fx.Hook{
		OnStart: s.Start,
		OnStop:  s.Shutdown,
	})
	return s
}

func newMCPServer(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg *config.Config, logger *zap.Logger, service *execution.Service) *mcpserver.MCPServer {
	s := mcpserver.New(cfg, logger, service)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			switch cfg.Server.MCPTransport {
			case "stdio":
				go func() {
					if err := s.ServeStdio(); err != nil {
						logger.Error("MCP stdio server stopped", zap.Error(err))
					}
					// The client closed stdin; nothing is left to serve.
					_ = shutdowner.Shutdown()
				}()
			case "http":
				go func() {
					if err := s.ServeHTTP(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("MCP HTTP server stopped", zap.Error(err))
					}
				}()
			}
			return nil
		},
		OnStop: s.Shutdown,
	})
	return s
}
