//go:build unix

package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/coderun/config"
	"github.com/isdmx/coderun/execution"
	"github.com/isdmx/coderun/httpserver"
	"github.com/isdmx/coderun/logger"
	"github.com/isdmx/coderun/mcpserver"
	"github.com/isdmx/coderun/sandbox"
)

func localConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{HTTPPort: 8000, MCPTransport: "none", ShutdownTimeoutSec: 1},
		Sandbox: config.SandboxConfig{
			Backend:             "local",
			EnableLocalBackend:  true,
			TimeoutSec:          5,
			ProvisionTimeoutSec: 5,
			TeardownTimeoutSec:  5,
			MemoryMB:            64,
			CPUShares:           512,
			PidsLimit:           64,
			MaxOutputKB:         64,
			MaxConcurrent:       2,
			Demux:               "keyword",
		},
		Logging: config.LoggingConfig{Mode: "development", Level: "debug"},
		Metrics: config.MetricsConfig{Enabled: false, Path: "/metrics"},
		Languages: map[string]config.Language{
			"sh": {Image: "host", Command: "sh -c", TimeoutSec: 1},
		},
	}
}

func newLocalService(t *testing.T, cfg *config.Config) (*execution.Service, sandbox.Runtime) {
	t.Helper()
	log := zaptest.NewLogger(t)

	registry, err := sandbox.NewRegistryFromConfig(cfg)
	require.NoError(t, err)

	rt, err := sandbox.NewRuntime(log, cfg)
	require.NoError(t, err)

	exec, err := sandbox.NewExecutorFromConfig(log, cfg, rt, registry, nil)
	require.NoError(t, err)

	return execution.NewService(log, exec, registry, cfg.GetTimeout()), rt
}

// TestIntegrationHTTPLocalBackend drives the HTTP API through the local backend
func TestIntegrationHTTPLocalBackend(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := localConfig()
	svc, _ := newLocalService(t, cfg)
	server := httpserver.New(cfg, zaptest.NewLogger(t), svc)

	post := func(body string) (*httptest.ResponseRecorder, map[string]any) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/execute", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		server.Handler().ServeHTTP(w, req)
		var out map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
		return w, out
	}

	t.Run("Success", func(t *testing.T) {
		w, body := post(`{"language":"sh","code":"echo hello\necho 'Error: boom' >&2"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "hello", body["output"])
		assert.Equal(t, "Error: boom", body["error"])
		assert.InDelta(t, 2, body["linesOfCode"], 0)
	})

	t.Run("ProfileTimeout", func(t *testing.T) {
		started := time.Now()
		w, body := post(`{"language":"sh","code":"sleep 30"}`)
		require.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "Failed to execute code.", body["error"])
		assert.Equal(t, sandbox.OutcomeTimeout, body["code"])
		assert.Less(t, time.Since(started), 10*time.Second)
	})

	t.Run("Unsupported", func(t *testing.T) {
		w, body := post(`{"language":"cobol","code":"DISPLAY 'HI'."}`)
		require.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, sandbox.OutcomeUnsupported, body["code"])
	})

	t.Run("Languages", func(t *testing.T) {
		w := httptest.NewRecorder()
		server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/languages", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"sh"`)
	})
}

// TestIntegrationMCPServer checks that the MCP server builds over the same service
func TestIntegrationMCPServer(t *testing.T) {
	cfg := localConfig()
	svc, _ := newLocalService(t, cfg)

	server := mcpserver.New(cfg, zaptest.NewLogger(t), svc)
	require.NotNil(t, server.GetMCPServer())
	assert.NoError(t, server.Shutdown(context.Background()))
}

// TestIntegrationLoggerFromConfig checks the logger accepts the loaded configuration
func TestIntegrationLoggerFromConfig(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := config.Load("")
	require.NoError(t, err)

	log, err := logger.NewFromConfig(cfg)
	require.NoError(t, err)
	log.Info("integration test started")
	_ = log.Sync()
}

// TestIntegrationRuntimeSelection checks backend selection and gating
func TestIntegrationRuntimeSelection(t *testing.T) {
	log := zaptest.NewLogger(t)

	cfg := localConfig()
	cfg.Sandbox.EnableLocalBackend = false
	_, err := sandbox.NewRuntime(log, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local backend is disabled")

	cfg.Sandbox.Backend = "firecracker"
	_, err = sandbox.NewRuntime(log, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported backend")

	// Creating the client does not contact the daemon.
	cfg.Sandbox.Backend = "docker"
	cfg.Sandbox.DockerHost = "unix:///nonexistent/docker.sock"
	rt, err := sandbox.NewRuntime(log, cfg)
	require.NoError(t, err)
	_, ok := rt.(sandbox.Pinger)
	assert.True(t, ok)
}
