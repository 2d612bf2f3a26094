package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/coderun/config"
)

func factoryConfig() *config.Config {
	return &config.Config{
		Sandbox: config.SandboxConfig{
			Backend:            "local",
			EnableLocalBackend: true,
			TimeoutSec:         7,
			MemoryMB:           128,
			CPUShares:          256,
			PidsLimit:          32,
			MaxOutputKB:        8,
			MaxConcurrent:      3,
			Demux:              "stream",
		},
	}
}

func TestNewRegistryFromConfig(t *testing.T) {
	cfg := factoryConfig()
	cfg.Languages = map[string]config.Language{
		"python": {Image: "python:3.12-slim"},
		"lua":    {Image: "nickblah/lua:5.4", Command: "lua -e", TimeoutSec: 3},
	}

	registry, err := NewRegistryFromConfig(cfg)
	require.NoError(t, err)
	assert.Contains(t, registry.IDs(), "lua")

	p, err := registry.Resolve("python")
	require.NoError(t, err)
	assert.Equal(t, "python:3.12-slim", p.Image)

	t.Run("Invalid", func(t *testing.T) {
		cfg := factoryConfig()
		cfg.Languages = map[string]config.Language{"lua": {Command: "lua -e"}}
		_, err := NewRegistryFromConfig(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid language configuration")
	})
}

func TestNewExecutorFromConfig(t *testing.T) {
	cfg := factoryConfig()
	registry, err := DefaultRegistry()
	require.NoError(t, err)
	logger := zaptest.NewLogger(t)

	exec, err := NewExecutorFromConfig(logger, cfg, newStubRuntime(""), registry, nil)
	require.NoError(t, err)

	assert.Equal(t, ResourceLimits{MemoryBytes: 128 << 20, CPUShares: 256, PidsLimit: 32}, exec.limits)
	assert.Equal(t, int64(7), int64(exec.timeout.Seconds()))
	assert.Equal(t, 8<<10, exec.maxOutputBytes)
	assert.Equal(t, DemuxStream, exec.demux)
	assert.NotNil(t, exec.slots)
	assert.Same(t, registry, exec.Registry())

	t.Run("SeccompProfile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "seccomp.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"defaultAction":"SCMP_ACT_ERRNO"}`), 0o600))

		cfg := factoryConfig()
		cfg.Sandbox.SeccompProfile = path
		exec, err := NewExecutorFromConfig(logger, cfg, newStubRuntime(""), registry, nil)
		require.NoError(t, err)
		assert.Equal(t, `{"defaultAction":"SCMP_ACT_ERRNO"}`, exec.limits.SeccompProfile)
	})

	t.Run("MissingSeccompProfile", func(t *testing.T) {
		cfg := factoryConfig()
		cfg.Sandbox.SeccompProfile = filepath.Join(t.TempDir(), "missing.json")
		_, err := NewExecutorFromConfig(logger, cfg, newStubRuntime(""), registry, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read seccomp profile")
	})
}

func TestNewRuntime(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("Local", func(t *testing.T) {
		rt, err := NewRuntime(logger, factoryConfig())
		require.NoError(t, err)
		assert.IsType(t, &LocalRuntime{}, rt)
	})

	t.Run("LocalDisabled", func(t *testing.T) {
		cfg := factoryConfig()
		cfg.Sandbox.EnableLocalBackend = false
		_, err := NewRuntime(logger, cfg)
		assert.Error(t, err)
	})

	t.Run("Podman", func(t *testing.T) {
		cfg := factoryConfig()
		cfg.Sandbox.Backend = "podman"
		rt, err := NewRuntime(logger, cfg)
		require.NoError(t, err)
		assert.IsType(t, &DockerRuntime{}, rt)
	})
}

func TestPodmanSocket(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	assert.Equal(t, "unix:///run/user/1000/podman/podman.sock", podmanSocket())

	t.Setenv("XDG_RUNTIME_DIR", "")
	assert.Equal(t, "unix:///run/podman/podman.sock", podmanSocket())
}
