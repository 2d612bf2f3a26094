package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/go-units"
	"go.uber.org/zap"

	"github.com/isdmx/coderun/config"
)

// NewRegistryFromConfig merges the language overrides in cfg into the built-in profiles.
func NewRegistryFromConfig(cfg *config.Config) (*Registry, error) {
	defs, err := BuiltinDefinitions()
	if err != nil {
		return nil, err
	}

	overrides := make(map[string]Definition, len(cfg.Languages))
	for id, lang := range cfg.Languages {
		overrides[id] = Definition{
			Image:      lang.Image,
			Command:    lang.Command,
			Source:     lang.Source,
			Build:      lang.Build,
			Run:        lang.Run,
			TimeoutSec: lang.TimeoutSec,
		}
	}

	registry, err := NewRegistry(MergeDefinitions(defs, overrides))
	if err != nil {
		return nil, fmt.Errorf("invalid language configuration: %w", err)
	}
	return registry, nil
}

// NewRuntime creates the container runtime selected by sandbox.backend
func NewRuntime(logger *zap.Logger, cfg *config.Config) (Runtime, error) {
	switch cfg.Sandbox.Backend {
	case "docker":
		return NewDockerRuntime(logger, cfg.Sandbox.DockerHost,
			WithImagePull(cfg.Sandbox.PullImages),
			WithStopTimeout(cfg.Sandbox.StopTimeoutSec))
	case "podman":
		host := cfg.Sandbox.DockerHost
		if host == "" {
			host = podmanSocket()
		}
		return NewDockerRuntime(logger, host,
			WithImagePull(cfg.Sandbox.PullImages),
			WithStopTimeout(cfg.Sandbox.StopTimeoutSec))
	case "local":
		if !cfg.Sandbox.EnableLocalBackend {
			return nil, fmt.Errorf("local backend is disabled")
		}
		return NewLocalRuntime(logger), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Sandbox.Backend)
	}
}

// NewExecutorFromConfig creates an Executor with the limits and timeouts in cfg.
func NewExecutorFromConfig(logger *zap.Logger, cfg *config.Config, runtime Runtime, registry *Registry, observer Observer) (*Executor, error) {
	limits := ResourceLimits{
		MemoryBytes: int64(cfg.Sandbox.MemoryMB) * units.MiB,
		CPUShares:   int64(cfg.Sandbox.CPUShares),
		PidsLimit:   int64(cfg.Sandbox.PidsLimit),
	}

	if cfg.Sandbox.SeccompProfile != "" {
		profile, err := os.ReadFile(cfg.Sandbox.SeccompProfile)
		if err != nil {
			return nil, fmt.Errorf("failed to read seccomp profile: %w", err)
		}
		limits.SeccompProfile = string(profile)
	}

	logger.Info("sandbox executor configured",
		zap.String("sandbox.backend", cfg.Sandbox.Backend),
		zap.Int("sandbox.timeout_sec", cfg.Sandbox.TimeoutSec),
		zap.String("sandbox.memory", units.BytesSize(float64(limits.MemoryBytes))),
		zap.Int64("sandbox.cpu_shares", limits.CPUShares),
		zap.Int64("sandbox.pids_limit", limits.PidsLimit),
		zap.Int("sandbox.max_concurrent", cfg.Sandbox.MaxConcurrent),
		zap.String("sandbox.demux", cfg.Sandbox.Demux),
		zap.Strings("languages", registry.IDs()))

	return NewExecutor(logger, runtime, registry,
		WithLimits(limits),
		WithTimeout(cfg.GetTimeout()),
		WithProvisionTimeout(time.Duration(cfg.Sandbox.ProvisionTimeoutSec)*time.Second),
		WithTeardownTimeout(time.Duration(cfg.Sandbox.TeardownTimeoutSec)*time.Second),
		WithMaxOutputBytes(cfg.Sandbox.MaxOutputKB*units.KiB),
		WithMaxConcurrent(cfg.Sandbox.MaxConcurrent),
		WithDemux(DemuxMode(cfg.Sandbox.Demux)),
		WithObserver(observer),
	), nil
}

func podmanSocket() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return "unix://" + filepath.Join(dir, "podman", "podman.sock")
	}
	return "unix:///run/podman/podman.sock"
}
