package sandbox

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-units"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"
)

// dockerAPI is the part of the Docker client the runtime uses.
type dockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImageInspect(ctx context.Context, imageID string, opts ...client.ImageInspectOption) (image.InspectResponse, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// DockerRuntime implements Runtime against a Docker Engine API endpoint.
// Podman's Docker-compatible socket works through the same client.
type DockerRuntime struct {
	logger      *zap.Logger
	client      dockerAPI
	pullImages  bool
	stopTimeout int
}

// DockerRuntimeOption defines a functional option for DockerRuntime
type DockerRuntimeOption func(*DockerRuntime)

// WithImagePull makes Create pull images that are missing locally.
func WithImagePull(enabled bool) DockerRuntimeOption {
	return func(d *DockerRuntime) {
		d.pullImages = enabled
	}
}

// WithStopTimeout sets the grace period in seconds before Stop kills the container.
func WithStopTimeout(seconds int) DockerRuntimeOption {
	return func(d *DockerRuntime) {
		if seconds >= 0 {
			d.stopTimeout = seconds
		}
	}
}

// withDockerClient replaces the API client; used by tests.
func withDockerClient(api dockerAPI) DockerRuntimeOption {
	return func(d *DockerRuntime) {
		d.client = api
	}
}

// NewDockerRuntime connects to the engine at host, or to the environment's
// DOCKER_HOST when host is empty.
func NewDockerRuntime(logger *zap.Logger, host string, opts ...DockerRuntimeOption) (*DockerRuntime, error) {
	d := &DockerRuntime{
		logger:      logger,
		pullImages:  true,
		stopTimeout: 1,
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.client == nil {
		clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
		if host != "" {
			clientOpts = append(clientOpts, client.WithHost(host))
		}
		cli, err := client.NewClientWithOpts(clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Docker client: %w", err)
		}
		d.client = cli
	}

	return d, nil
}

// Ping checks that the engine is reachable.
func (d *DockerRuntime) Ping(ctx context.Context) error {
	if _, err := d.client.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon not accessible: %w", err)
	}
	return nil
}

// Close releases the client connection.
func (d *DockerRuntime) Close() error {
	return d.client.Close()
}

// Create provisions a stopped container for spec.
func (d *DockerRuntime) Create(ctx context.Context, spec EnvironmentSpec) (Handle, error) {
	if d.pullImages {
		if err := d.ensureImage(ctx, spec.Image); err != nil {
			return "", fmt.Errorf("failed to ensure image %s: %w", spec.Image, err)
		}
	}

	containerConfig, hostConfig := buildContainerConfig(spec)

	resp, err := d.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	for _, w := range resp.Warnings {
		d.logger.Warn("docker create warning", zap.String("container", resp.ID), zap.String("warning", w))
	}

	d.logger.Debug("container created",
		zap.String("container", resp.ID),
		zap.String("image", spec.Image),
		zap.String("memory", units.BytesSize(float64(spec.Limits.MemoryBytes))))

	return Handle(resp.ID), nil
}

// Start starts the container.
func (d *DockerRuntime) Start(ctx context.Context, h Handle) error {
	if err := d.client.ContainerStart(ctx, string(h), container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	return nil
}

// Logs follows the container output with stdout and stderr merged in arrival order.
func (d *DockerRuntime) Logs(ctx context.Context, h Handle) (io.ReadCloser, error) {
	raw, err := d.followLogs(ctx, h)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	go func() {
		_, copyErr := stdcopy.StdCopy(pw, pw, raw)
		raw.Close()
		pw.CloseWithError(copyErr)
	}()

	return &mergedLogs{PipeReader: pr, raw: raw}, nil
}

// ChannelLogs follows the container output keeping stdout and stderr apart.
func (d *DockerRuntime) ChannelLogs(ctx context.Context, h Handle, stdout, stderr io.Writer) error {
	raw, err := d.followLogs(ctx, h)
	if err != nil {
		return err
	}
	defer raw.Close()

	stop := context.AfterFunc(ctx, func() { raw.Close() })
	defer stop()

	if _, err := stdcopy.StdCopy(stdout, stderr, raw); err != nil {
		return fmt.Errorf("failed to demultiplex container logs: %w", err)
	}
	return nil
}

// Inspect reports whether the container is still running.
func (d *DockerRuntime) Inspect(ctx context.Context, h Handle) (EnvironmentState, error) {
	info, err := d.client.ContainerInspect(ctx, string(h))
	if err != nil {
		return EnvironmentState{}, fmt.Errorf("failed to inspect container: %w", err)
	}
	if info.ContainerJSONBase == nil || info.State == nil {
		return EnvironmentState{}, nil
	}
	return EnvironmentState{Running: info.State.Running}, nil
}

// Stop stops the container, killing it after the configured grace period.
func (d *DockerRuntime) Stop(ctx context.Context, h Handle) error {
	timeout := d.stopTimeout
	if err := d.client.ContainerStop(ctx, string(h), container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	return nil
}

// Remove deletes the container and its anonymous volumes.
func (d *DockerRuntime) Remove(ctx context.Context, h Handle, force bool) error {
	err := d.client.ContainerRemove(ctx, string(h), container.RemoveOptions{
		Force:         force,
		RemoveVolumes: true,
	})
	if err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

func (d *DockerRuntime) followLogs(ctx context.Context, h Handle) (io.ReadCloser, error) {
	raw, err := d.client.ContainerLogs(ctx, string(h), container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to container logs: %w", err)
	}
	return raw, nil
}

// ensureImage checks if the image exists locally, and pulls it if not.
func (d *DockerRuntime) ensureImage(ctx context.Context, ref string) error {
	if _, err := d.client.ImageInspect(ctx, ref); err == nil {
		return nil
	}

	d.logger.Info("pulling image", zap.String("image", ref))
	reader, err := d.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	// The pull only completes once its progress stream is drained.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	return nil
}

// buildContainerConfig applies the fixed hardening to every container.
func buildContainerConfig(spec EnvironmentSpec) (*container.Config, *container.HostConfig) {
	containerConfig := &container.Config{
		Image:           spec.Image,
		Cmd:             spec.Command,
		WorkingDir:      spec.WorkingDir,
		Labels:          spec.Labels,
		AttachStdout:    true,
		AttachStderr:    true,
		Tty:             false,
		NetworkDisabled: true,
	}

	securityOpt := []string{"no-new-privileges:true"}
	if spec.Limits.SeccompProfile != "" {
		securityOpt = append(securityOpt, "seccomp="+spec.Limits.SeccompProfile)
	}

	tmpfs := map[string]string{
		"/tmp": "rw,noexec,nosuid,size=16m",
	}
	if spec.WorkingDir != "" {
		// Compiled profiles write and execute their binary here.
		tmpfs[spec.WorkingDir] = "rw,exec,nosuid,size=64m,mode=1777"
	}

	resources := container.Resources{
		Memory:     spec.Limits.MemoryBytes,
		MemorySwap: spec.Limits.MemoryBytes,
		CPUShares:  spec.Limits.CPUShares,
		Ulimits: []*units.Ulimit{
			{Name: "nofile", Soft: 256, Hard: 256},
			{Name: "fsize", Soft: 16 * units.MiB, Hard: 16 * units.MiB},
		},
	}
	if spec.Limits.PidsLimit > 0 {
		pids := spec.Limits.PidsLimit
		resources.PidsLimit = &pids
	}

	hostConfig := &container.HostConfig{
		NetworkMode:    "none",
		CapDrop:        []string{"ALL"},
		SecurityOpt:    securityOpt,
		ReadonlyRootfs: true,
		Tmpfs:          tmpfs,
		Resources:      resources,
	}

	return containerConfig, hostConfig
}

type mergedLogs struct {
	*io.PipeReader
	raw io.ReadCloser
}

func (m *mergedLogs) Close() error {
	rawErr := m.raw.Close()
	if err := m.PipeReader.Close(); err != nil {
		return err
	}
	return rawErr
}
