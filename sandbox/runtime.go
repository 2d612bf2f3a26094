package sandbox

import (
	"context"
	"io"
)

// Handle identifies one provisioned environment inside a Runtime.
type Handle string

func (h Handle) String() string {
	return string(h)
}

// ResourceLimits are applied to every environment. Network isolation, dropped
// capabilities and no-new-privileges are not listed because runtimes must
// always enforce them.
type ResourceLimits struct {
	MemoryBytes int64
	CPUShares   int64
	PidsLimit   int64
	// SeccompProfile is a JSON profile. Empty selects the runtime's default filter.
	SeccompProfile string
}

// EnvironmentSpec describes the environment to provision for one execution.
type EnvironmentSpec struct {
	Image      string
	Command    []string
	WorkingDir string
	Labels     map[string]string
	Limits     ResourceLimits
}

// EnvironmentState is the subset of runtime state the executor inspects.
type EnvironmentState struct {
	Running bool
}

// Runtime is the container control plane the executor drives.
type Runtime interface {
	Create(ctx context.Context, spec EnvironmentSpec) (Handle, error)
	Start(ctx context.Context, h Handle) error
	// Logs follows the combined stdout/stderr stream until the process exits.
	Logs(ctx context.Context, h Handle) (io.ReadCloser, error)
	Inspect(ctx context.Context, h Handle) (EnvironmentState, error)
	Stop(ctx context.Context, h Handle) error
	Remove(ctx context.Context, h Handle, force bool) error
}

// ChannelLogger is implemented by runtimes that can deliver stdout and stderr
// separately. It blocks until both channels are drained.
type ChannelLogger interface {
	ChannelLogs(ctx context.Context, h Handle, stdout, stderr io.Writer) error
}

// Pinger reports whether the runtime control plane is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}
