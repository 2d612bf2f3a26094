package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// LocalRuntime implements Runtime with host processes (for development only).
// Images and resource limits are ignored; nothing here is an isolation boundary.
type LocalRuntime struct {
	logger *zap.Logger
	fs     FileSystem

	seq   atomic.Uint64
	mu    sync.Mutex
	procs map[Handle]*localProcess
}

type localProcess struct {
	cmd    *exec.Cmd
	dir    string
	reader *os.File
	writer *os.File

	mu       sync.Mutex
	started  bool
	attached bool
	exited   chan struct{}
}

func (p *localProcess) running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return false
	}
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// LocalRuntimeOption defines a functional option for LocalRuntime
type LocalRuntimeOption func(*LocalRuntime)

// WithLocalFileSystem sets the FileSystem for LocalRuntime
func WithLocalFileSystem(fs FileSystem) LocalRuntimeOption {
	return func(l *LocalRuntime) {
		l.fs = fs
	}
}

// NewLocalRuntime creates a LocalRuntime.
func NewLocalRuntime(logger *zap.Logger, opts ...LocalRuntimeOption) *LocalRuntime {
	l := &LocalRuntime{
		logger: logger,
		fs:     RealFileSystem{},
		procs:  make(map[Handle]*localProcess),
	}
	for _, opt := range opts {
		opt(l)
	}
	logger.Warn("local backend enabled: code runs on the host without isolation")
	return l
}

// Create prepares a process in a fresh scratch directory.
func (l *LocalRuntime) Create(_ context.Context, spec EnvironmentSpec) (Handle, error) {
	if len(spec.Command) == 0 {
		return "", fmt.Errorf("no command provided")
	}

	dir, err := l.fs.MkdirTemp("", "coderun-local-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}

	r, w, err := os.Pipe()
	if err != nil {
		l.removeDir(dir)
		return "", fmt.Errorf("failed to create output pipe: %w", err)
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...) //nolint:gosec // local backend runs caller code by definition
	cmd.Dir = dir
	cmd.Env = []string{"PATH=" + os.Getenv("PATH"), "HOME=" + dir}
	cmd.Stdout = w
	cmd.Stderr = w
	setProcessGroup(cmd)

	h := Handle(fmt.Sprintf("local-%d", l.seq.Add(1)))

	l.mu.Lock()
	l.procs[h] = &localProcess{
		cmd:    cmd,
		dir:    dir,
		reader: r,
		writer: w,
		exited: make(chan struct{}),
	}
	l.mu.Unlock()

	return h, nil
}

// Start launches the process.
func (l *LocalRuntime) Start(_ context.Context, h Handle) error {
	p, err := l.lookup(h)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("process %s already started", h)
	}
	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start process: %w", err)
	}
	p.started = true
	// The child holds its own copy; closing ours lets readers see EOF on exit.
	p.writer.Close()

	go func() {
		_ = p.cmd.Wait()
		close(p.exited)
	}()
	return nil
}

// Logs returns the merged stdout/stderr pipe. It can be attached once.
func (l *LocalRuntime) Logs(_ context.Context, h Handle) (io.ReadCloser, error) {
	p, err := l.lookup(h)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.attached {
		return nil, fmt.Errorf("output of %s already attached", h)
	}
	p.attached = true
	return p.reader, nil
}

// Inspect reports whether the process is still running.
func (l *LocalRuntime) Inspect(_ context.Context, h Handle) (EnvironmentState, error) {
	p, err := l.lookup(h)
	if err != nil {
		return EnvironmentState{}, err
	}
	return EnvironmentState{Running: p.running()}, nil
}

// Stop kills the process group and waits for it to exit.
func (l *LocalRuntime) Stop(ctx context.Context, h Handle) error {
	p, err := l.lookup(h)
	if err != nil {
		return err
	}
	return l.kill(ctx, p)
}

// Remove kills the process if forced and deletes its scratch directory.
func (l *LocalRuntime) Remove(ctx context.Context, h Handle, force bool) error {
	p, err := l.lookup(h)
	if err != nil {
		return err
	}

	if p.running() {
		if !force {
			return fmt.Errorf("process %s is running", h)
		}
		if err := l.kill(ctx, p); err != nil {
			return err
		}
	}

	l.mu.Lock()
	delete(l.procs, h)
	l.mu.Unlock()

	p.mu.Lock()
	if !p.started {
		p.writer.Close()
	}
	p.mu.Unlock()
	p.reader.Close()

	if err := l.fs.RemoveAll(p.dir); err != nil {
		return fmt.Errorf("failed to remove temp dir: %w", err)
	}
	return nil
}

func (l *LocalRuntime) kill(ctx context.Context, p *localProcess) error {
	if !p.running() {
		return nil
	}
	if err := killProcessGroup(p.cmd); err != nil {
		return fmt.Errorf("failed to kill process: %w", err)
	}
	select {
	case <-p.exited:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("process did not exit: %w", ctx.Err())
	}
}

func (l *LocalRuntime) lookup(h Handle) (*localProcess, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.procs[h]
	if !ok {
		return nil, fmt.Errorf("unknown sandbox %s: %w", h, os.ErrNotExist)
	}
	return p, nil
}

func (l *LocalRuntime) removeDir(dir string) {
	if err := l.fs.RemoveAll(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		l.logger.Error("failed to remove temp directory", zap.String("path", dir), zap.Error(err))
	}
}
