package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Executor defaults.
const (
	DefaultTimeout          = 30 * time.Second
	DefaultProvisionTimeout = 2 * time.Minute
	DefaultTeardownTimeout  = 10 * time.Second
	DefaultMemoryBytes      = 64 << 20
	DefaultCPUShares        = 512
	DefaultPidsLimit        = 64
	DefaultMaxOutputBytes   = 1 << 20
	DefaultWorkingDir       = "/sandbox"
)

// DemuxMode selects how the captured stream is split into output and error.
type DemuxMode string

const (
	// DemuxKeyword classifies the combined stream line by line.
	DemuxKeyword DemuxMode = "keyword"
	// DemuxStream uses separate stdout/stderr channels when the runtime has them.
	DemuxStream DemuxMode = "stream"
)

// Outcome labels reported to observers.
const (
	OutcomeSuccess     = "success"
	OutcomeTimeout     = "timeout"
	OutcomeUnsupported = "unsupported_language"
	OutcomeProvision   = "provisioning_failed"
	OutcomeFailed      = "execution_failed"
)

// ExecuteRequest represents the parameters for code execution
type ExecuteRequest struct {
	Language string
	Code     string
	// Timeout bounds the run once the environment has started. Zero selects the
	// executor default. A profile timeout takes precedence over both.
	Timeout time.Duration
}

// ExecuteResult represents the result of code execution
type ExecuteResult struct {
	Output string
	Error  string
}

// SandboxExecutor defines the interface for sandbox execution
type SandboxExecutor interface {
	Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error)
}

// Observer receives execution lifecycle events.
type Observer interface {
	ExecutionStarted(language string)
	ExecutionFinished(language, outcome string, elapsed time.Duration)
	// ExecutionRejected reports a request that never reached provisioning.
	ExecutionRejected(outcome string)
	TeardownFailed(stage string)
}

type noopObserver struct{}

func (noopObserver) ExecutionStarted(string) {}
func (noopObserver) ExecutionFinished(string, string, time.Duration) {}
func (noopObserver) ExecutionRejected(string) {}
func (noopObserver) TeardownFailed(string) {}

// Executor runs one request per provisioned environment and always removes it.
type Executor struct {
	logger           *zap.Logger
	runtime          Runtime
	registry         *Registry
	limits           ResourceLimits
	workingDir       string
	timeout          time.Duration
	provisionTimeout time.Duration
	teardownTimeout  time.Duration
	maxOutputBytes   int
	demux            DemuxMode
	slots            *semaphore.Weighted
	observer         Observer
}

// ExecutorOption defines a functional option for Executor
type ExecutorOption func(*Executor)

// WithTimeout sets the default execution timeout.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithProvisionTimeout bounds environment creation and start, image pulls included.
func WithProvisionTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.provisionTimeout = d
		}
	}
}

// WithTeardownTimeout bounds stop and remove.
func WithTeardownTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.teardownTimeout = d
		}
	}
}

// WithLimits sets the resource limits applied to every environment.
func WithLimits(limits ResourceLimits) ExecutorOption {
	return func(e *Executor) {
		e.limits = limits
	}
}

// WithMaxOutputBytes caps how much of the stream is kept.
func WithMaxOutputBytes(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxOutputBytes = n
		}
	}
}

// WithDemux selects the output split strategy.
func WithDemux(mode DemuxMode) ExecutorOption {
	return func(e *Executor) {
		e.demux = mode
	}
}

// WithMaxConcurrent limits simultaneous environments. Zero means unlimited.
func WithMaxConcurrent(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.slots = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithObserver registers an observer for lifecycle events.
func WithObserver(o Observer) ExecutorOption {
	return func(e *Executor) {
		if o != nil {
			e.observer = o
		}
	}
}

// NewExecutor creates an Executor over runtime using the profiles in registry.
func NewExecutor(logger *zap.Logger, runtime Runtime, registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		logger:   logger,
		runtime:  runtime,
		registry: registry,
		limits: ResourceLimits{
			MemoryBytes: DefaultMemoryBytes,
			CPUShares:   DefaultCPUShares,
			PidsLimit:   DefaultPidsLimit,
		},
		workingDir:       DefaultWorkingDir,
		timeout:          DefaultTimeout,
		provisionTimeout: DefaultProvisionTimeout,
		teardownTimeout:  DefaultTeardownTimeout,
		maxOutputBytes:   DefaultMaxOutputBytes,
		demux:            DemuxKeyword,
		observer:         noopObserver{},
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Registry returns the profiles the executor resolves against.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute runs req.Code in a fresh environment.
func (e *Executor) Execute(ctx context.Context, req ExecuteRequest) (result ExecuteResult, err error) {
	profile, err := e.registry.Resolve(req.Language)
	if err != nil {
		e.observer.ExecutionRejected(OutcomeUnsupported)
		return ExecuteResult{}, err
	}

	if e.slots != nil {
		if acquireErr := e.slots.Acquire(ctx, 1); acquireErr != nil {
			e.observer.ExecutionRejected(OutcomeFailed)
			return ExecuteResult{}, fmt.Errorf("%w: waiting for a free sandbox: %w", ErrExecution, acquireErr)
		}
		defer e.slots.Release(1)
	}

	// Only the execution timer may cancel a run; caller cancellation is ignored.
	ctx = context.WithoutCancel(ctx)

	started := time.Now()
	e.observer.ExecutionStarted(profile.ID)
	defer func() {
		e.observer.ExecutionFinished(profile.ID, Outcome(err), time.Since(started))
	}()

	log := e.logger.With(zap.String("language", profile.ID), zap.String("image", profile.Image))

	spec := EnvironmentSpec{
		Image:      profile.Image,
		Command:    profile.Command(req.Code),
		WorkingDir: e.workingDir,
		Labels: map[string]string{
			"coderun.language": profile.ID,
		},
		Limits: e.limits,
	}

	provisionCtx, cancelProvision := context.WithTimeout(ctx, e.provisionTimeout)
	defer cancelProvision()

	handle, err := e.runtime.Create(provisionCtx, spec)
	if err != nil {
		log.Error("failed to create sandbox", zap.Error(err))
		return ExecuteResult{}, fmt.Errorf("%w: create: %w", ErrProvisioning, err)
	}
	log = log.With(zap.String("sandbox", handle.String()))
	defer e.teardown(ctx, log, handle)

	if err := e.runtime.Start(provisionCtx, handle); err != nil {
		log.Error("failed to start sandbox", zap.Error(err))
		return ExecuteResult{}, fmt.Errorf("%w: start: %w", ErrProvisioning, err)
	}
	cancelProvision()

	timeout := e.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	if profile.Timeout > 0 {
		timeout = profile.Timeout
	}

	result, err = e.collect(ctx, log, handle, timeout)
	if err != nil {
		return ExecuteResult{}, err
	}

	log.Debug("sandbox finished",
		zap.Int("output_len", len(result.Output)),
		zap.Int("error_len", len(result.Error)))
	return result, nil
}

type capture struct {
	combined limitedBuffer
	stdout   limitedBuffer
	stderr   limitedBuffer
	split    bool
}

func (c *capture) result() ExecuteResult {
	if c.split {
		return ExecuteResult{
			Output: Sanitize(c.stdout.String()),
			Error:  Sanitize(c.stderr.String()),
		}
	}
	return Classify(c.combined.String())
}

func (c *capture) truncated() bool {
	return c.combined.truncated || c.stdout.truncated || c.stderr.truncated
}

// collect races log collection against the timeout. The reader goroutine has
// always returned before collect does, so teardown never overlaps a read.
func (e *Executor) collect(ctx context.Context, log *zap.Logger, h Handle, timeout time.Duration) (ExecuteResult, error) {
	timer, cancelTimer := context.WithTimeout(ctx, timeout)
	defer cancelTimer()

	streamCtx, stopStream := context.WithCancel(timer)
	defer stopStream()

	c := &capture{}
	c.combined.limit = e.maxOutputBytes
	c.stdout.limit = e.maxOutputBytes
	c.stderr.limit = e.maxOutputBytes

	done := make(chan error, 1)
	go func() {
		done <- e.readLogs(streamCtx, h, c)
	}()

	select {
	case readErr := <-done:
		if readErr != nil && timer.Err() == nil {
			log.Error("failed to read sandbox output", zap.Error(readErr))
			return ExecuteResult{}, fmt.Errorf("%w: read output: %w", ErrExecution, readErr)
		}
		if timer.Err() != nil {
			break
		}
		if c.truncated() {
			log.Warn("sandbox output truncated", zap.Int("limit_bytes", e.maxOutputBytes))
		}
		return c.result(), nil
	case <-timer.Done():
		stopStream()
		select {
		case <-done:
		case <-time.After(e.teardownTimeout):
			log.Warn("output reader did not stop after timeout")
		}
	}

	log.Warn("sandbox timed out", zap.Duration("timeout", timeout))
	return ExecuteResult{}, fmt.Errorf("%w after %s", ErrTimeout, timeout)
}

func (e *Executor) readLogs(ctx context.Context, h Handle, c *capture) error {
	if e.demux == DemuxStream {
		if cl, ok := e.runtime.(ChannelLogger); ok {
			c.split = true
			return cl.ChannelLogs(ctx, h, &c.stdout, &c.stderr)
		}
	}

	rc, err := e.runtime.Logs(ctx, h)
	if err != nil {
		return err
	}
	defer rc.Close()

	// Closing the stream unblocks a pending Read once the timer fires.
	stop := context.AfterFunc(ctx, func() { rc.Close() })
	defer stop()

	_, err = io.Copy(&c.combined, rc)
	return err
}

// teardown stops the environment if needed and always force-removes it.
// Failures are logged and never returned.
func (e *Executor) teardown(ctx context.Context, log *zap.Logger, h Handle) {
	ctx, cancel := context.WithTimeout(ctx, e.teardownTimeout)
	defer cancel()

	state, err := e.runtime.Inspect(ctx, h)
	switch {
	case err != nil:
		e.observer.TeardownFailed("inspect")
		log.Warn("failed to inspect sandbox", zap.Error(err))
	case state.Running:
		if err := e.runtime.Stop(ctx, h); err != nil {
			e.observer.TeardownFailed("stop")
			log.Warn("failed to stop sandbox", zap.Error(err))
		}
	}

	if err := e.runtime.Remove(ctx, h, true); err != nil {
		e.observer.TeardownFailed("remove")
		log.Error("failed to remove sandbox", zap.Error(err))
		return
	}
	log.Debug("sandbox removed")
}

// Outcome maps an Execute error to its outcome label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrTimeout):
		return OutcomeTimeout
	case errors.Is(err, ErrUnsupportedLanguage):
		return OutcomeUnsupported
	case errors.Is(err, ErrProvisioning):
		return OutcomeProvision
	default:
		return OutcomeFailed
	}
}

// limitedBuffer keeps the first limit bytes and discards the rest so the
// producer can keep writing until the stream ends.
type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if b.limit > 0 {
		room := b.limit - b.buf.Len()
		if room <= 0 {
			b.truncated = true
			return n, nil
		}
		if len(p) > room {
			p = p[:room]
			b.truncated = true
		}
	}
	b.buf.Write(p)
	return n, nil
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}
