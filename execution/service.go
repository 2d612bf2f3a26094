package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/coderun/sandbox"
)

// ErrClientInput is returned when language or code is missing.
var ErrClientInput = errors.New("Language and code are required.") //nolint:revive,staticcheck // user-facing message

// FailureMessage is the generic message attached to every executor failure.
const FailureMessage = "Failed to execute code."

// Failure wraps an executor error. Its message is the generic failure text; the
// cause is kept for diagnostics.
type Failure struct {
	Err error
}

func (f *Failure) Error() string {
	return FailureMessage
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Details returns the underlying cause message.
func (f *Failure) Details() string {
	if f.Err == nil {
		return ""
	}
	return f.Err.Error()
}

// Code returns the outcome label of the cause.
func (f *Failure) Code() string {
	return sandbox.Outcome(f.Err)
}

// Record is the result of one execution. It is never mutated after Run returns it.
type Record struct {
	ExecutionID   uuid.UUID
	Output        string
	Error         string
	StartTime     time.Time
	ExecutionTime time.Duration
	LinesOfCode   int
}

type recordJSON struct {
	ExecutionID   string `json:"executionId"`
	Output        string `json:"output"`
	Error         string `json:"error"`
	StartTime     string `json:"startTime"`
	ExecutionTime string `json:"executionTime"`
	LinesOfCode   int    `json:"linesOfCode"`
}

// isoMillis matches the ISO-8601 form with millisecond precision in UTC.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// MarshalJSON renders the wire form of the record.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		ExecutionID:   r.ExecutionID.String(),
		Output:        r.Output,
		Error:         r.Error,
		StartTime:     r.StartTime.UTC().Format(isoMillis),
		ExecutionTime: fmt.Sprintf("%d ms", r.ExecutionTime.Milliseconds()),
		LinesOfCode:   r.LinesOfCode,
	})
}

// Service is the request handler in front of the sandbox executor.
type Service struct {
	logger   *zap.Logger
	executor sandbox.SandboxExecutor
	registry *sandbox.Registry
	timeout  time.Duration
	now      func() time.Time
}

// ServiceOption defines a functional option for Service
type ServiceOption func(*Service)

// WithClock replaces time.Now; used by tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a Service. Every execution uses timeout.
func NewService(logger *zap.Logger, executor sandbox.SandboxExecutor, registry *sandbox.Registry, timeout time.Duration, opts ...ServiceOption) *Service {
	s := &Service{
		logger:   logger,
		executor: executor,
		registry: registry,
		timeout:  timeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Languages lists the supported language identifiers.
func (s *Service) Languages() []string {
	return s.registry.IDs()
}

// Run executes code and returns the completed record. Validation failures
// return ErrClientInput; executor failures return a *Failure.
func (s *Service) Run(ctx context.Context, language, code string) (Record, error) {
	if language == "" || code == "" {
		return Record{}, ErrClientInput
	}

	id := uuid.New()
	startTime := s.now()

	log := s.logger.With(zap.String("execution_id", id.String()), zap.String("language", language))
	log.Info("executing code in sandbox", zap.Int("code_len", len(code)))

	result, err := s.executor.Execute(ctx, sandbox.ExecuteRequest{
		Language: language,
		Code:     code,
		Timeout:  s.timeout,
	})
	elapsed := s.now().Sub(startTime)
	if err != nil {
		log.Error("sandbox execution failed", zap.Error(err), zap.Duration("elapsed", elapsed))
		return Record{}, &Failure{Err: err}
	}

	record := Record{
		ExecutionID:   id,
		Output:        result.Output,
		Error:         result.Error,
		StartTime:     startTime,
		ExecutionTime: elapsed,
		LinesOfCode:   strings.Count(code, "\n") + 1,
	}

	log.Info("code execution completed",
		zap.Duration("elapsed", elapsed),
		zap.Int("output_len", len(record.Output)),
		zap.Int("error_len", len(record.Error)))

	return record, nil
}
