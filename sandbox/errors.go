package sandbox

import "errors"

var (
	// ErrUnsupportedLanguage is returned when no profile exists for a language.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrProvisioning is returned when an environment cannot be created or started.
	ErrProvisioning = errors.New("failed to provision sandbox")
	// ErrTimeout is returned when execution exceeds its wall-clock budget.
	ErrTimeout = errors.New("execution timeout")
	// ErrExecution covers runtime failures after the environment has started.
	ErrExecution = errors.New("execution failed")
)
