// Package sandbox provides secure code execution capabilities.
//
// The sandbox package implements the execution engine for running untrusted
// code in isolated environments. An Executor resolves a language Profile from
// the Registry, provisions one environment through a Runtime, races the
// environment's output stream against a timeout, and always stops and
// force-removes the environment before returning.
//
// Every environment gets the same hardening regardless of language: a memory
// ceiling with swap disabled, a relative CPU share, a pids limit, no network,
// all capabilities dropped, no-new-privileges and the runtime's default
// seccomp filter unless a profile is configured.
//
// Runtimes include DockerRuntime (Docker or Podman's compatible API) and
// LocalRuntime, which runs host processes and exists for development only.
//
// Output from the container arrives as one merged stream. Classify splits it
// into output and error lines by keyword; the split is approximate.
//
// Usage:
//
//	registry, err := sandbox.DefaultRegistry()
//	runtime, err := sandbox.NewDockerRuntime(logger, "")
//	executor := sandbox.NewExecutor(logger, runtime, registry)
//	result, err := executor.Execute(ctx, sandbox.ExecuteRequest{
//	    Language: "python",
//	    Code:     "print('Hello, World!')",
//	})
package sandbox
