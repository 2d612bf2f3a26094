// Package config provides application configuration management.
//
// The config package loads the service configuration from a YAML file,
// environment variables prefixed with CODERUN_ and an optional .env file,
// then validates it. It covers the HTTP and MCP servers, the sandbox runtime
// and its resource limits, logging, metrics, and per-language overrides.
//
// Usage:
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Sandbox backend: %s\n", cfg.Sandbox.Backend)
package config
