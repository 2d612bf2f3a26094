// Package main is the entry point for the coderun service.
//
// The coderun binary executes untrusted user code (Python, JavaScript, Java,
// Ruby, C, C++) once per request inside a container with no network, dropped
// capabilities and fixed memory, CPU and process limits.
//
// Subcommands:
//
//	coderun serve                      start the HTTP API and the optional MCP server
//	coderun run --language python f.py execute one file (or stdin) and print the record
//	coderun languages                  list the supported language identifiers
//
// The serve command uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
package main
