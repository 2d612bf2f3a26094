// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package exposes the execution service as MCP tools using the
// mark3labs/mcp-go library:
//
//   - execute_code runs {language, code} and returns the execution record as JSON
//   - list_languages returns the supported language identifiers
//
// Client input problems and executor failures are reported as tool errors so
// the calling model can read them.
//
// The server supports both stdio and streamable HTTP transports as configured
// by server.mcp_transport.
//
// Usage:
//
//	server := mcpserver.New(config, logger, service)
//	err := server.ServeStdio() // or server.ServeHTTP()
package mcpserver
