package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/coderun/config"
	"github.com/isdmx/coderun/execution"
)

// Version is reported to MCP clients during initialization.
const Version = "1.0.0"

// MCPServer represents the MCP server
type MCPServer struct {
	config     *config.Config
	logger     *zap.Logger
	service    *execution.Service
	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, service *execution.Service) *MCPServer {
	s := &MCPServer{
		config:  cfg,
		logger:  logger,
		service: service,
	}

	s.mcpServer = server.NewMCPServer("coderun", Version, server.WithToolCapabilities(false))

	s.registerExecuteCodeTool()
	s.registerListLanguagesTool()

	return s
}

func (s *MCPServer) registerExecuteCodeTool() {
	languages := s.service.Languages()
	tool := mcp.NewTool("execute_code",
		mcp.WithDescription("Run source code once in an isolated, network-disabled container and return its output"),
		mcp.WithString("language",
			mcp.Required(),
			mcp.Description("Language identifier, one of: "+strings.Join(languages, ", ")),
			mcp.Enum(languages...),
		),
		mcp.WithString("code",
			mcp.Required(),
			mcp.Description("Complete program source"),
		),
	)

	s.mcpServer.AddTool(tool, s.handleExecuteCode)
}

func (s *MCPServer) registerListLanguagesTool() {
	tool := mcp.NewTool("list_languages",
		mcp.WithDescription("List the supported language identifiers"),
	)

	s.mcpServer.AddTool(tool, s.handleListLanguages)
}

func (s *MCPServer) handleExecuteCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	language := request.GetString("language", "")
	code := request.GetString("code", "")

	record, err := s.service.Run(ctx, language, code)
	if err != nil {
		var failure *execution.Failure
		switch {
		case errors.Is(err, execution.ErrClientInput):
			return mcp.NewToolResultError(err.Error()), nil
		case errors.As(err, &failure):
			return mcp.NewToolResultError(fmt.Sprintf("%s %s", failure.Error(), failure.Details())), nil
		default:
			return nil, err
		}
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode execution record: %w", err)
	}

	return mcp.NewToolResultText(string(data)), nil
}

func (s *MCPServer) handleListLanguages(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(map[string][]string{
		"supportedLanguages": s.service.Languages(),
	})
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.MCPHTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	s.httpServer = server.NewStreamableHTTPServer(s.mcpServer)
	return s.httpServer.Start(fmt.Sprintf(":%d", port))
}

// Shutdown stops the HTTP transport if it was started.
func (s *MCPServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
