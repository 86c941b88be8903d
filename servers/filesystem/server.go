// Package filesystem provides an MCP server over a set of allowed directory
// roots. It exposes file manipulation as tools, the files themselves as
// resources, and honours client-requested log levels.
//
// Every operation validates its path against the configured roots, following
// symlinks, so a session can never escape the sandbox.
package filesystem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/modelctx/mcp"
)

// Server implements mcp.Handler for filesystem access restricted to a set of
// root directories.
type Server struct {
	roots []string

	logLevel atomic.Value // mcp.LogLevel
}

// NewServer creates a filesystem server allowing access under the given
// roots. Each root must exist and be a directory.
func NewServer(roots []string) (*Server, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("at least one root directory is required")
	}
	cleaned := make([]string, 0, len(roots))
	for _, root := range roots {
		abs, err := filepath.Abs(filepath.Clean(root))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve root %s: %w", root, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("failed to stat root directory: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("root is not a directory: %s", root)
		}
		cleaned = append(cleaned, abs)
	}

	s := &Server{roots: cleaned}
	s.logLevel.Store(mcp.LogLevelInfo)
	return s, nil
}

// Capabilities implements mcp.Handler.
func (s *Server) Capabilities() mcp.ServerCapabilities {
	return mcp.ServerCapabilities{
		Tools:     &mcp.ToolsCapability{},
		Resources: &mcp.ResourcesCapability{},
		Logging:   &mcp.LoggingCapability{},
	}
}

// ServerInfo implements mcp.Handler.
func (s *Server) ServerInfo() mcp.Info {
	return mcp.Info{Name: "filesystem", Version: "1.0.0"}
}

// Instructions implements mcp.Handler.
func (s *Server) Instructions() string {
	return "Filesystem access is restricted to the configured root directories. " +
		"Use relative or absolute paths inside a root; anything else is rejected."
}

// ListTools implements mcp.Handler. The tool list is static, so pagination is
// a single page.
func (s *Server) ListTools(context.Context, mcp.ListToolsParams) (mcp.ListToolsResult, error) {
	return toolList, nil
}

// CallTool implements mcp.Handler.
func (s *Server) CallTool(_ context.Context, params mcp.CallToolParams) (mcp.CallToolResult, error) {
	switch params.Name {
	case "read_file":
		return s.readFile(params)
	case "write_file":
		return s.writeFile(params)
	case "edit_file":
		return s.editFile(params)
	case "create_directory":
		return s.createDirectory(params)
	case "list_directory":
		return s.listDirectory(params)
	case "move_file":
		return s.moveFile(params)
	case "search_files":
		return s.searchFiles(params)
	case "get_file_info":
		return s.getFileInfo(params)
	default:
		return mcp.CallToolResult{}, fmt.Errorf("tool not found: %s", params.Name)
	}
}

// ListResources implements mcp.Handler. Every regular file under the roots is
// a file:// resource.
func (s *Server) ListResources(_ context.Context, _ mcp.ListResourcesParams) (mcp.ListResourcesResult, error) {
	resources, err := s.collectResources()
	if err != nil {
		return mcp.ListResourcesResult{}, err
	}
	return mcp.ListResourcesResult{Resources: resources}, nil
}

// ReadResource implements mcp.Handler.
func (s *Server) ReadResource(_ context.Context, params mcp.ReadResourceParams) (mcp.ReadResourceResult, error) {
	contents, err := s.readResourceContents(params.URI)
	if err != nil {
		return mcp.ReadResourceResult{}, err
	}
	return mcp.ReadResourceResult{Contents: []mcp.ResourceContents{contents}}, nil
}

// ListResourceTemplates implements mcp.Handler.
func (s *Server) ListResourceTemplates(
	context.Context,
	mcp.ListResourceTemplatesParams,
) (mcp.ListResourceTemplatesResult, error) {
	return mcp.ListResourceTemplatesResult{
		Templates: []mcp.ResourceTemplate{
			{
				URITemplate: "file://{path}",
				Name:        "File",
				Description: "A file under one of the allowed root directories",
			},
		},
	}, nil
}

// ListPrompts implements mcp.Handler. The filesystem server offers no
// prompts.
func (s *Server) ListPrompts(context.Context, mcp.ListPromptsParams) (mcp.ListPromptsResult, error) {
	return mcp.ListPromptsResult{Prompts: []mcp.Prompt{}}, nil
}

// GetPrompt implements mcp.Handler.
func (s *Server) GetPrompt(_ context.Context, params mcp.GetPromptParams) (mcp.GetPromptResult, error) {
	return mcp.GetPromptResult{}, fmt.Errorf("prompt not found: %s", params.Name)
}

// SetLogLevel implements mcp.Handler.
func (s *Server) SetLogLevel(_ context.Context, params mcp.SetLogLevelParams) error {
	s.logLevel.Store(params.Level)
	return nil
}

// LogLevel returns the minimum severity the client asked to receive.
func (s *Server) LogLevel() mcp.LogLevel {
	return s.logLevel.Load().(mcp.LogLevel)
}
