// Package mcpserver provides an MCP (Model Context Protocol) server for
// debugging the bridge: it exposes tools for inspecting live conversations
// and the effective configuration. It binds only to 127.0.0.1.
//
// This is separate from the MCP Passthrough Shim (internal/mcpshim): the
// shim forwards Xcode's own tool calls through the bridge, while this
// server answers a human (or another MCP client) asking about the bridge's
// own state. It is the one place in the bridge that uses the
// modelcontextprotocol/go-sdk's static AddTool registration, since its tool
// catalog is fixed at compile time.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/xcbridge/xcbridge/internal/config"
	"github.com/xcbridge/xcbridge/internal/convo"
	"github.com/xcbridge/xcbridge/internal/logging"
)

const (
	// DefaultPort is the default port for the MCP debug server.
	DefaultPort = 5757
	// ServerName is the name of the MCP debug server.
	ServerName = "xcbridge-debug"
	// ServerVersion is the version of the MCP debug server.
	ServerVersion = "1.0.0"
)

// TransportMode specifies the transport mode for the MCP debug server.
type TransportMode string

const (
	// TransportModeSSE uses the Streamable HTTP transport (default). The
	// server listens on a TCP port and clients connect via HTTP.
	TransportModeSSE TransportMode = "sse"

	// TransportModeSTDIO uses standard input/output for communication,
	// useful for running the debug server as a subprocess.
	TransportModeSTDIO TransportMode = "stdio"
)

// Server is the MCP debug server for the bridge.
type Server struct {
	mcpServer *mcp.Server
	logger    *slog.Logger
	port      int
	mode      TransportMode
	listener  net.Listener
	httpSrv   *http.Server

	// For STDIO mode
	stdioSession *mcp.ServerSession
	stdioDone    chan struct{}

	mu       sync.RWMutex
	manager  *convo.Manager
	config   *config.Config
	running  bool
	shutdown bool
}

// Dependencies holds the dependencies needed by the MCP debug server.
type Dependencies struct {
	Manager *convo.Manager
	Config  *config.Config
}

// Config holds the configuration for the MCP debug server.
type Config struct {
	// Port to listen on. Only used in SSE mode. -1 selects DefaultPort
	// (5757); 0 picks a random free port when the server starts.
	Port int

	// Mode specifies the transport mode (sse or stdio). Default: sse.
	Mode TransportMode
}

// NewServer creates a new MCP debug server.
// If cfg.Port is -1, the default port (5757) is used.
// If cfg.Port is 0, a random available port is assigned when the server starts.
func NewServer(cfg Config, deps Dependencies) (*Server, error) {
	logger := logging.MCP()

	if cfg.Port < 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Mode == "" {
		cfg.Mode = TransportModeSSE
	}

	s := &Server{
		logger:  logger,
		port:    cfg.Port,
		mode:    cfg.Mode,
		manager: deps.Manager,
		config:  deps.Config,
	}

	mcpSrv := mcp.NewServer(&mcp.Implementation{
		Name:    ServerName,
		Version: ServerVersion,
	}, nil)

	s.registerTools(mcpSrv)

	s.mcpServer = mcpSrv
	return s, nil
}

// Start starts the MCP debug server.
// For SSE mode, it starts an HTTP server on 127.0.0.1.
// For STDIO mode, it starts reading from stdin and writing to stdout.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.mu.Unlock()

	switch s.mode {
	case TransportModeSTDIO:
		return s.startSTDIO(ctx)
	case TransportModeSSE:
		return s.startSSE(ctx)
	default:
		return fmt.Errorf("unknown transport mode: %s", s.mode)
	}
}

// startSSE starts the MCP debug server over the Streamable HTTP transport
// (MCP spec 2025-03-26) on 127.0.0.1.
func (s *Server) startSSE(ctx context.Context) error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.running = true
	actualPort := listener.Addr().(*net.TCPAddr).Port
	s.port = actualPort
	s.mu.Unlock()

	s.logger.Info("MCP debug server started",
		"mode", "http",
		"address", addr,
		"port", actualPort,
	)

	mux := http.NewServeMux()

	streamableHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcpServer
	}, nil)

	mux.Handle("/mcp", streamableHandler)
	mux.Handle("/", streamableHandler)

	s.httpSrv = &http.Server{Handler: mux}

	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("MCP debug server error", "error", err)
		}
	}()

	return nil
}

// startSTDIO starts the MCP debug server in STDIO mode.
// This is a non-blocking call that starts the server in a goroutine.
// Use Wait() to block until the server stops.
func (s *Server) startSTDIO(ctx context.Context) error {
	s.mu.Lock()
	s.running = true
	s.stdioDone = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("MCP debug server started", "mode", "stdio")

	go func() {
		defer close(s.stdioDone)

		transport := &mcp.StdioTransport{}
		session, err := s.mcpServer.Connect(ctx, transport, nil)
		if err != nil {
			s.logger.Error("Failed to connect STDIO transport", "error", err)
			return
		}

		s.mu.Lock()
		s.stdioSession = session
		s.mu.Unlock()

		if err := session.Wait(); err != nil {
			s.logger.Debug("STDIO session ended", "error", err)
		}

		s.mu.Lock()
		s.running = false
		s.stdioSession = nil
		s.mu.Unlock()

		s.logger.Info("MCP debug server stopped", "mode", "stdio")
	}()

	return nil
}

// Wait blocks until the server stops (STDIO mode only).
// For SSE mode, this returns immediately.
func (s *Server) Wait() error {
	s.mu.RLock()
	done := s.stdioDone
	s.mu.RUnlock()

	if done != nil {
		<-done
	}
	return nil
}

// Stop stops the MCP debug server gracefully.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.shutdown {
		return nil
	}

	s.shutdown = true
	s.running = false

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Warn("Error shutting down MCP debug HTTP server", "error", err)
		}
	}

	if s.listener != nil {
		s.listener.Close()
	}

	if s.stdioSession != nil {
		if err := s.stdioSession.Close(); err != nil {
			s.logger.Warn("Error closing STDIO session", "error", err)
		}
	}

	s.logger.Info("MCP debug server stopped")
	return nil
}

// Port returns the actual port the server is listening on.
// Returns 0 for STDIO mode.
func (s *Server) Port() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.port
}

// Mode returns the transport mode of the server.
func (s *Server) Mode() TransportMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running && !s.shutdown
}

// UpdateDependencies updates the server dependencies, e.g. after a config
// reload (Watcher, C-config).
func (s *Server) UpdateDependencies(deps Dependencies) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if deps.Manager != nil {
		s.manager = deps.Manager
	}
	if deps.Config != nil {
		s.config = deps.Config
	}
}

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools(mcpSrv *mcp.Server) {
	mcp.AddTool(mcpSrv, &mcp.Tool{
		Name:        "list_conversations",
		Description: "List all live conversations with their tool-bridge state: pending calls, expected calls, session status",
	}, s.createListConversationsHandler())

	mcp.AddTool(mcpSrv, &mcp.Tool{
		Name:        "get_config",
		Description: "Get the current effective bridge configuration",
	}, s.createGetConfigHandler())

	mcp.AddTool(mcpSrv, &mcp.Tool{
		Name:        "get_runtime_info",
		Description: "Get runtime information including OS, architecture, log file paths, and process info",
	}, s.createGetRuntimeInfoHandler())
}

// ListConversationsOutput wraps the list of conversations for MCP output schema compliance.
type ListConversationsOutput struct {
	Conversations []ConversationInfo `json:"conversations"`
}

// createListConversationsHandler creates the handler for the list_conversations tool.
func (s *Server) createListConversationsHandler() mcp.ToolHandlerFor[struct{}, ListConversationsOutput] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input struct{}) (*mcp.CallToolResult, ListConversationsOutput, error) {
		s.mu.RLock()
		manager := s.manager
		s.mu.RUnlock()

		if manager == nil {
			return nil, ListConversationsOutput{}, fmt.Errorf("conversation manager not available")
		}

		conversations := manager.Snapshot()
		out := make([]ConversationInfo, 0, len(conversations))
		for _, c := range conversations {
			out = append(out, conversationInfoFrom(c))
		}

		return nil, ListConversationsOutput{Conversations: out}, nil
	}
}

// createGetConfigHandler creates the handler for the get_config tool.
func (s *Server) createGetConfigHandler() mcp.ToolHandlerFor[struct{}, ConfigInfo] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input struct{}) (*mcp.CallToolResult, ConfigInfo, error) {
		s.mu.RLock()
		cfg := s.config
		s.mu.RUnlock()

		if cfg == nil {
			return nil, ConfigInfo{}, fmt.Errorf("configuration not available")
		}

		info := configToSafeOutput(cfg)
		return nil, *info, nil
	}
}

// createGetRuntimeInfoHandler creates the handler for the get_runtime_info tool.
func (s *Server) createGetRuntimeInfoHandler() mcp.ToolHandlerFor[struct{}, RuntimeInfo] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input struct{}) (*mcp.CallToolResult, RuntimeInfo, error) {
		info := buildRuntimeInfo()
		return nil, *info, nil
	}
}
