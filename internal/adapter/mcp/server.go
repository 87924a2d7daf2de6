// Package mcp exposes the workflow control surface as Model Context Protocol
// tools, so agents can start, inspect, review and cancel runs.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/ReelForge/internal/domain/pipeline"
	"github.com/Strob0t/ReelForge/internal/domain/run"
	"github.com/Strob0t/ReelForge/internal/port/database"
	"github.com/Strob0t/ReelForge/internal/service"
)

// ServerConfig holds the listener and identity of the MCP server.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
	APIKey  string
}

// WorkflowControl is the subset of the workflow service used by the tools.
type WorkflowControl interface {
	Start(ctx context.Context, req *run.StartRequest) (*run.StartResult, error)
	Get(ctx context.Context, id string) (*run.Run, error)
	List(ctx context.Context, filter database.RunFilter) (*service.ListResult, error)
	Review(ctx context.Context, id string) (run.ReviewSnapshot, error)
	SubmitReview(ctx context.Context, id string, d run.ReviewDecision) error
	Cancel(ctx context.Context, id string) (*run.Run, error)
}

// PipelineLister lists the available pipeline templates.
type PipelineLister interface {
	List() []pipeline.Template
}

// ServerDeps holds the services the tools delegate to. Nil members make
// the corresponding tools report an error.
type ServerDeps struct {
	Workflows WorkflowControl
	Pipelines PipelineLister
}

// Server serves the MCP tools over streamable HTTP.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
	httpSrv   *http.Server
	listener  net.Listener
}

// NewServer creates an MCP server with all tools and resources registered.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
			mcpserver.WithRecovery(),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcpServer }

// Handler returns the HTTP handler serving the protocol at /mcp.
func (s *Server) Handler() http.Handler {
	streamable := mcpserver.NewStreamableHTTPServer(s.mcpServer)
	mux := http.NewServeMux()
	mux.Handle("/mcp", AuthMiddleware(s.cfg.APIKey, streamable))
	return mux
}

// Start begins listening on the configured address in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("mcp listen %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mcp server failed", "error", err)
		}
	}()
	slog.Info("mcp server started", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("mcp shutdown: %w", err)
	}
	slog.Info("mcp server stopped")
	return nil
}
