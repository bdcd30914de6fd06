// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes sync agent tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dannberg/obsidian-secondbrain-sync/internal/apperr"
	"github.com/dannberg/obsidian-secondbrain-sync/internal/exclusion"
	"github.com/dannberg/obsidian-secondbrain-sync/internal/status"
	"github.com/dannberg/obsidian-secondbrain-sync/internal/syncer"
	"github.com/dannberg/obsidian-secondbrain-sync/internal/tracker"
)

// Connection probes server reachability.
type Connection interface {
	TestConnection(ctx context.Context) bool
}

// Server wraps the MCP server with sync agent tools.
type Server struct {
	mcp     *server.MCPServer
	engine  *syncer.Syncer
	tracker *tracker.Tracker
	filter  *exclusion.Filter
	conn    Connection
	bus     *status.Bus
}

// New creates a new MCP server with all agent tools registered.
func New(engine *syncer.Syncer, tr *tracker.Tracker, filter *exclusion.Filter, conn Connection, bus *status.Bus) *Server {
	s := &Server{
		engine:  engine,
		tracker: tr,
		filter:  filter,
		conn:    conn,
		bus:     bus,
	}

	s.mcp = server.NewMCPServer(
		"Second Brain Sync",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("sync_now",
		mcp.WithDescription("Trigger a full vault sync against the Second Brain server. "+
			"Reports when a sync is already running instead of queueing another."),
	), s.syncNow)

	s.mcp.AddTool(mcp.NewTool("sync_status",
		mcp.WithDescription("Report the current sync phase, the last reconciliation time, "+
			"and how many notes are tracked on the server."),
	), s.syncStatus)

	s.mcp.AddTool(mcp.NewTool("test_connection",
		mcp.WithDescription("Check whether the Second Brain server is reachable with the "+
			"configured credentials."),
	), s.testConnection)

	s.mcp.AddTool(mcp.NewTool("get_exclusions",
		mcp.WithDescription("Return the exclusion rules the agent enforces: folders and "+
			"tags whose notes never leave this machine."),
	), s.getExclusions)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) syncNow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	err := s.engine.FullSync(ctx)
	switch {
	case err == nil:
		st := s.bus.Last()
		return mcp.NewToolResultText(fmt.Sprintf("sync complete: %d notes pushed, %d tracked",
			st.Synced, s.tracker.Len())), nil
	case errors.Is(err, apperr.ErrSyncActive):
		return mcp.NewToolResultText("a sync is already running"), nil
	default:
		return mcp.NewToolResultError(err.Error()), nil
	}
}

func (s *Server) syncStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st := s.bus.Last()
	out := map[string]any{
		"phase":         st.Phase,
		"message":       st.Message,
		"synced":        st.Synced,
		"total":         st.Total,
		"at":            st.At,
		"tracked_notes": s.tracker.Len(),
	}
	if ls := s.tracker.LastSync(); ls != nil {
		out["last_sync"] = ls
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) testConnection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.conn.TestConnection(ctx) {
		return mcp.NewToolResultText("server reachable"), nil
	}
	return mcp.NewToolResultError("server unreachable or credentials rejected"), nil
}

func (s *Server) getExclusions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, _ := json.MarshalIndent(s.filter.Rules(), "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}
