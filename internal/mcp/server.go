package mcp

import (
	"context"
	"database/sql"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/cardbox/internal/config"
	"github.com/hpungsan/cardbox/internal/session"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"cards_list": {
		def:     listToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleList },
	},
	"cards_fetch": {
		def:     fetchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFetch },
	},
	"cards_fetch_many": {
		def:     fetchManyToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFetchMany },
	},
	"cards_count": {
		def:     countToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCount },
	},
	"cards_window": {
		def:     windowToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleWindow },
	},
	"cards_rebuild": {
		def:     rebuildToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRebuild },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates a new MCP server with the card tools registered.
// Tools listed in cfg.DisabledTools are excluded from registration.
func NewServer(db *sql.DB, cfg *config.Config, sessions *session.Manager, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"cardbox",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(db, cfg, sessions)

	disabled := make(map[string]bool)
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	// Register tools (skip disabled)
	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(db *sql.DB, cfg *config.Config, sessions *session.Manager, version string) error {
	s := NewServer(db, cfg, sessions, version)
	return server.ServeStdio(s)
}

// ToolHandlerFunc is the signature for tool handlers.
type ToolHandlerFunc func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
