package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/cardbox/internal/card"
	"github.com/hpungsan/cardbox/internal/config"
	"github.com/hpungsan/cardbox/internal/errors"
	"github.com/hpungsan/cardbox/internal/host"
	"github.com/hpungsan/cardbox/internal/ops"
	"github.com/hpungsan/cardbox/internal/session"
	"github.com/hpungsan/cardbox/internal/viewport"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	db       *sql.DB
	cfg      *config.Config
	sessions *session.Manager

	mu      sync.Mutex
	windows map[string]*viewport.Window
}

// NewHandlers creates a new Handlers instance. sessions may be nil, in which
// case every request must name its graph and rebuild is unavailable.
func NewHandlers(db *sql.DB, cfg *config.Config, sessions *session.Manager) *Handlers {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Handlers{
		db:       db,
		cfg:      cfg,
		sessions: sessions,
		windows:  make(map[string]*viewport.Window),
	}
}

// Request types for each tool

// ListRequest represents the arguments for list.
type ListRequest struct {
	Graph  string `json:"graph,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// FetchRequest represents the arguments for fetch.
type FetchRequest struct {
	Graph string `json:"graph,omitempty"`
	Name  string `json:"name"`
}

// FetchManyRequest represents the arguments for fetch_many.
type FetchManyRequest struct {
	Graph string             `json:"graph,omitempty"`
	Items []ops.FetchManyRef `json:"items"`
}

// CountRequest represents the arguments for count.
type CountRequest struct {
	Graph string `json:"graph,omitempty"`
}

// WindowRequest represents the arguments for window.
type WindowRequest struct {
	Graph          string  `json:"graph,omitempty"`
	ScrollTop      float64 `json:"scroll_top,omitempty"`
	ViewportHeight float64 `json:"viewport_height,omitempty"`
	RowHeight      float64 `json:"row_height,omitempty"`
	Columns        int     `json:"columns,omitempty"`
	// Tag nil keeps the current filter; "" clears it
	Tag *string `json:"tag,omitempty"`
}

// WindowResponse is the result of window.
type WindowResponse struct {
	Graph string      `json:"graph"`
	Limit int         `json:"limit"`
	Tag   string      `json:"tag,omitempty"`
	Items []card.Card `json:"items"`
}

// graph resolves an optional graph argument against the active session.
func (h *Handlers) graph(graph string) string {
	if g := strings.TrimSpace(graph); g != "" {
		return g
	}
	if h.sessions != nil {
		return h.sessions.ActiveGraph()
	}
	return ""
}

// window returns the card window of graph, creating it on first use.
func (h *Handlers) window(graph string) *viewport.Window {
	h.mu.Lock()
	defer h.mu.Unlock()

	if w, ok := h.windows[graph]; ok {
		return w
	}
	opts := []viewport.Option{viewport.WithLookAhead(h.cfg.LookAheadScreens)}
	if h.sessions != nil {
		env := h.sessions.Env()
		opts = append(opts, viewport.WithLogger(env.Logger))
		if r, ok := env.Host.(host.TagResolver); ok {
			opts = append(opts, viewport.WithTagResolver(r))
		}
	}
	w := viewport.NewWindow(h.db, graph, opts...)
	h.windows[graph] = w
	return w
}

// Handler implementations

// HandleList handles the list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.List(ctx, h.db, ops.ListInput{
		Graph:  h.graph(input.Graph),
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleFetch handles the fetch tool call.
func (h *Handlers) HandleFetch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FetchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Fetch(ctx, h.db, ops.FetchInput{
		Graph: h.graph(input.Graph),
		Name:  input.Name,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleFetchMany handles the fetch_many tool call.
func (h *Handlers) HandleFetchMany(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FetchManyRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.FetchMany(ctx, h.db, ops.FetchManyInput{
		Graph: h.graph(input.Graph),
		Items: input.Items,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleCount handles the count tool call.
func (h *Handlers) HandleCount(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CountRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Count(ctx, h.db, ops.CountInput{Graph: h.graph(input.Graph)})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleWindow handles the window tool call.
func (h *Handlers) HandleWindow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[WindowRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	graph := h.graph(input.Graph)
	if graph == "" {
		return errorResult(errors.NewInvalidRequest("graph is required")), nil
	}

	w := h.window(graph)
	if input.Tag != nil {
		if err := w.SetTag(ctx, *input.Tag); err != nil {
			return errorResult(err), nil
		}
	}
	limit := w.Scroll(viewport.Metrics{
		ScrollTop:      input.ScrollTop,
		ViewportHeight: input.ViewportHeight,
		RowHeight:      input.RowHeight,
		Columns:        input.Columns,
	})

	items, err := w.Cards(ctx)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(WindowResponse{Graph: graph, Limit: limit, Tag: w.Tag(), Items: items})
}

// HandleRebuild handles the rebuild tool call.
func (h *Handlers) HandleRebuild(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if h.sessions == nil {
		return errorResult(errors.NewNoSession()), nil
	}

	result, err := h.sessions.Rebuild(ctx)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Note: Internal error details are not exposed to prevent leaking sensitive info.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if cErr, ok := err.(*errors.CardboxError); ok {
		errorObj := map[string]any{
			"code":    cErr.Code,
			"message": cErr.Message,
			"status":  cErr.Status,
		}
		// Only include details for non-internal errors to avoid leaking
		// sensitive info like file paths or SQL errors
		if cErr.Code != errors.ErrInternal && cErr.Details != nil {
			errorObj["details"] = cErr.Details
		}
		if cErr.Code == errors.ErrInternal {
			errorObj["message"] = "an internal error occurred"
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
