package mcp

import "github.com/mark3labs/mcp-go/mcp"

var graphParam = mcp.WithString("graph",
	mcp.Description("Graph identifier. Defaults to the active graph."),
)

var listToolDef = mcp.NewTool("cards_list",
	mcp.WithDescription("List page cards of a graph, most recently modified first."),
	graphParam,
	mcp.WithNumber("limit", mcp.Description("Maximum cards to return (default 50, max 500).")),
	mcp.WithNumber("offset", mcp.Description("Cards to skip.")),
)

var fetchToolDef = mcp.NewTool("cards_fetch",
	mcp.WithDescription("Fetch the card of one page by title."),
	graphParam,
	mcp.WithString("name", mcp.Required(), mcp.Description("Page title.")),
)

var fetchManyToolDef = mcp.NewTool("cards_fetch_many",
	mcp.WithDescription("Fetch the cards of several pages. Missing pages are reported in errors."),
	graphParam,
	mcp.WithArray("items",
		mcp.Required(),
		mcp.Description("Pages to fetch (at most 50)."),
		mcp.Items(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"graph": map[string]any{"type": "string"},
				"name":  map[string]any{"type": "string"},
			},
			"required": []string{"name"},
		}),
	),
)

var countToolDef = mcp.NewTool("cards_count",
	mcp.WithDescription("Count the cards of a graph."),
	graphParam,
)

var windowToolDef = mcp.NewTool("cards_window",
	mcp.WithDescription("Return the cards a grid at the given scroll position should show. "+
		"The window only grows within a session; a tag filter returns every tagged card."),
	graphParam,
	mcp.WithNumber("scroll_top", mcp.Description("Scroll offset in pixels.")),
	mcp.WithNumber("viewport_height", mcp.Description("Viewport height in pixels.")),
	mcp.WithNumber("row_height", mcp.Description("Grid row height in pixels.")),
	mcp.WithNumber("columns", mcp.Description("Cards per grid row.")),
	mcp.WithString("tag", mcp.Description("Only cards of pages carrying this tag. Empty clears the filter.")),
)

var rebuildToolDef = mcp.NewTool("cards_rebuild",
	mcp.WithDescription("Drop the active graph's cards and index every page again."),
)
