package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/cardbox/internal/card"
	"github.com/hpungsan/cardbox/internal/config"
	"github.com/hpungsan/cardbox/internal/db"
	"github.com/hpungsan/cardbox/internal/host/localgraph"
	"github.com/hpungsan/cardbox/internal/notify"
	"github.com/hpungsan/cardbox/internal/ops"
	"github.com/hpungsan/cardbox/internal/session"
)

// testSetup creates a temporary database and config for testing.
func testSetup(t *testing.T) (*sql.DB, *config.Config, func()) {
	t.Helper()

	tmpDir := t.TempDir()
	database, err := db.Init(tmpDir)
	if err != nil {
		t.Fatalf("failed to init db: %v", err)
	}

	cfg := config.DefaultConfig()

	cleanup := func() {
		database.Close()
	}

	return database, cfg, cleanup
}

// testSessions opens a local graph with the given page files and activates it.
func testSessions(t *testing.T, database *sql.DB, cfg *config.Config, files map[string]string) *session.Manager {
	t.Helper()

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "pages"), 0700); err != nil {
		t.Fatal(err)
	}
	for rel, content := range files {
		if err := os.WriteFile(filepath.Join(root, filepath.FromSlash(rel)), []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}
	g, err := localgraph.Open(root, localgraph.WithGraphName("g"))
	if err != nil {
		t.Fatalf("failed to open graph: %v", err)
	}
	t.Cleanup(func() { g.Close() })

	m := session.NewManager(ops.Env{
		DB:    database,
		Cfg:   cfg,
		Host:  g,
		Hub:   notify.NewHub(),
		Sleep: func(context.Context, time.Duration) error { return nil },
	})
	t.Cleanup(m.Close)
	if _, err := m.Activate(context.Background()); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	return m
}

// seedCard stores a card directly.
func seedCard(t *testing.T, database *sql.DB, graph, name string, time int64) {
	t.Helper()
	_, err := db.Put(context.Background(), database, &card.Card{
		Graph: graph, Name: name, UUID: "uuid-" + name, Time: time, Summary: []string{name + " text"},
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

// resultJSON unmarshals a successful result's text content.
func resultJSON(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractErrorMessage(result))
	}
	var output map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &output); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	return output
}

func itemNames(t *testing.T, output map[string]any) []string {
	t.Helper()
	items, ok := output["items"].([]any)
	if !ok {
		t.Fatalf("no items array in %v", output)
	}
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.(map[string]any)["name"].(string)
	}
	return names
}

func TestHandleList(t *testing.T) {
	database, cfg, cleanup := testSetup(t)
	defer cleanup()

	seedCard(t, database, "g", "old", 100)
	seedCard(t, database, "g", "new", 300)
	seedCard(t, database, "g", "mid", 200)
	seedCard(t, database, "other", "x", 999)

	h := NewHandlers(database, cfg, nil)
	ctx := context.Background()

	tests := []struct {
		name      string
		args      map[string]any
		want      []string
		errorCode string
	}{
		{name: "recency order", args: map[string]any{"graph": "g"}, want: []string{"new", "mid", "old"}},
		{name: "limit", args: map[string]any{"graph": "g", "limit": 2}, want: []string{"new", "mid"}},
		{name: "offset", args: map[string]any{"graph": "g", "offset": 2}, want: []string{"old"}},
		{name: "no graph and no session", args: map[string]any{}, errorCode: "INVALID_REQUEST"},
		{name: "bad limit type", args: map[string]any{"graph": "g", "limit": "many"}, errorCode: "INVALID_REQUEST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.HandleList(ctx, makeRequest(tt.args))
			if err != nil {
				t.Fatalf("handler returned error: %v", err)
			}
			if tt.errorCode != "" {
				if !result.IsError {
					t.Fatal("expected error result")
				}
				assertErrorCode(t, result, tt.errorCode)
				return
			}

			output := resultJSON(t, result)
			got := itemNames(t, output)
			if len(got) != len(tt.want) {
				t.Fatalf("items = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("items[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestHandleList_Pagination(t *testing.T) {
	database, cfg, cleanup := testSetup(t)
	defer cleanup()

	for i, name := range []string{"a", "b", "c"} {
		seedCard(t, database, "g", name, int64(i+1))
	}

	h := NewHandlers(database, cfg, nil)
	result, err := h.HandleList(context.Background(), makeRequest(map[string]any{"graph": "g", "limit": 2}))
	if err != nil {
		t.Fatal(err)
	}

	output := resultJSON(t, result)
	pagination := output["pagination"].(map[string]any)
	if pagination["has_more"] != true {
		t.Errorf("has_more = %v, want true", pagination["has_more"])
	}
	if pagination["total"] != float64(3) {
		t.Errorf("total = %v, want 3", pagination["total"])
	}
}

func TestHandleFetch(t *testing.T) {
	database, cfg, cleanup := testSetup(t)
	defer cleanup()

	seedCard(t, database, "g", "Page One", 100)
	h := NewHandlers(database, cfg, nil)
	ctx := context.Background()

	result, err := h.HandleFetch(ctx, makeRequest(map[string]any{"graph": "g", "name": "Page One"}))
	if err != nil {
		t.Fatal(err)
	}
	output := resultJSON(t, result)
	if output["uuid"] != "uuid-Page One" {
		t.Errorf("uuid = %v", output["uuid"])
	}

	result, err = h.HandleFetch(ctx, makeRequest(map[string]any{"graph": "g", "name": "missing"}))
	if err != nil {
		t.Fatal(err)
	}
	assertErrorCode(t, result, "NOT_FOUND")

	result, err = h.HandleFetch(ctx, makeRequest(map[string]any{"graph": "g"}))
	if err != nil {
		t.Fatal(err)
	}
	assertErrorCode(t, result, "INVALID_REQUEST")
}

func TestHandleFetchMany(t *testing.T) {
	database, cfg, cleanup := testSetup(t)
	defer cleanup()

	seedCard(t, database, "g", "a", 100)
	seedCard(t, database, "g", "b", 200)
	h := NewHandlers(database, cfg, nil)

	result, err := h.HandleFetchMany(context.Background(), makeRequest(map[string]any{
		"graph": "g",
		"items": []any{
			map[string]any{"name": "a"},
			map[string]any{"name": "b"},
			map[string]any{"name": "zzz"},
		},
	}))
	if err != nil {
		t.Fatal(err)
	}

	output := resultJSON(t, result)
	got := itemNames(t, output)
	if len(got) != 2 || got[0] != "b" || got[1] != "a" {
		t.Errorf("items = %v, want [b a]", got)
	}
	errs := output["errors"].([]any)
	if len(errs) != 1 {
		t.Fatalf("errors = %v, want one", errs)
	}
	if code := errs[0].(map[string]any)["code"]; code != "NOT_FOUND" {
		t.Errorf("error code = %v, want NOT_FOUND", code)
	}
}

func TestHandleCount_DefaultsToActiveGraph(t *testing.T) {
	database, cfg, cleanup := testSetup(t)
	defer cleanup()

	m := testSessions(t, database, cfg, map[string]string{
		"pages/a.md": "- alpha\n",
		"pages/b.md": "- beta\n",
		"pages/c.md": "",
	})
	h := NewHandlers(database, cfg, m)

	result, err := h.HandleCount(context.Background(), makeRequest(map[string]any{}))
	if err != nil {
		t.Fatal(err)
	}
	output := resultJSON(t, result)
	if output["graph"] != "g" {
		t.Errorf("graph = %v, want g", output["graph"])
	}
	if output["count"] != float64(2) {
		t.Errorf("count = %v, want 2 (empty page has no card)", output["count"])
	}
}

func TestHandleWindow(t *testing.T) {
	database, cfg, cleanup := testSetup(t)
	defer cleanup()

	for i := 0; i < 30; i++ {
		seedCard(t, database, "g", string(rune('a'+i%26))+string(rune('a'+i/26)), int64(i+1))
	}
	h := NewHandlers(database, cfg, nil)
	ctx := context.Background()

	// 2 visible rows of 2 columns, 3 look-ahead screens: (0 + 2*4) * 2 = 16
	args := map[string]any{"graph": "g", "scroll_top": 0, "viewport_height": 200, "row_height": 100, "columns": 2}
	result, err := h.HandleWindow(ctx, makeRequest(args))
	if err != nil {
		t.Fatal(err)
	}
	output := resultJSON(t, result)
	if output["limit"] != float64(16) {
		t.Fatalf("limit = %v, want 16", output["limit"])
	}
	if n := len(itemNames(t, output)); n != 16 {
		t.Errorf("items = %d, want 16", n)
	}

	// Scrolling down grows the window
	args["scroll_top"] = 300
	output = resultJSON(t, mustCall(t, h.HandleWindow, args))
	if output["limit"] != float64(22) {
		t.Errorf("limit = %v, want 22", output["limit"])
	}

	// Scrolling back up keeps it
	args["scroll_top"] = 0
	output = resultJSON(t, mustCall(t, h.HandleWindow, args))
	if output["limit"] != float64(22) {
		t.Errorf("limit = %v, want 22 after scrolling up", output["limit"])
	}
}

func TestHandleWindow_TagFilter(t *testing.T) {
	database, cfg, cleanup := testSetup(t)
	defer cleanup()

	m := testSessions(t, database, cfg, map[string]string{
		"pages/a.md": "tags:: reading\n- alpha\n",
		"pages/b.md": "- beta\n",
		"pages/c.md": "tags:: reading\n- gamma\n",
	})
	h := NewHandlers(database, cfg, m)

	output := resultJSON(t, mustCall(t, h.HandleWindow, map[string]any{"tag": "reading"}))
	got := itemNames(t, output)
	if len(got) != 2 {
		t.Fatalf("items = %v, want the two tagged pages", got)
	}
	if output["tag"] != "reading" {
		t.Errorf("tag = %v", output["tag"])
	}

	output = resultJSON(t, mustCall(t, h.HandleWindow, map[string]any{
		"tag": "", "viewport_height": 100, "row_height": 100, "columns": 4,
	}))
	if got := itemNames(t, output); len(got) != 3 {
		t.Errorf("items = %v, want all three after clearing the filter", got)
	}
}

func TestHandleRebuild(t *testing.T) {
	database, cfg, cleanup := testSetup(t)
	defer cleanup()

	ctx := context.Background()
	if result, _ := NewHandlers(database, cfg, nil).HandleRebuild(ctx, makeRequest(nil)); !result.IsError {
		t.Fatal("expected NO_SESSION without a session manager")
	} else {
		assertErrorCode(t, result, "NO_SESSION")
	}

	m := testSessions(t, database, cfg, map[string]string{
		"pages/a.md": "- alpha\n",
	})
	seedCard(t, database, "g", "stale", 1)
	h := NewHandlers(database, cfg, m)

	output := resultJSON(t, mustCall(t, h.HandleRebuild, nil))
	if output["written"] != float64(1) {
		t.Errorf("written = %v, want 1", output["written"])
	}
	if output["run_id"] == "" {
		t.Error("expected a run id")
	}

	n, err := db.Count(ctx, database, "g")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1 (stale card removed)", n)
	}
}

func TestServerRegistration(t *testing.T) {
	database, cfg, cleanup := testSetup(t)
	defer cleanup()

	s := NewServer(database, cfg, nil, "test")
	tools := s.ListTools()
	if tools == nil {
		t.Fatal("expected tools to be registered, got nil")
	}

	expectedTools := []string{
		"cards_list",
		"cards_fetch",
		"cards_fetch_many",
		"cards_count",
		"cards_window",
		"cards_rebuild",
	}

	if len(tools) != len(expectedTools) {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(expectedTools))
	}

	for _, name := range expectedTools {
		if _, ok := tools[name]; !ok {
			t.Errorf("missing registered tool: %s", name)
		}
	}
}

func TestServerRegistration_WithDisabledTools(t *testing.T) {
	database, cfg, cleanup := testSetup(t)
	defer cleanup()

	cfg.DisabledTools = []string{"cards_rebuild", "cards_rebuild"}
	s := NewServer(database, cfg, nil, "test")
	tools := s.ListTools()

	if len(tools) != 5 {
		t.Errorf("registered tool count = %d, want 5", len(tools))
	}
	if _, ok := tools["cards_rebuild"]; ok {
		t.Error("disabled tool 'cards_rebuild' should not be registered")
	}
}

func TestServerRegistration_AllToolsDisabled(t *testing.T) {
	database, cfg, cleanup := testSetup(t)
	defer cleanup()

	cfg.DisabledTools = AllToolNames()
	s := NewServer(database, cfg, nil, "test")
	tools := s.ListTools()

	if len(tools) != 0 {
		t.Errorf("registered tool count = %d, want 0 (all disabled)", len(tools))
	}
}

func TestValidateDisabledTools(t *testing.T) {
	unknown := ValidateDisabledTools([]string{"cards_list", "pages_search"})
	if len(unknown) != 1 || unknown[0] != "pages_search" {
		t.Errorf("unknown = %v, want [pages_search]", unknown)
	}
}

func TestErrorResult_HidesInternalDetails(t *testing.T) {
	result := errorResult(os.ErrPermission)
	assertErrorCode(t, result, "INTERNAL")

	text := result.Content[0].(mcp.TextContent).Text
	if strings.Contains(text, "permission") {
		t.Errorf("internal error leaked: %s", text)
	}
}

func mustCall(t *testing.T, fn ToolHandlerFunc, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	result, err := fn(context.Background(), makeRequest(args))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	return result
}

func assertErrorCode(t *testing.T, result *mcp.CallToolResult, expectedCode string) {
	t.Helper()

	if len(result.Content) == 0 {
		t.Errorf("no content in error result")
		return
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Errorf("content is not TextContent")
		return
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(text.Text), &payload); err != nil {
		t.Errorf("failed to unmarshal error payload: %v", err)
		return
	}

	errorObj, ok := payload["error"].(map[string]any)
	if !ok {
		t.Errorf("no error object in payload")
		return
	}

	code, ok := errorObj["code"].(string)
	if !ok {
		t.Errorf("no code in error object")
		return
	}

	if code != expectedCode {
		t.Errorf("error code = %q, want %q", code, expectedCode)
	}
}

func extractErrorMessage(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return "<no content>"
	}
	if text, ok := result.Content[0].(mcp.TextContent); ok {
		return text.Text
	}
	return "<non-text content>"
}
