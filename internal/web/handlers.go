package web

import (
	"database/sql"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/cardbox/internal/card"
	"github.com/hpungsan/cardbox/internal/config"
	"github.com/hpungsan/cardbox/internal/errors"
	"github.com/hpungsan/cardbox/internal/host"
	"github.com/hpungsan/cardbox/internal/ops"
	"github.com/hpungsan/cardbox/internal/session"
	"github.com/hpungsan/cardbox/internal/viewport"
)

// Grid layout defaults used when the client does not report its own.
const (
	defaultViewportHeight = 720
	defaultRowHeight      = 200
	defaultColumns        = 4
)

// assetNameRegex limits served assets to plain image file names.
var assetNameRegex = regexp.MustCompile(`(?i)^[^/\\]+\.(png|jpe?g)$`)

// Handlers contains HTTP route handlers for the card grid.
type Handlers struct {
	db       *sql.DB
	cfg      *config.Config
	sessions *session.Manager
	renderer *Renderer
	logger   *zap.Logger

	mu      sync.Mutex
	windows map[string]*viewport.Window
}

// gridState is one evaluation of a graph's card window.
type gridState struct {
	graph   string
	window  *viewport.Window
	metrics viewport.Metrics
	limit   int
	total   int
	items   []card.Card
}

// APICardsResponse is the JSON body of GET /api/cards.
type APICardsResponse struct {
	Graph string      `json:"graph"`
	Limit int         `json:"limit"`
	Tag   string      `json:"tag,omitempty"`
	Total int         `json:"total"`
	Items []card.Card `json:"items"`
}

// graph resolves the graph of a request: the "graph" query parameter, else
// the active session's graph.
func (h *Handlers) graph(r *http.Request) string {
	if g := strings.TrimSpace(r.URL.Query().Get("graph")); g != "" {
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
	opts := []viewport.Option{
		viewport.WithLookAhead(h.cfg.LookAheadScreens),
		viewport.WithLogger(h.logger),
	}
	if h.sessions != nil {
		if r, ok := h.sessions.Env().Host.(host.TagResolver); ok {
			opts = append(opts, viewport.WithTagResolver(r))
		}
	}
	w := viewport.NewWindow(h.db, graph, opts...)
	h.windows[graph] = w
	return w
}

// evaluate applies the request's tag and scroll position to the graph's
// window and runs its query.
func (h *Handlers) evaluate(r *http.Request) (*gridState, error) {
	graph := h.graph(r)
	if graph == "" {
		return nil, errors.NewNoSession()
	}

	w := h.window(graph)
	q := r.URL.Query()
	if q.Has("tag") {
		if err := w.SetTag(r.Context(), q.Get("tag")); err != nil {
			return nil, err
		}
	}

	m := viewport.Metrics{
		ScrollTop:      parseFloatParam(r, "scroll", 0),
		ViewportHeight: parseFloatParam(r, "vh", defaultViewportHeight),
		RowHeight:      parseFloatParam(r, "row", defaultRowHeight),
		Columns:        parseIntParam(r, "cols", defaultColumns),
	}
	limit := w.Scroll(m)

	items, err := w.Cards(r.Context())
	if err != nil {
		return nil, err
	}
	count, err := ops.Count(r.Context(), h.db, ops.CountInput{Graph: graph})
	if err != nil {
		return nil, err
	}

	return &gridState{
		graph:   graph,
		window:  w,
		metrics: m,
		limit:   limit,
		total:   count.Count,
		items:   items,
	}, nil
}

// HandleCards handles GET /cards: the card grid.
func (h *Handlers) HandleCards(w http.ResponseWriter, r *http.Request) {
	st, err := h.evaluate(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	cols := max(st.metrics.Columns, 1)
	rows := 1
	if st.metrics.RowHeight > 0 {
		rows = max(int(st.metrics.ViewportHeight/st.metrics.RowHeight), 1)
	}
	cursor := viewport.Cursor{
		Index:  parseIntParam(r, "sel", 0),
		Cols:   cols,
		Rows:   rows,
		TopRow: int(st.metrics.ScrollTop / max(st.metrics.RowHeight, 1)),
	}
	cursor.Clamp(len(st.items))
	if cursor.Index < 0 {
		cursor.Index = 0
	}
	if move := viewport.Direction(r.URL.Query().Get("move")); move != "" {
		cursor.Move(move)
	}

	moves := make(map[string]int, 4)
	for _, d := range []viewport.Direction{viewport.Up, viewport.Down, viewport.Left, viewport.Right} {
		c := cursor
		c.Move(d)
		moves[string(d)] = c.Index
	}

	dateFormat := ""
	hasDir := false
	if h.sessions != nil {
		if sess := h.sessions.Current(); sess != nil && sess.Graph == st.graph {
			dateFormat = sess.DateFormat
			hasDir = sess.HasDir()
		}
	}

	views := make([]CardView, len(st.items))
	for i, c := range st.items {
		views[i] = CardView{
			Index:    i,
			Name:     c.Name,
			Body:     renderSummary(c.Summary),
			ImageURL: assetURL(c.Image),
			Time:     viewport.FormatCardTime(c.Time, dateFormat, time.Local),
			Selected: i == cursor.Index,
		}
	}

	tag := st.window.Tag()
	h.renderer.renderPage(w, r, "cards", GridPageData{
		PageData: PageData{
			Title:   "Cards",
			Version: h.renderer.version,
			Graph:   st.graph,
		},
		Cards:      views,
		Total:      st.total,
		Limit:      st.limit,
		Scroll:     st.metrics.ScrollTop,
		Tag:        tag,
		Selected:   cursor.Index,
		HasDir:     hasDir,
		HasMore:    tag == "" && len(st.items) < st.total,
		NextScroll: st.metrics.ScrollTop + st.metrics.ViewportHeight,
		Moves:      moves,
	})
}

// HandleAPICards handles GET /api/cards: the card window as JSON.
func (h *Handlers) HandleAPICards(w http.ResponseWriter, r *http.Request) {
	st, err := h.evaluate(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	renderJSON(w, http.StatusOK, APICardsResponse{
		Graph: st.graph,
		Limit: st.limit,
		Tag:   st.window.Tag(),
		Total: st.total,
		Items: st.items,
	})
}

// HandleRebuild handles POST /rebuild: clear and re-index the active graph.
func (h *Handlers) HandleRebuild(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		h.renderer.renderError(w, r, errors.NewNoSession())
		return
	}

	result, err := h.sessions.Rebuild(r.Context())
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	// JSON request
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	// Default: redirect
	http.Redirect(w, r, "/cards", http.StatusFound)
}

// HandleDirectory handles POST /directory: select the graph's pages folder.
// Choosing any other folder shows a message and changes nothing.
func (h *Handlers) HandleDirectory(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}
	if h.sessions == nil {
		h.renderer.renderError(w, r, errors.NewNoSession())
		return
	}

	result, err := h.sessions.SelectDirectory(r.Context(), r.FormValue("path"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	// JSON request
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	// Default: redirect
	http.Redirect(w, r, "/cards", http.StatusFound)
}

// HandleAsset handles GET /assets/{file}: images embedded in cards, served
// from the active local graph's assets folder.
func (h *Handlers) HandleAsset(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("file")
	graph := ""
	if h.sessions != nil {
		graph = h.sessions.ActiveGraph()
	}
	if graph == "" || !assetNameRegex.MatchString(name) || strings.Contains(name, "..") {
		http.NotFound(w, r)
		return
	}

	path := filepath.Join(host.GraphPath(graph), "assets", name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, path)
}

// assetURL maps a card image to its URL, or "" for none.
func assetURL(image string) string {
	if image == "" {
		return ""
	}
	return "/assets/" + url.PathEscape(image)
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// parseFloatParam parses a float query parameter with a default value.
func parseFloatParam(r *http.Request, name string, defaultVal float64) float64 {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return defaultVal
	}
	return v
}
