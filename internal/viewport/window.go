// Package viewport keeps the card grid's query bounded: a window whose row
// limit grows with scrolling, a tag filter that bypasses it, and a keyboard
// cursor over the rendered grid.
package viewport

import (
	"context"
	"database/sql"
	"math"
	"strings"
	"sync"

	"github.com/hpungsan/cardbox/internal/card"
	"github.com/hpungsan/cardbox/internal/db"
	"github.com/hpungsan/cardbox/internal/errors"
	"github.com/hpungsan/cardbox/internal/host"
	"github.com/hpungsan/cardbox/internal/notify"
	"go.uber.org/zap"
)

// DefaultLookAheadScreens is how many screens past the viewport are loaded.
const DefaultLookAheadScreens = 3

// Metrics describe the grid as currently laid out.
type Metrics struct {
	ScrollTop      float64 `json:"scroll_top"`
	ViewportHeight float64 `json:"viewport_height"`
	RowHeight      float64 `json:"row_height"`
	Columns        int     `json:"columns"`
}

// Window is the bounded recency query behind the card grid of one graph.
// Its limit never shrinks, so cards already shown stay put when scrolling up.
type Window struct {
	db        *sql.DB
	graph     string
	lookAhead int
	tags      host.TagResolver
	logger    *zap.Logger

	mu      sync.Mutex
	limit   int
	tag     string
	tagKeys []card.Key
}

// Option configures a Window.
type Option func(*Window)

// WithLookAhead sets the number of extra screens to load (default: 3).
func WithLookAhead(screens int) Option {
	return func(w *Window) {
		if screens >= 0 {
			w.lookAhead = screens
		}
	}
}

// WithTagResolver enables tag filtering.
func WithTagResolver(r host.TagResolver) Option {
	return func(w *Window) { w.tags = r }
}

// WithLogger sets the logger (default: no-op).
func WithLogger(logger *zap.Logger) Option {
	return func(w *Window) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithInitialLimit sets the starting limit before any scroll is reported.
func WithInitialLimit(n int) Option {
	return func(w *Window) {
		if n > 0 {
			w.limit = n
		}
	}
}

// NewWindow returns a window over the cards of graph.
func NewWindow(database *sql.DB, graph string, opts ...Option) *Window {
	w := &Window{
		db:        database,
		graph:     graph,
		lookAhead: DefaultLookAheadScreens,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named("viewport")
	return w
}

// Graph returns the graph the window reads.
func (w *Window) Graph() string {
	return w.graph
}

// Limit returns the current row limit.
func (w *Window) Limit() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.limit
}

// Scroll recomputes the limit from the layout and returns it. The limit
// covers every row scrolled past plus the visible rows and the look-ahead
// screens, times the column count. It only ever grows.
func (w *Window) Scroll(m Metrics) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	if want := limitFor(m, w.lookAhead); want > w.limit {
		w.limit = want
	}
	return w.limit
}

func limitFor(m Metrics, lookAhead int) int {
	if m.RowHeight <= 0 || m.Columns <= 0 || m.ViewportHeight <= 0 {
		return 0
	}
	scrolled := int(math.Floor(math.Max(m.ScrollTop, 0) / m.RowHeight))
	visible := int(math.Ceil(m.ViewportHeight / m.RowHeight))
	return (scrolled + visible*(1+lookAhead)) * m.Columns
}

// SetTag filters the window to pages carrying tag; "" clears the filter.
func (w *Window) SetTag(ctx context.Context, tag string) error {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		w.mu.Lock()
		w.tag, w.tagKeys = "", nil
		w.mu.Unlock()
		return nil
	}
	if w.tags == nil {
		return errors.NewInvalidRequest("tag filtering is not supported by this host")
	}

	names, err := w.tags.PagesWithTag(ctx, tag)
	if err != nil {
		return errors.NewHostUnavailable("pagesWithTag", err)
	}
	keys := make([]card.Key, len(names))
	for i, n := range names {
		keys[i] = card.Key{Graph: w.graph, Name: n}
	}

	w.mu.Lock()
	w.tag, w.tagKeys = tag, keys
	w.mu.Unlock()
	w.logger.Debug("tag filter set", zap.String("tag", tag), zap.Int("pages", len(keys)))
	return nil
}

// Tag returns the active tag filter, or "".
func (w *Window) Tag() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tag
}

// Cards runs the window's query. With a tag filter the whole filtered set is
// returned; otherwise the newest Limit() cards. A zero limit returns nothing.
func (w *Window) Cards(ctx context.Context) ([]card.Card, error) {
	w.mu.Lock()
	limit, tag, keys := w.limit, w.tag, w.tagKeys
	w.mu.Unlock()

	if tag != "" {
		return db.ListByKeys(ctx, w.db, keys)
	}
	if limit <= 0 {
		return []card.Card{}, nil
	}
	return db.ListByRecency(ctx, w.db, w.graph, limit, 0)
}

// Follow calls fn with the window's cards now and again after every store
// mutation of the window's graph, until ctx is done. Progress events re-run
// the query too so cards appear while a rebuild is running. With a nil hub
// there is nothing to follow: fn is called once.
func (w *Window) Follow(ctx context.Context, hub *notify.Hub, fn func([]card.Card, error)) {
	if hub == nil {
		fn(w.Cards(ctx))
		return
	}
	id, events := hub.Subscribe(0)
	defer hub.Unsubscribe(id)

	fn(w.Cards(ctx))
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Graph != w.graph {
				continue
			}
			// Coalesce a burst into one query
		drain:
			for {
				select {
				case _, ok := <-events:
					if !ok {
						return
					}
				default:
					break drain
				}
			}
			fn(w.Cards(ctx))
		}
	}
}
