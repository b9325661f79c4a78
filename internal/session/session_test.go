package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hpungsan/cardbox/internal/card"
	"github.com/hpungsan/cardbox/internal/change"
	"github.com/hpungsan/cardbox/internal/config"
	"github.com/hpungsan/cardbox/internal/db"
	"github.com/hpungsan/cardbox/internal/errors"
	"github.com/hpungsan/cardbox/internal/host"
	"github.com/hpungsan/cardbox/internal/notify"
	"github.com/hpungsan/cardbox/internal/ops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubHost is a minimal in-memory host.Host that counts subscriptions.
type stubHost struct {
	mu      sync.Mutex
	graph   string
	pages   []host.Page
	blocks  map[string][]*card.Block
	subs    map[int]func(change.Changes)
	nextSub int
	unsubs  int
}

func newStubHost(graph string) *stubHost {
	return &stubHost{
		graph:  graph,
		blocks: map[string][]*card.Block{},
		subs:   map[int]func(change.Changes){},
	}
}

func (h *stubHost) addPage(name string, updatedAt int64, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pages = append(h.pages, host.Page{UUID: "uuid-" + name, Name: name, UpdatedAt: updatedAt})
	h.blocks[strings.ToLower(name)] = []*card.Block{{Content: content}}
}

func (h *stubHost) setGraph(graph string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.graph = graph
}

func (h *stubHost) AllPages(ctx context.Context) ([]host.Page, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]host.Page(nil), h.pages...), nil
}

func (h *stubHost) PageBlocksTree(ctx context.Context, idOrName string) ([]*card.Block, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	name := strings.TrimPrefix(idOrName, "uuid-")
	b, ok := h.blocks[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("page %q: %w", name, host.ErrNotExist)
	}
	return b, nil
}

func (h *stubHost) Page(ctx context.Context, name string) (*host.Page, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range h.pages {
		if strings.EqualFold(p.Name, name) {
			cp := p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("page %q: %w", name, host.ErrNotExist)
}

func (h *stubHost) OnChanged(fn func(change.Changes)) func() {
	h.mu.Lock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.unsubs++
		h.mu.Unlock()
	}
}

func (h *stubHost) UserConfigs(ctx context.Context) (host.UserConfigs, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return host.UserConfigs{
		CurrentGraph:        h.graph,
		PreferredLanguage:   "en",
		PreferredDateFormat: "yyyy-MM-dd",
		PreferredFormat:     host.FormatMarkdown,
	}, nil
}

// emit delivers ch to every live subscriber, serially.
func (h *stubHost) emit(ch change.Changes) {
	h.mu.Lock()
	fns := make([]func(change.Changes), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(ch)
	}
}

func (h *stubHost) counts() (subs, unsubs int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs), h.unsubs
}

func newTestManager(t *testing.T, h host.Host) *Manager {
	t.Helper()
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	m := NewManager(ops.Env{
		DB:    database,
		Cfg:   config.DefaultConfig(),
		Host:  h,
		Hub:   notify.NewHub(),
		Now:   func() time.Time { return time.UnixMilli(9_000_000) },
		Sleep: func(context.Context, time.Duration) error { return nil },
	})
	t.Cleanup(m.Close)
	return m
}

func TestActivate_LoadsEmptyGraph(t *testing.T) {
	h := newStubHost("g1")
	h.addPage("A", 100, "alpha")
	h.addPage("B", 200, "beta")
	m := newTestManager(t, h)

	out, err := m.Activate(context.Background())
	require.NoError(t, err)
	require.NotNil(t, out.Rebuild)
	assert.Equal(t, 2, out.Rebuild.Written)
	assert.Equal(t, "g1", out.Session.Graph)
	assert.Equal(t, "yyyy-MM-dd", out.Session.DateFormat)

	items, err := db.ListByRecency(context.Background(), m.Env().DB, "g1", 0, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "B", items[0].Name)
	assert.Equal(t, "A", items[1].Name)
}

func TestActivate_KeepsLoadedCards(t *testing.T) {
	h := newStubHost("g1")
	h.addPage("A", 100, "alpha")
	m := newTestManager(t, h)

	_, err := m.Activate(context.Background())
	require.NoError(t, err)

	out, err := m.Activate(context.Background())
	require.NoError(t, err)
	assert.Nil(t, out.Rebuild, "cards already present, no rebuild")
}

func TestActivate_SwitchReleasesPreviousSubscription(t *testing.T) {
	h := newStubHost("g1")
	m := newTestManager(t, h)

	_, err := m.Activate(context.Background())
	require.NoError(t, err)
	h.setGraph("g2")
	_, err = m.Activate(context.Background())
	require.NoError(t, err)
	h.setGraph("g3")
	_, err = m.Activate(context.Background())
	require.NoError(t, err)

	subs, unsubs := h.counts()
	assert.Equal(t, 1, subs, "one live subscription")
	assert.Equal(t, 2, unsubs)
	assert.Equal(t, "g3", m.ActiveGraph())

	m.Close()
	m.Close()
	subs, unsubs = h.counts()
	assert.Equal(t, 0, subs)
	assert.Equal(t, 3, unsubs, "each subscription released exactly once")
}

func TestLiveSync_AppliesEventsToActiveGraph(t *testing.T) {
	h := newStubHost("g1")
	h.addPage("A", 100, "alpha")
	m := newTestManager(t, h)
	_, err := m.Activate(context.Background())
	require.NoError(t, err)

	h.addPage("New", 0, "fresh text")
	h.emit(change.Changes{
		Blocks: []change.Entity{{ID: 1, Path: "pages/New.md"}},
		TxData: []change.Datom{{1, change.AttrLastModified, 1, 2, true}},
	})

	c, err := db.Get(context.Background(), m.Env().DB, card.Key{Graph: "g1", Name: "New"})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, []string{"fresh text"}, c.Summary)
	assert.Equal(t, int64(9_000_000), c.Time)

	h.emit(change.Changes{TxData: []change.Datom{{1, change.AttrOriginalName, "A", 3, false}}})
	c, err = db.Get(context.Background(), m.Env().DB, card.Key{Graph: "g1", Name: "A"})
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestWritesForInactiveGraphAreDropped(t *testing.T) {
	h := newStubHost("g1")
	h.addPage("A", 100, "alpha")
	m := newTestManager(t, h)
	_, err := m.Activate(context.Background())
	require.NoError(t, err)

	out, err := ops.Rebuild(context.Background(), m.Env(), ops.RebuildInput{Graph: "stale"})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Written)
	assert.Equal(t, 1, out.Dropped)
}

func TestRebuild_NoSession(t *testing.T) {
	m := newTestManager(t, newStubHost("g1"))
	_, err := m.Rebuild(context.Background())
	assert.True(t, errors.Is(err, errors.ErrNoSession))
}

func TestRebuild_ReplacesCards(t *testing.T) {
	h := newStubHost("g1")
	h.addPage("A", 100, "alpha")
	m := newTestManager(t, h)
	_, err := m.Activate(context.Background())
	require.NoError(t, err)

	// A card for a page the host no longer reports
	_, err = db.Put(context.Background(), m.Env().DB, &card.Card{Graph: "g1", Name: "Gone", UUID: "x", Time: 1, Summary: []string{"x"}})
	require.NoError(t, err)

	out, err := m.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, out.Written)

	n, err := db.Count(context.Background(), m.Env().DB, "g1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOpenPagesDir(t *testing.T) {
	root := t.TempDir()
	pages := filepath.Join(root, "pages")
	require.NoError(t, os.Mkdir(pages, 0o755))
	other := filepath.Join(root, "journals")
	require.NoError(t, os.Mkdir(other, 0o755))

	dir, err := OpenPagesDir(pages + string(filepath.Separator))
	require.NoError(t, err)
	assert.Equal(t, "pages", dir.Name())

	_, err = OpenPagesDir(other)
	assert.True(t, errors.Is(err, errors.ErrWrongDirectory))

	_, err = OpenPagesDir(root)
	assert.True(t, errors.Is(err, errors.ErrWrongDirectory))

	_, err = OpenPagesDir(filepath.Join(root, "missing", "pages"))
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = OpenPagesDir("  ")
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestSelectDirectory(t *testing.T) {
	root := t.TempDir()
	pages := filepath.Join(root, "pages")
	require.NoError(t, os.Mkdir(pages, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pages, "A.md"), []byte("- alpha\n"), 0o644))
	mtime := time.UnixMilli(1_700_000_000_000)
	require.NoError(t, os.Chtimes(filepath.Join(pages, "A.md"), mtime, mtime))

	h := newStubHost("g1")
	h.addPage("A", 5, "alpha")
	h.addPage("NoFile", 6, "beta")
	m := newTestManager(t, h)

	_, err := m.SelectDirectory(context.Background(), pages)
	assert.True(t, errors.Is(err, errors.ErrNoSession))

	_, err = m.Activate(context.Background())
	require.NoError(t, err)

	_, err = m.SelectDirectory(context.Background(), root)
	require.True(t, errors.Is(err, errors.ErrWrongDirectory))
	assert.False(t, m.Current().HasDir(), "wrong folder changes nothing")

	out, err := m.SelectDirectory(context.Background(), pages)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Written)
	assert.True(t, m.Current().HasDir())

	c, err := db.Get(context.Background(), m.Env().DB, card.Key{Graph: "g1", Name: "A"})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, mtime.UnixMilli(), c.Time, "file time replaces host time")

	c, err = db.Get(context.Background(), m.Env().DB, card.Key{Graph: "g1", Name: "NoFile"})
	require.NoError(t, err)
	assert.Nil(t, c, "page without a file is skipped")
}
