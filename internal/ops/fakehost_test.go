package ops

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hpungsan/cardbox/internal/card"
	"github.com/hpungsan/cardbox/internal/change"
	"github.com/hpungsan/cardbox/internal/config"
	"github.com/hpungsan/cardbox/internal/db"
	"github.com/hpungsan/cardbox/internal/host"
	"github.com/hpungsan/cardbox/internal/notify"
)

// fakeHost is an in-memory host.Host.
type fakeHost struct {
	mu        sync.Mutex
	pages     []host.Page
	blocks    map[string][]*card.Block // by lower-cased name
	failPages map[string]bool
	allErr    error
	subs      map[int]func(change.Changes)
	nextSub   int
	unsubs    int
	configs   host.UserConfigs
	tags      map[string][]string
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		blocks:    map[string][]*card.Block{},
		failPages: map[string]bool{},
		subs:      map[int]func(change.Changes){},
		configs:   host.UserConfigs{CurrentGraph: "g", PreferredFormat: host.FormatMarkdown},
		tags:      map[string][]string{},
	}
}

// addPage registers a page with one block per content line.
func (h *fakeHost) addPage(name string, updatedAt int64, contents ...string) host.Page {
	h.mu.Lock()
	defer h.mu.Unlock()
	p := host.Page{UUID: "uuid-" + name, Name: name, UpdatedAt: updatedAt}
	h.pages = append(h.pages, p)
	h.blocks[strings.ToLower(name)] = textBlocks(contents...)
	return p
}

func (h *fakeHost) addJournal(name string, updatedAt int64, contents ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pages = append(h.pages, host.Page{UUID: "uuid-" + name, Name: name, Journal: true, UpdatedAt: updatedAt})
	h.blocks[strings.ToLower(name)] = textBlocks(contents...)
}

func (h *fakeHost) setBlocks(name string, contents ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.blocks[strings.ToLower(name)] = textBlocks(contents...)
}

func (h *fakeHost) AllPages(ctx context.Context) ([]host.Page, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.allErr != nil {
		return nil, h.allErr
	}
	return append([]host.Page(nil), h.pages...), nil
}

func (h *fakeHost) PageBlocksTree(ctx context.Context, idOrName string) ([]*card.Block, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	name := idOrName
	for _, p := range h.pages {
		if p.UUID == idOrName {
			name = p.Name
		}
	}
	if h.failPages[strings.ToLower(name)] {
		return nil, fmt.Errorf("host rejected %q", name)
	}
	b, ok := h.blocks[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("page %q: %w", name, host.ErrNotExist)
	}
	return b, nil
}

func (h *fakeHost) Page(ctx context.Context, name string) (*host.Page, error) {
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

func (h *fakeHost) OnChanged(fn func(change.Changes)) func() {
	h.mu.Lock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.unsubs++
			h.mu.Unlock()
		})
	}
}

func (h *fakeHost) UserConfigs(ctx context.Context) (host.UserConfigs, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.configs, nil
}

func (h *fakeHost) PagesWithTag(ctx context.Context, tag string) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tags[strings.ToLower(tag)], nil
}

// fakeDir is a host.DirHandle over a map of file names to mtimes.
type fakeDir struct {
	times map[string]int64
}

func (d *fakeDir) Name() string { return "pages" }

func (d *fakeDir) FileModTime(ctx context.Context, fileName string) (int64, error) {
	t, ok := d.times[fileName]
	if !ok {
		return 0, fmt.Errorf("%s: %w", fileName, host.ErrNotExist)
	}
	return t, nil
}

func textBlocks(contents ...string) []*card.Block {
	blocks := make([]*card.Block, 0, len(contents))
	for _, c := range contents {
		blocks = append(blocks, &card.Block{Content: c})
	}
	return blocks
}

// newTestEnv opens a temp store and wires it to h with no batch delay.
func newTestEnv(t *testing.T, h host.Host) *Env {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	return &Env{
		DB:    database,
		Cfg:   config.DefaultConfig(),
		Host:  h,
		Hub:   notify.NewHub(),
		Now:   func() time.Time { return time.UnixMilli(5_000_000) },
		Sleep: func(context.Context, time.Duration) error { return nil },
	}
}

func modifiedBatch(name string) change.Changes {
	return change.Changes{
		Blocks: []change.Entity{{ID: 1, Path: "pages/" + name + ".md"}},
		TxData: []change.Datom{{1, change.AttrLastModified, 1, 2, true}},
	}
}

func nameBatch(name string, added bool) change.Changes {
	return change.Changes{
		TxData: []change.Datom{{1, change.AttrOriginalName, name, 2, added}},
	}
}

func mustGet(t *testing.T, database *sql.DB, graph, name string) *card.Card {
	t.Helper()
	c, err := db.Get(context.Background(), database, card.Key{Graph: graph, Name: name})
	if err != nil {
		t.Fatalf("db.Get failed: %v", err)
	}
	return c
}
