// Package localgraph is a host backed by a graph directory on disk: markdown
// and org files under pages/ and journals/, settings in logseq/config.edn.
package localgraph

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/hpungsan/cardbox/internal/card"
	"github.com/hpungsan/cardbox/internal/change"
	"github.com/hpungsan/cardbox/internal/codec"
	"github.com/hpungsan/cardbox/internal/host"
	"go.uber.org/zap"
)

const (
	// PagesDir holds regular pages
	PagesDir = "pages"
	// JournalsDir holds daily journal pages
	JournalsDir = "journals"

	defaultDebounce   = 200 * time.Millisecond
	defaultDateFormat = "MMM do, yyyy"
	defaultLanguage   = "en"
)

var (
	preferredFormatRegex = regexp.MustCompile(`:preferred-format\s+"?:?([A-Za-z]+)"?`)
	titleFormatRegex     = regexp.MustCompile(`:journal/page-title-format\s+"([^"]*)"`)
)

// cachedPage is the in-memory identity of one page file.
type cachedPage struct {
	page      host.Page
	lowerName string
	relPath   string // slash separated, relative to the graph root
	tags      []string
}

// Graph implements host.Host for a local graph directory. Page identities
// are cached in memory; block trees are read from disk on every request.
type Graph struct {
	root      string
	graphName string
	language  string
	debounce  time.Duration
	logger    *zap.Logger

	mu     sync.RWMutex
	pages  map[string]*cachedPage // lower-cased name
	byUUID map[string]*cachedPage
	byPath map[string]*cachedPage

	subMu   sync.Mutex
	subs    map[int]func(change.Changes)
	nextSub int

	eventMu    sync.Mutex
	entities   map[string]int64
	nextEntity int64
	nextTx     int64
	timers     map[string]*time.Timer

	watcher   *fsnotify.Watcher
	queue     chan change.Changes
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Graph.
type Option func(*Graph)

// WithLogger sets the logger (default: no-op).
func WithLogger(logger *zap.Logger) Option {
	return func(g *Graph) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithGraphName overrides the graph identifier (default: "logseq_local_" + root).
func WithGraphName(name string) Option {
	return func(g *Graph) {
		if name != "" {
			g.graphName = name
		}
	}
}

// WithLanguage sets the reported preferred language (default: "en").
func WithLanguage(lang string) Option {
	return func(g *Graph) {
		if lang != "" {
			g.language = lang
		}
	}
}

// WithDebounce sets the quiet period before a file event is reported (default: 200ms).
func WithDebounce(d time.Duration) Option {
	return func(g *Graph) {
		if d > 0 {
			g.debounce = d
		}
	}
}

// Open indexes the graph at root. Call Watch to receive live changes.
func Open(root string, opts ...Option) (*Graph, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve graph root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("open graph: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open graph: %s is not a directory", abs)
	}

	g := &Graph{
		root:      abs,
		graphName: host.LocalGraphPrefix + abs,
		language:  defaultLanguage,
		debounce:  defaultDebounce,
		logger:    zap.NewNop(),
		subs:      make(map[int]func(change.Changes)),
		entities:  make(map[string]int64),
		timers:    make(map[string]*time.Timer),
		queue:     make(chan change.Changes, 64),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.Named("localgraph")

	if err := g.Load(); err != nil {
		return nil, err
	}
	return g, nil
}

// Root returns the graph directory.
func (g *Graph) Root() string {
	return g.root
}

// PagesPath returns the directory holding regular page files.
func (g *Graph) PagesPath() string {
	return filepath.Join(g.root, PagesDir)
}

// Load rescans pages/ and journals/ and replaces the page cache.
func (g *Graph) Load() error {
	pages := make(map[string]*cachedPage)
	byUUID := make(map[string]*cachedPage)
	byPath := make(map[string]*cachedPage)

	for _, dir := range []string{PagesDir, JournalsDir} {
		entries, err := os.ReadDir(filepath.Join(g.root, dir))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || !isPageFile(e.Name()) {
				continue
			}
			cp, err := g.readPage(dir + "/" + e.Name())
			if err != nil {
				g.logger.Debug("skip unreadable page file", zap.String("file", e.Name()), zap.Error(err))
				continue
			}
			pages[cp.lowerName] = cp
			byUUID[cp.page.UUID] = cp
			byPath[cp.relPath] = cp
		}
	}

	g.mu.Lock()
	g.pages, g.byUUID, g.byPath = pages, byUUID, byPath
	g.mu.Unlock()
	return nil
}

// readPage stats and parses the identity of one page file.
func (g *Graph) readPage(relPath string) (*cachedPage, error) {
	abs := filepath.Join(g.root, filepath.FromSlash(relPath))
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	src, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}

	dir, file := splitRel(relPath)
	ext := filepath.Ext(file)
	stem := strings.TrimSuffix(file, ext)
	format := host.FormatMarkdown
	if ext == ".org" {
		format = host.FormatOrg
	}

	journal := dir == JournalsDir
	props := properties(leadingText(src))
	name := codec.Decode(stem)
	switch {
	case journal:
		name = journalTitle(stem)
	case props["title"] != "":
		name = props["title"]
	}
	lower := strings.ToLower(name)

	cp := &cachedPage{
		page: host.Page{
			UUID:      uuid.NewSHA1(uuid.NameSpaceURL, []byte(g.graphName+"/"+lower)).String(),
			Name:      name,
			Journal:   journal,
			UpdatedAt: info.ModTime().UnixMilli(),
			Format:    format,
			File:      stem,
		},
		lowerName: lower,
		relPath:   relPath,
	}
	if tags := props["tags"]; tags != "" {
		cp.tags = parseTags(tags)
	}
	return cp, nil
}

// AllPages returns every page of the graph, sorted by name.
func (g *Graph) AllPages(ctx context.Context) ([]host.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := g.Load(); err != nil {
		return nil, err
	}

	g.mu.RLock()
	out := make([]host.Page, 0, len(g.pages))
	for _, cp := range g.pages {
		out = append(out, cp.page)
	}
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// PageBlocksTree reads and parses the page file addressed by uuid or name.
func (g *Graph) PageBlocksTree(ctx context.Context, idOrName string) ([]*card.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cp, err := g.lookup(idOrName)
	if err != nil {
		return nil, err
	}

	src, err := os.ReadFile(filepath.Join(g.root, filepath.FromSlash(cp.relPath)))
	if err != nil {
		return nil, fmt.Errorf("read page %q: %w", cp.page.Name, err)
	}
	return parseBlocks(src, cp.page.Format, cp.page.UUID), nil
}

// Page resolves a page identity by title.
func (g *Graph) Page(ctx context.Context, name string) (*host.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cp, err := g.lookup(name)
	if err != nil {
		return nil, err
	}
	p := cp.page
	return &p, nil
}

// lookup finds a cached page, re-reading its file by encoded name on a miss.
func (g *Graph) lookup(idOrName string) (*cachedPage, error) {
	g.mu.RLock()
	cp, ok := g.byUUID[idOrName]
	if !ok {
		cp, ok = g.pages[strings.ToLower(idOrName)]
	}
	g.mu.RUnlock()
	if ok {
		return cp, nil
	}

	// Files not written by the host may keep a raw stem
	stems := []string{codec.Encode(idOrName)}
	if stems[0] != idOrName && !strings.ContainsAny(idOrName, `/\`) {
		stems = append(stems, idOrName)
	}
	for _, stem := range stems {
		for _, ext := range []string{".md", ".org"} {
			cp, err := g.readPage(PagesDir + "/" + stem + ext)
			if err != nil {
				continue
			}
			g.store(cp)
			return cp, nil
		}
	}
	return nil, fmt.Errorf("page %q: %w", idOrName, host.ErrNotExist)
}

func (g *Graph) store(cp *cachedPage) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if old, ok := g.byPath[cp.relPath]; ok {
		delete(g.pages, old.lowerName)
		delete(g.byUUID, old.page.UUID)
	}
	g.pages[cp.lowerName] = cp
	g.byUUID[cp.page.UUID] = cp
	g.byPath[cp.relPath] = cp
}

func (g *Graph) forget(relPath string) *cachedPage {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp, ok := g.byPath[relPath]
	if !ok {
		return nil
	}
	delete(g.byPath, relPath)
	delete(g.pages, cp.lowerName)
	delete(g.byUUID, cp.page.UUID)
	return cp
}

// UserConfigs reads logseq/config.edn. A missing file yields defaults.
func (g *Graph) UserConfigs(ctx context.Context) (host.UserConfigs, error) {
	cfg := host.UserConfigs{
		CurrentGraph:        g.graphName,
		PreferredLanguage:   g.language,
		PreferredDateFormat: defaultDateFormat,
		PreferredFormat:     host.FormatMarkdown,
	}
	if err := ctx.Err(); err != nil {
		return cfg, err
	}

	data, err := os.ReadFile(filepath.Join(g.root, "logseq", "config.edn"))
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config.edn: %w", err)
	}

	if m := preferredFormatRegex.FindSubmatch(data); m != nil {
		cfg.PreferredFormat = host.ParseFormat(string(m[1]))
	}
	if m := titleFormatRegex.FindSubmatch(data); m != nil && len(m[1]) > 0 {
		cfg.PreferredDateFormat = string(m[1])
	}
	return cfg, nil
}

// PagesWithTag returns the names of pages whose tags property lists tag.
func (g *Graph) PagesWithTag(ctx context.Context, tag string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want := strings.ToLower(strings.TrimSpace(tag))

	g.mu.RLock()
	var names []string
	for _, cp := range g.pages {
		for _, t := range cp.tags {
			if strings.ToLower(t) == want {
				names = append(names, cp.page.Name)
				break
			}
		}
	}
	g.mu.RUnlock()

	sort.Strings(names)
	return names, nil
}

// OnChanged registers fn for change batches produced by Watch.
func (g *Graph) OnChanged(fn func(change.Changes)) func() {
	g.subMu.Lock()
	id := g.nextSub
	g.nextSub++
	g.subs[id] = fn
	g.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.subMu.Lock()
			delete(g.subs, id)
			g.subMu.Unlock()
		})
	}
}

// subscribers returns a snapshot of the registered callbacks.
func (g *Graph) subscribers() []func(change.Changes) {
	g.subMu.Lock()
	defer g.subMu.Unlock()
	ids := make([]int, 0, len(g.subs))
	for id := range g.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(change.Changes), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, g.subs[id])
	}
	return fns
}

func isPageFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := filepath.Ext(name)
	return ext == ".md" || ext == ".org"
}

func splitRel(relPath string) (dir, file string) {
	i := strings.LastIndex(relPath, "/")
	if i < 0 {
		return "", relPath
	}
	return relPath[:i], relPath[i+1:]
}

// leadingText returns the lines before the first bullet or headline, where
// page-level properties live.
func leadingText(src []byte) string {
	var lines []string
	for _, line := range strings.Split(string(src), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "- ") || trimmed == "-" || headlineRegex.MatchString(line) {
			break
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// journalTitle renders a journal file stem such as 2024_01_05 as "Jan 5th, 2024".
func journalTitle(stem string) string {
	t, err := time.Parse("2006_01_02", stem)
	if err != nil {
		return codec.Decode(stem)
	}
	return fmt.Sprintf("%s %d%s, %d", t.Format("Jan"), t.Day(), ordinal(t.Day()), t.Year())
}

func ordinal(day int) string {
	if day >= 11 && day <= 13 {
		return "th"
	}
	switch day % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	}
	return "th"
}
