package localgraph

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hpungsan/cardbox/internal/change"
	"go.uber.org/zap"
)

// Watch starts watching pages/ and journals/ for file changes. Each file's
// events are debounced, then reported to OnChanged subscribers as change
// batches on a single goroutine, in the order they settle.
func (g *Graph) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	added := 0
	for _, dir := range []string{PagesDir, JournalsDir} {
		path := filepath.Join(g.root, dir)
		if info, err := os.Stat(path); err != nil || !info.IsDir() {
			continue
		}
		if err := watcher.Add(path); err != nil {
			watcher.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		added++
	}
	if added == 0 {
		watcher.Close()
		return fmt.Errorf("watch: no %s or %s directory under %s", PagesDir, JournalsDir, g.root)
	}

	g.watcher = watcher
	go g.watchLoop()
	go g.dispatchLoop()

	g.logger.Info("watching graph", zap.String("root", g.root))
	return nil
}

// Close stops the watcher and drops pending events. Safe to call more than once.
func (g *Graph) Close() error {
	var err error
	g.closeOnce.Do(func() {
		close(g.done)

		g.eventMu.Lock()
		for path, t := range g.timers {
			t.Stop()
			delete(g.timers, path)
		}
		g.eventMu.Unlock()

		if g.watcher != nil {
			err = g.watcher.Close()
		}
	})
	return err
}

// watchLoop processes file system events.
func (g *Graph) watchLoop() {
	for {
		select {
		case event, ok := <-g.watcher.Events:
			if !ok {
				return
			}
			g.handleEvent(event)
		case err, ok := <-g.watcher.Errors:
			if !ok {
				return
			}
			g.logger.Warn("watcher error", zap.Error(err))
		case <-g.done:
			return
		}
	}
}

// handleEvent (re)starts the quiet-period timer for a page file.
func (g *Graph) handleEvent(event fsnotify.Event) {
	if !isPageFile(filepath.Base(event.Name)) {
		return
	}
	rel, err := filepath.Rel(g.root, event.Name)
	if err != nil {
		g.logger.Debug("event outside graph", zap.String("path", event.Name))
		return
	}
	rel = filepath.ToSlash(rel)

	g.eventMu.Lock()
	defer g.eventMu.Unlock()

	select {
	case <-g.done:
		return
	default:
	}

	if t, ok := g.timers[rel]; ok {
		t.Stop()
	}
	g.timers[rel] = time.AfterFunc(g.debounce, func() { g.settle(rel) })
}

// settle compares the file on disk with the cache and emits the batches
// describing the difference.
func (g *Graph) settle(rel string) {
	g.eventMu.Lock()
	delete(g.timers, rel)
	g.eventMu.Unlock()

	g.mu.RLock()
	known := g.byPath[rel]
	g.mu.RUnlock()

	cp, err := g.readPage(rel)
	if err != nil {
		if known == nil {
			return
		}
		g.forget(rel)
		g.enqueue(g.nameBatch(rel, known.page.Name, false))
		return
	}

	g.store(cp)
	if known == nil {
		g.enqueue(g.nameBatch(rel, cp.page.Name, true))
	}
	g.enqueue(g.modifiedBatch(rel, cp.page.UpdatedAt))
}

// modifiedBatch mirrors a file entity whose lastModifiedAt was updated.
func (g *Graph) modifiedBatch(rel string, mtime int64) change.Changes {
	e, tx := g.ids(rel)
	return change.Changes{
		Blocks: []change.Entity{{ID: e, Path: rel}},
		TxData: []change.Datom{{e, change.AttrLastModified, mtime, tx, true}},
	}
}

// nameBatch mirrors a page entity whose originalName was asserted or retracted.
func (g *Graph) nameBatch(rel, name string, added bool) change.Changes {
	e, tx := g.ids(rel)
	return change.Changes{
		Blocks: []change.Entity{{ID: e}},
		TxData: []change.Datom{{e, change.AttrOriginalName, name, tx, added}},
	}
}

// ids returns the entity id of a file and a fresh transaction id.
func (g *Graph) ids(rel string) (entity, tx int64) {
	g.eventMu.Lock()
	defer g.eventMu.Unlock()
	e, ok := g.entities[rel]
	if !ok {
		g.nextEntity++
		e = g.nextEntity
		g.entities[rel] = e
	}
	g.nextTx++
	return e, g.nextTx
}

func (g *Graph) enqueue(ch change.Changes) {
	select {
	case g.queue <- ch:
	case <-g.done:
	}
}

// dispatchLoop delivers batches to subscribers one at a time.
func (g *Graph) dispatchLoop() {
	for {
		select {
		case ch := <-g.queue:
			for _, fn := range g.subscribers() {
				fn(ch)
			}
		case <-g.done:
			return
		}
	}
}
