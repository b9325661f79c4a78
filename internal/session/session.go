// Package session owns the per-graph state of the card view: which graph is
// active, the pages directory selected for it, and its live change
// subscription. It replaces a process-wide handle registry with one value
// created by the application and passed to whoever needs it.
package session

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hpungsan/cardbox/internal/change"
	"github.com/hpungsan/cardbox/internal/errors"
	"github.com/hpungsan/cardbox/internal/host"
	"github.com/hpungsan/cardbox/internal/ops"
	"go.uber.org/zap"
)

// PagesDirName is the only folder name accepted as a directory selection.
const PagesDirName = "pages"

var (
	errNoGraph = stderrors.New("host reported no current graph")
	errClosed  = stderrors.New("session manager is closed")
)

// Session describes the active graph.
type Session struct {
	Graph      string         `json:"graph"`
	Format     host.Format    `json:"format"`
	DateFormat string         `json:"date_format"`
	Locale     string         `json:"locale"`
	Dir        host.DirHandle `json:"-"`
}

// HasDir reports whether a pages directory is selected for the session.
func (s *Session) HasDir() bool {
	return s != nil && s.Dir != nil
}

func (s *Session) rebuildInput() ops.RebuildInput {
	return ops.RebuildInput{Graph: s.Graph, Format: s.Format, Dir: s.Dir}
}

// ActivateOutput contains the result of Activate.
type ActivateOutput struct {
	Session Session `json:"session"`
	// Rebuild is nil when the graph already had cards
	Rebuild *ops.RebuildOutput `json:"rebuild,omitempty"`
}

// Manager tracks the active graph session. Exactly one live subscription
// exists at a time; switching graphs releases the previous one first.
type Manager struct {
	env    ops.Env
	logger *zap.Logger

	// ctx outlives single requests: live-sync writes run under it
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	dirs        map[string]host.DirHandle
	current     *Session
	unsubscribe func()
	closed      bool
}

// NewManager returns a manager writing through env. env.Active is replaced
// so that writes for anything but the active graph are dropped.
func NewManager(env ops.Env) *Manager {
	if env.Logger == nil {
		env.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		logger: env.Logger.Named("session"),
		ctx:    ctx,
		cancel: cancel,
		dirs:   make(map[string]host.DirHandle),
	}
	env.Active = m.isActive
	m.env = env
	return m
}

// Env returns the environment the manager writes through.
func (m *Manager) Env() *ops.Env {
	return &m.env
}

// Current returns a copy of the active session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	s := *m.current
	return &s
}

// ActiveGraph returns the active graph, or "".
func (m *Manager) ActiveGraph() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.Graph
}

func (m *Manager) isActive(graph string) bool {
	return m.ActiveGraph() == graph
}

// RegisterDir remembers dir as the pages directory of graph. It applies to
// the active session immediately when graph is the active one.
func (m *Manager) RegisterDir(graph string, dir host.DirHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[graph] = dir
	if m.current != nil && m.current.Graph == graph {
		s := *m.current
		s.Dir = dir
		m.current = &s
	}
}

// Activate reads the host's user configs and makes the reported graph the
// active one: the previous subscription is released, a new one registered,
// and the graph is rebuilt if it has no cards yet.
func (m *Manager) Activate(ctx context.Context) (*ActivateOutput, error) {
	cfgs, err := m.env.Host.UserConfigs(ctx)
	if err != nil {
		return nil, errors.NewHostUnavailable("getUserConfigs", err)
	}
	graph := strings.TrimSpace(cfgs.CurrentGraph)
	if graph == "" {
		return nil, errors.NewHostUnavailable("getUserConfigs", errNoGraph)
	}

	sess := &Session{
		Graph:      graph,
		Format:     cfgs.PreferredFormat,
		DateFormat: cfgs.PreferredDateFormat,
		Locale:     cfgs.PreferredLanguage,
	}
	if sess.Format == "" {
		sess.Format = host.FormatMarkdown
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.NewInternal(errClosed)
	}
	sess.Dir = m.dirs[graph]
	prev := m.unsubscribe
	m.current = sess
	m.unsubscribe = nil
	m.mu.Unlock()

	if prev != nil {
		prev()
	}

	unsub := sync.OnceFunc(m.env.Host.OnChanged(m.liveSync(graph)))
	m.mu.Lock()
	if m.closed || m.current == nil || m.current.Graph != graph {
		// Closed or switched again while subscribing
		m.mu.Unlock()
		unsub()
	} else {
		m.unsubscribe = unsub
		m.mu.Unlock()
	}

	m.logger.Info("graph activated",
		zap.String("graph", graph),
		zap.String("format", string(sess.Format)),
		zap.Bool("dir_handle", sess.Dir != nil),
	)

	out := &ActivateOutput{Session: *sess}
	rebuilt, err := ops.EnsureLoaded(ctx, &m.env, sess.rebuildInput())
	if err != nil {
		return out, err
	}
	out.Rebuild = rebuilt
	return out, nil
}

// liveSync returns the change callback for graph. Batches arrive serially
// from the host and are applied in that order.
func (m *Manager) liveSync(graph string) func(change.Changes) {
	logger := m.logger.With(zap.String("graph", graph))
	return func(ch change.Changes) {
		out, err := ops.ApplyChanges(m.ctx, &m.env, graph, ch)
		if err != nil {
			if errors.Is(err, errors.ErrNotFound) || stderrors.Is(err, context.Canceled) {
				logger.Debug("change not applied", zap.Error(err))
				return
			}
			logger.Warn("change not applied", zap.Error(err))
			return
		}
		if out.Action != ops.ActionIgnored {
			logger.Debug("change applied",
				zap.String("op", string(out.Op)),
				zap.String("page", out.Name),
				zap.String("action", string(out.Action)),
			)
		}
	}
}

// Rebuild clears the active graph's cards and indexes every page again.
func (m *Manager) Rebuild(ctx context.Context) (*ops.RebuildOutput, error) {
	sess := m.Current()
	if sess == nil {
		return nil, errors.NewNoSession()
	}
	if _, err := ops.ResetGraph(ctx, &m.env, sess.Graph); err != nil {
		return nil, err
	}
	return ops.Rebuild(ctx, &m.env, sess.rebuildInput())
}

// SelectDirectory makes path the pages directory of the active graph and
// rebuilds it with file modification times. A folder not named "pages" is
// rejected with a WRONG_DIRECTORY error and changes nothing.
func (m *Manager) SelectDirectory(ctx context.Context, path string) (*ops.RebuildOutput, error) {
	dir, err := OpenPagesDir(path)
	if err != nil {
		return nil, err
	}
	sess := m.Current()
	if sess == nil {
		return nil, errors.NewNoSession()
	}

	m.RegisterDir(sess.Graph, dir)
	m.logger.Info("pages directory selected", zap.String("graph", sess.Graph), zap.String("path", dir.Path()))
	return m.Rebuild(ctx)
}

// Deactivate releases the live subscription and clears the active session.
func (m *Manager) Deactivate() {
	m.mu.Lock()
	unsub := m.unsubscribe
	graph := ""
	if m.current != nil {
		graph = m.current.Graph
	}
	m.unsubscribe = nil
	m.current = nil
	m.mu.Unlock()

	if unsub != nil {
		unsub()
		m.logger.Info("graph deactivated", zap.String("graph", graph))
	}
}

// Close deactivates the session and stops pending live-sync writes.
// Safe to call more than once.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.Deactivate()
	m.cancel()
}

// OpenPagesDir validates a directory selection. The folder must exist and be
// named "pages"; anything else is a WRONG_DIRECTORY error.
func OpenPagesDir(path string) (*host.OSDir, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.NewInvalidRequest("directory path is required")
	}
	if filepath.Base(filepath.Clean(path)) != PagesDirName {
		return nil, errors.NewWrongDirectory(path)
	}
	dir, err := host.NewOSDir(path)
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return nil, errors.NewInvalidRequest("directory does not exist: " + path)
		}
		return nil, errors.NewWrongDirectory(path)
	}
	return dir, nil
}
