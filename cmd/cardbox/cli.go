package main

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/cardbox/internal/card"
	"github.com/hpungsan/cardbox/internal/config"
	"github.com/hpungsan/cardbox/internal/errors"
	"github.com/hpungsan/cardbox/internal/host/localgraph"
	"github.com/hpungsan/cardbox/internal/notify"
	"github.com/hpungsan/cardbox/internal/ops"
	"github.com/hpungsan/cardbox/internal/session"
	"github.com/hpungsan/cardbox/internal/viewport"
	"github.com/hpungsan/cardbox/internal/web"
)

// stdout is where command results are written. Tests swap it.
var stdout io.Writer = os.Stdout

// runtime holds the process-wide handles commands share. The graph and its
// session are opened on first use so read commands work without one.
type runtime struct {
	db     *sql.DB
	cfg    *config.Config
	logger *zap.Logger

	graph    *localgraph.Graph
	hub      *notify.Hub
	sessions *session.Manager
	// loaded is the result of the first activation
	loaded   *session.ActivateOutput
	watching bool
}

// openGraph opens the local graph at dir, falling back to the configured one.
func (rt *runtime) openGraph(dir string) (*localgraph.Graph, error) {
	if rt.graph != nil {
		return rt.graph, nil
	}
	if dir == "" {
		dir = rt.cfg.GraphDir
	}
	if strings.TrimSpace(dir) == "" {
		return nil, errors.NewInvalidRequest("graph directory is not configured (use --graph-dir, graph_dir or " + config.EnvGraphDir + ")")
	}

	opts := []localgraph.Option{localgraph.WithLogger(rt.logger)}
	if rt.cfg.GraphName != "" {
		opts = append(opts, localgraph.WithGraphName(rt.cfg.GraphName))
	}
	g, err := localgraph.Open(dir, opts...)
	if err != nil {
		return nil, errors.NewHostUnavailable("open graph", err)
	}
	rt.graph = g
	return g, nil
}

// activate opens the graph, starts its session and loads it if empty.
func (rt *runtime) activate(dir string) (*session.Manager, error) {
	if rt.sessions != nil {
		return rt.sessions, nil
	}
	g, err := rt.openGraph(dir)
	if err != nil {
		return nil, err
	}

	rt.hub = notify.NewHub()
	m := session.NewManager(ops.Env{
		DB:     rt.db,
		Cfg:    rt.cfg,
		Host:   g,
		Hub:    rt.hub,
		Logger: rt.logger,
	})

	if rt.cfg.PagesDir != "" {
		dir, err := session.OpenPagesDir(rt.cfg.PagesDir)
		if err != nil {
			m.Close()
			return nil, err
		}
		cfgs, err := g.UserConfigs(context.Background())
		if err != nil {
			m.Close()
			return nil, errors.NewHostUnavailable("getUserConfigs", err)
		}
		m.RegisterDir(cfgs.CurrentGraph, dir)
	}

	out, err := m.Activate(context.Background())
	if err != nil {
		m.Close()
		return nil, err
	}
	rt.sessions = m
	rt.loaded = out
	return m, nil
}

// live activates the graph and starts its file watcher, so change batches
// reach the session's live sync. The manager is returned even when only
// watching fails.
func (rt *runtime) live(dir string) (*session.Manager, error) {
	m, err := rt.activate(dir)
	if err != nil {
		return nil, err
	}
	if rt.watching {
		return m, nil
	}
	if err := rt.graph.Watch(); err != nil {
		return m, errors.NewHostUnavailable("watch", err)
	}
	rt.watching = true
	return m, nil
}

// resolveGraph returns the --graph flag, else the local graph's identifier.
func (rt *runtime) resolveGraph(c *cli.Context) (string, error) {
	if g := strings.TrimSpace(c.String("graph")); g != "" {
		return g, nil
	}
	g, err := rt.openGraph(c.String("graph-dir"))
	if err != nil {
		return "", err
	}
	cfgs, err := g.UserConfigs(c.Context)
	if err != nil {
		return "", errors.NewHostUnavailable("getUserConfigs", err)
	}
	return cfgs.CurrentGraph, nil
}

// close releases the session and the graph watcher.
func (rt *runtime) close() {
	if rt.sessions != nil {
		rt.sessions.Close()
	}
	if rt.graph != nil {
		_ = rt.graph.Close()
	}
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(rt *runtime) *cli.App {
	app := &cli.App{
		Name:    "cardbox",
		Usage:   "Page summary cards for your notes graph",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "graph-dir", Aliases: []string{"d"}, Usage: "Graph directory (holds pages/ and journals/)"},
		},
		Commands: []*cli.Command{
			rebuildCmd(rt),
			listCmd(rt),
			getCmd(rt),
			countCmd(rt),
			watchCmd(rt),
			serveCmd(rt),
			selectDirCmd(rt),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// graphFlag selects the graph read commands query.
func graphFlag() cli.Flag {
	return &cli.StringFlag{Name: "graph", Aliases: []string{"g"}, Usage: "Graph identifier (defaults to the local graph)"}
}

// rebuildCmd creates the rebuild command.
func rebuildCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "rebuild",
		Usage: "Clear the graph's cards and index every page again",
		Action: func(c *cli.Context) error {
			m, err := rt.activate(c.String("graph-dir"))
			if err != nil {
				return outputError(err)
			}
			// An empty graph was just indexed by activation
			if rt.loaded != nil && rt.loaded.Rebuild != nil {
				return outputJSON(rt.loaded.Rebuild)
			}

			output, err := m.Rebuild(c.Context)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// listCmd creates the list command.
func listCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List cards, most recently modified first",
		Flags: []cli.Flag{
			graphFlag(),
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Max results"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Pagination offset"},
		},
		Action: func(c *cli.Context) error {
			graph, err := rt.resolveGraph(c)
			if err != nil {
				return outputError(err)
			}

			output, err := ops.List(c.Context, rt.db, ops.ListInput{
				Graph:  graph,
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// getCmd creates the get command.
func getCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Fetch one card by page name",
		ArgsUsage: "<name>",
		Flags:     []cli.Flag{graphFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return outputError(errors.NewInvalidRequest("page name is required"))
			}
			graph, err := rt.resolveGraph(c)
			if err != nil {
				return outputError(err)
			}

			output, err := ops.Fetch(c.Context, rt.db, ops.FetchInput{
				Graph: graph,
				Name:  c.Args().First(),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// countCmd creates the count command.
func countCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "count",
		Usage: "Count a graph's cards",
		Flags: []cli.Flag{graphFlag()},
		Action: func(c *cli.Context) error {
			graph, err := rt.resolveGraph(c)
			if err != nil {
				return outputError(err)
			}

			output, err := ops.Count(c.Context, rt.db, ops.CountInput{Graph: graph})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// windowSnapshot is one refresh of the card window printed by watch.
type windowSnapshot struct {
	Graph string      `json:"graph"`
	Items []card.Card `json:"items"`
}

// watchCmd creates the watch command.
func watchCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Sync cards with file changes and print the card window after every change",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Cards per window"},
		},
		Action: func(c *cli.Context) error {
			m, err := rt.live(c.String("graph-dir"))
			if err != nil {
				return outputError(err)
			}
			graph := m.ActiveGraph()

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := rt.logger.Named("watch")
			w := viewport.NewWindow(rt.db, graph,
				viewport.WithInitialLimit(c.Int("limit")),
				viewport.WithLogger(rt.logger),
			)
			w.Follow(ctx, rt.hub, func(cards []card.Card, err error) {
				if err != nil {
					logger.Warn("window query failed", zap.Error(err))
					return
				}
				if err := outputJSONLine(windowSnapshot{Graph: graph, Items: cards}); err != nil {
					logger.Warn("write window failed", zap.Error(err))
				}
			})
			logger.Info("stopped")
			return nil
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the card grid over HTTP, syncing cards with file changes",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8321, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			sessions, err := rt.live(c.String("graph-dir"))
			if err != nil {
				if sessions == nil && !errors.Is(err, errors.ErrInvalidRequest) {
					return outputError(err)
				}
				// Without a graph only already-indexed cards are served;
				// without a watcher the cards stay as loaded
				rt.logger.Warn("live graph session unavailable", zap.Error(err))
			}

			srv := web.NewServer(rt.db, rt.cfg, sessions, rt.logger, Version, c.String("bind"), c.Int("port"))
			if err := web.Run(srv, rt.logger); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// selectDirCmd creates the select-dir command.
func selectDirCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "select-dir",
		Usage:     "Use a pages folder's file times for the graph's cards and rebuild",
		ArgsUsage: "<path/to/pages>",
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return outputError(errors.NewInvalidRequest("directory path is required"))
			}
			m, err := rt.activate(c.String("graph-dir"))
			if err != nil {
				return outputError(err)
			}

			output, err := m.SelectDirectory(c.Context, c.Args().First())
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputJSONLine writes v as one compact JSON line, for streamed output.
func outputJSONLine(v any) error {
	return json.NewEncoder(stdout).Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var cErr *errors.CardboxError
	if stderrors.As(err, &cErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", cErr.Code, cErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
