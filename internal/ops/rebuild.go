package ops

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hpungsan/cardbox/internal/card"
	"github.com/hpungsan/cardbox/internal/codec"
	"github.com/hpungsan/cardbox/internal/db"
	"github.com/hpungsan/cardbox/internal/errors"
	"github.com/hpungsan/cardbox/internal/host"
	"github.com/hpungsan/cardbox/internal/notify"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// RebuildInput contains parameters for the Rebuild operation.
type RebuildInput struct {
	Graph string // required

	// Format is the graph's preferred file format, tried first when
	// stating page files
	Format host.Format

	// Dir is the pages directory; nil means use host update times
	Dir host.DirHandle
}

// RebuildOutput contains the result of the Rebuild operation.
type RebuildOutput struct {
	RunID      string `json:"run_id"`
	Graph      string `json:"graph"`
	Pages      int    `json:"pages"`
	Written    int    `json:"written"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	Dropped    int    `json:"dropped"`
	Batches    int    `json:"batches"`
	DurationMs int64  `json:"duration_ms"`
}

// pageOutcome is what happened to one page during a rebuild.
type pageOutcome int

const (
	outcomeWritten pageOutcome = iota
	outcomeSkipped
	outcomeFailed
	outcomeDropped
)

// Rebuild indexes every non-journal page of the graph. Pages are processed
// concurrently in batches of Cfg.RebuildBatchSize; each batch is awaited and
// followed by Cfg.RebuildBatchDelayMs before the next one starts. A failing
// page is logged and skipped, never aborting the run.
//
// Rebuild does not clear the graph first; see ResetGraph.
func Rebuild(ctx context.Context, env *Env, input RebuildInput) (*RebuildOutput, error) {
	if err := env.validate(); err != nil {
		return nil, err
	}
	graph := strings.TrimSpace(input.Graph)
	if graph == "" {
		return nil, errors.NewInvalidRequest("graph is required")
	}

	cfg := env.config()
	runID := ulid.Make().String()
	logger := env.logger().Named("rebuild").With(zap.String("run_id", runID), zap.String("graph", graph))
	start := time.Now()

	pages, err := env.Host.AllPages(ctx)
	if err != nil {
		return nil, errors.NewHostUnavailable("getAllPages", err)
	}

	out := &RebuildOutput{RunID: runID, Graph: graph}
	var todo []host.Page
	for _, p := range pages {
		if p.Journal || isSkipped(cfg, p.Name) {
			continue
		}
		todo = append(todo, p)
	}
	out.Pages = len(todo)
	logger.Info("rebuild started", zap.Int("pages", len(todo)), zap.Bool("dir_handle", input.Dir != nil))

	batchSize := cfg.RebuildBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	for i := 0; i < len(todo); i += batchSize {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		batch := todo[i:min(i+batchSize, len(todo))]

		outcomes := make([]pageOutcome, len(batch))
		var wg sync.WaitGroup
		for j := range batch {
			wg.Add(1)
			go func(j int) {
				defer wg.Done()
				outcomes[j] = indexPage(ctx, env, logger, graph, input, batch[j])
			}(j)
		}
		wg.Wait()
		out.Batches++

		var names []string
		for j, o := range outcomes {
			switch o {
			case outcomeWritten:
				out.Written++
				names = append(names, batch[j].Name)
			case outcomeSkipped:
				out.Skipped++
			case outcomeFailed:
				out.Failed++
			case outcomeDropped:
				out.Dropped++
			}
		}
		if len(names) > 0 {
			env.Hub.Publish(notify.Event{Graph: graph, Kind: notify.KindPut, Names: names})
		}
		env.Hub.Publish(notify.Event{Graph: graph, Kind: notify.KindProgress, Loaded: out.Written})

		if i+batchSize < len(todo) {
			if err := env.sleep(ctx, cfg.BatchDelay()); err != nil {
				return out, err
			}
		}
	}

	out.DurationMs = time.Since(start).Milliseconds()
	logger.Info("rebuild finished",
		zap.Int("written", out.Written),
		zap.Int("skipped", out.Skipped),
		zap.Int("failed", out.Failed),
		zap.Int("dropped", out.Dropped),
		zap.Int("batches", out.Batches),
		zap.Int64("duration_ms", out.DurationMs),
	)
	return out, nil
}

// indexPage builds and stores the card for one page.
func indexPage(ctx context.Context, env *Env, logger *zap.Logger, graph string, input RebuildInput, p host.Page) pageOutcome {
	log := logger.With(zap.String("page", p.Name))

	var t int64
	if input.Dir != nil {
		stem := p.File
		if stem == "" {
			stem = codec.Encode(p.Name)
		}
		ms, ok := host.LastModified(ctx, input.Dir, stem, input.Format)
		if !ok {
			log.Debug("no page file, skipping")
			return outcomeSkipped
		}
		t = ms
	} else {
		t = p.UpdatedAt
	}
	if t <= 0 {
		log.Debug("no modification time, skipping")
		return outcomeSkipped
	}

	ref := p.UUID
	if ref == "" {
		ref = p.Name
	}
	blocks, err := env.Host.PageBlocksTree(ctx, ref)
	if err != nil {
		log.Warn("fetch blocks failed, skipping", zap.Error(err))
		return outcomeFailed
	}
	if len(blocks) == 0 {
		log.Debug("empty page, skipping")
		return outcomeSkipped
	}

	summary, image := card.Extract(blocks, env.config().SummaryMaxChars)
	if card.IsEmptySummary(summary) {
		log.Debug("empty summary, skipping")
		return outcomeSkipped
	}

	if !env.active(graph) {
		log.Debug("graph no longer active, dropping write")
		return outcomeDropped
	}

	written, err := db.Put(ctx, env.DB, &card.Card{
		Graph:   graph,
		Name:    p.Name,
		UUID:    p.UUID,
		Time:    t,
		Summary: summary,
		Image:   image,
	})
	if err != nil {
		log.Warn("store write failed, skipping", zap.Error(err))
		return outcomeFailed
	}
	if !written {
		log.Debug("newer card already stored")
		return outcomeSkipped
	}
	return outcomeWritten
}

// ResetGraph removes every card of a graph ahead of a full rebuild.
func ResetGraph(ctx context.Context, env *Env, graph string) (int64, error) {
	if err := env.validate(); err != nil {
		return 0, err
	}
	graph = strings.TrimSpace(graph)
	if graph == "" {
		return 0, errors.NewInvalidRequest("graph is required")
	}

	n, err := db.DeleteGraph(ctx, env.DB, graph)
	if err != nil {
		return 0, err
	}
	env.Hub.Publish(notify.Event{Graph: graph, Kind: notify.KindReset})
	env.logger().Named("rebuild").Debug("graph reset", zap.String("graph", graph), zap.Int64("removed", n))
	return n, nil
}

// EnsureLoaded rebuilds the graph only when it has no cards yet. Returns a
// nil output when the stored cards were kept.
func EnsureLoaded(ctx context.Context, env *Env, input RebuildInput) (*RebuildOutput, error) {
	if err := env.validate(); err != nil {
		return nil, err
	}
	n, err := db.Count(ctx, env.DB, input.Graph)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		env.logger().Named("rebuild").Debug("cards already loaded",
			zap.String("graph", input.Graph), zap.Int("count", n))
		return nil, nil
	}
	return Rebuild(ctx, env, input)
}
