package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/cardbox/internal/card"
	"github.com/hpungsan/cardbox/internal/change"
	"github.com/hpungsan/cardbox/internal/db"
	"github.com/hpungsan/cardbox/internal/errors"
	"github.com/hpungsan/cardbox/internal/notify"
	"go.uber.org/zap"
)

// SyncAction is what ApplyChanges did to the store.
type SyncAction string

const (
	ActionIgnored  SyncAction = "ignored"
	ActionInserted SyncAction = "inserted"
	ActionPatched  SyncAction = "patched"
	ActionDeleted  SyncAction = "deleted"
	ActionDropped  SyncAction = "dropped"
)

// SyncOutput contains the result of applying one change batch.
type SyncOutput struct {
	Op     change.Operation `json:"op"`
	Name   string           `json:"name,omitempty"`
	Action SyncAction       `json:"action"`
}

// ApplyChanges classifies one raw change batch and applies it to the
// graph's cards:
//   - modified with content: patch time/summary/image, or insert a new card
//   - modified to empty content: delete the card
//   - deleted: delete the card
//   - created or unrecognized: nothing
//
// A failed host fetch aborts the event and leaves the store unchanged.
func ApplyChanges(ctx context.Context, env *Env, graph string, ch change.Changes) (*SyncOutput, error) {
	if err := env.validate(); err != nil {
		return nil, err
	}
	graph = strings.TrimSpace(graph)
	if graph == "" {
		return nil, errors.NewInvalidRequest("graph is required")
	}

	res := change.Classify(ch)
	out := &SyncOutput{Op: res.Op, Name: res.Name, Action: ActionIgnored}
	logger := env.logger().Named("livesync").With(
		zap.String("graph", graph), zap.String("op", string(res.Op)), zap.String("page", res.Name))

	switch res.Op {
	case change.OpModified:
		if res.Name == "" {
			logger.Debug("modified file is not a page", zap.String("path", res.Path))
			return out, nil
		}
		if isSkipped(env.config(), res.Name) {
			logger.Debug("skipped page")
			return out, nil
		}
		return out, applyModified(ctx, env, logger, graph, out)

	case change.OpDeleted:
		if !env.active(graph) {
			out.Action = ActionDropped
			return out, nil
		}
		deleted, err := db.Delete(ctx, env.DB, card.Key{Graph: graph, Name: res.Name})
		if err != nil {
			return out, err
		}
		if deleted {
			out.Action = ActionDeleted
			env.Hub.Publish(notify.Event{Graph: graph, Kind: notify.KindDelete, Names: []string{res.Name}})
		}
		return out, nil

	default:
		logger.Debug("change ignored")
		return out, nil
	}
}

// applyModified refreshes the card of a modified page.
func applyModified(ctx context.Context, env *Env, logger *zap.Logger, graph string, out *SyncOutput) error {
	// A title property can name the page differently from its file
	if page, err := env.Host.Page(ctx, out.Name); err == nil && page != nil && page.Name != "" && page.Name != out.Name {
		logger.Debug("page titled differently from its file", zap.String("title", page.Name))
		out.Name = page.Name
	}
	key := card.Key{Graph: graph, Name: out.Name}

	blocks, err := env.Host.PageBlocksTree(ctx, out.Name)
	if err != nil {
		return errors.NewHostUnavailable("getPageBlocksTree", err)
	}
	summary, image := card.Extract(blocks, env.config().SummaryMaxChars)

	if !env.active(graph) {
		out.Action = ActionDropped
		return nil
	}

	if card.IsEmptySummary(summary) {
		deleted, err := db.Delete(ctx, env.DB, key)
		if err != nil {
			return err
		}
		if deleted {
			out.Action = ActionDeleted
			env.Hub.Publish(notify.Event{Graph: graph, Kind: notify.KindDelete, Names: []string{out.Name}})
		}
		logger.Debug("page became empty")
		return nil
	}

	existing, err := db.Get(ctx, env.DB, key)
	if err != nil {
		return err
	}

	now := env.now().UnixMilli()
	if existing != nil {
		t := max(now, existing.Time)
		updated, err := db.Patch(ctx, env.DB, key, card.Patch{Time: &t, Summary: &summary, Image: &image})
		if err != nil {
			return err
		}
		if updated {
			out.Action = ActionPatched
			env.Hub.Publish(notify.Event{Graph: graph, Kind: notify.KindPut, Names: []string{out.Name}})
			return nil
		}
		// Removed concurrently: fall through and insert
	}

	page, err := env.Host.Page(ctx, out.Name)
	if err != nil {
		return errors.NewHostUnavailable("getPage", err)
	}
	if page == nil {
		return errors.NewNotFound(graph, out.Name)
	}
	written, err := db.Put(ctx, env.DB, &card.Card{
		Graph:   graph,
		Name:    out.Name,
		UUID:    page.UUID,
		Time:    now,
		Summary: summary,
		Image:   image,
	})
	if err != nil {
		return err
	}
	if written {
		out.Action = ActionInserted
		env.Hub.Publish(notify.Event{Graph: graph, Kind: notify.KindPut, Names: []string{out.Name}})
	}
	return nil
}
