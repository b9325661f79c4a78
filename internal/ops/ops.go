package ops

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"
	"time"

	"github.com/hpungsan/cardbox/internal/card"
	"github.com/hpungsan/cardbox/internal/config"
	"github.com/hpungsan/cardbox/internal/errors"
	"github.com/hpungsan/cardbox/internal/host"
	"github.com/hpungsan/cardbox/internal/notify"
	"go.uber.org/zap"
)

// Pagination limits
const (
	DefaultListLimit  = 50
	MaxListLimit      = 500
	MaxFetchManyItems = 50
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

var (
	errNoDatabase = stderrors.New("ops: no database configured")
	errNoHost     = stderrors.New("ops: no host configured")
)

// Env carries what the write paths (rebuild and live sync) need.
type Env struct {
	DB     *sql.DB
	Cfg    *config.Config
	Host   host.Host
	Hub    *notify.Hub
	Logger *zap.Logger

	// Now is the clock for live-sync modify times (default: time.Now)
	Now func() time.Time

	// Sleep waits between rebuild batches (default: a context-aware timer)
	Sleep func(ctx context.Context, d time.Duration) error

	// Active reports whether writes for graph should still land. A rebuild
	// that outlives its graph session stops writing once this returns false.
	// Nil means every graph is active.
	Active func(graph string) bool
}

func (e *Env) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e *Env) config() *config.Config {
	if e.Cfg == nil {
		return config.DefaultConfig()
	}
	return e.Cfg
}

func (e *Env) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e *Env) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Env) active(graph string) bool {
	return e.Active == nil || e.Active(graph)
}

func (e *Env) validate() error {
	if e == nil || e.DB == nil {
		return errors.NewInternal(errNoDatabase)
	}
	if e.Host == nil {
		return errors.NewInternal(errNoHost)
	}
	return nil
}

// isSkipped reports whether a page name is configured as never indexed.
func isSkipped(cfg *config.Config, name string) bool {
	for _, s := range cfg.SkipPages {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return true
		}
	}
	return false
}

// validateKey trims and checks a card address.
func validateKey(graph, name string) (card.Key, error) {
	graph = strings.TrimSpace(graph)
	if graph == "" {
		return card.Key{}, errors.NewInvalidRequest("graph is required")
	}
	if strings.TrimSpace(name) == "" {
		return card.Key{}, errors.NewInvalidRequest("name is required")
	}
	return card.Key{Graph: graph, Name: name}, nil
}
