// Package host defines what cardbox needs from the note-taking host: the page
// list, block trees, live change batches, user configs and file times.
package host

import (
	"context"
	"io/fs"
	"strings"

	"github.com/hpungsan/cardbox/internal/card"
	"github.com/hpungsan/cardbox/internal/change"
)

// ErrNotExist marks a missing page or file. Host adapters wrap it so callers
// can test with errors.Is.
var ErrNotExist = fs.ErrNotExist

// LocalGraphPrefix prefixes graph identifiers of graphs stored on local disk.
const LocalGraphPrefix = "logseq_local_"

// Format is a page file format.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatOrg      Format = "org"
)

// Ext returns the file extension for f, defaulting to markdown.
func (f Format) Ext() string {
	if f == FormatOrg {
		return ".org"
	}
	return ".md"
}

// Other returns the alternate format.
func (f Format) Other() Format {
	if f == FormatOrg {
		return FormatMarkdown
	}
	return FormatOrg
}

// ParseFormat maps host spellings (":markdown", "Markdown", "org") to a Format.
func ParseFormat(s string) Format {
	s = strings.ToLower(strings.TrimLeft(strings.TrimSpace(s), ":"))
	if s == "org" {
		return FormatOrg
	}
	return FormatMarkdown
}

// Page is a page identity record as reported by the host.
type Page struct {
	UUID string `json:"uuid"`
	// Name is the page's original (display) title
	Name    string `json:"name"`
	Journal bool   `json:"journal"`
	// UpdatedAt is the host-tracked update time in epoch milliseconds, 0 if unknown
	UpdatedAt int64  `json:"updatedAt"`
	Format    Format `json:"format,omitempty"`

	// File is the stem of the page's file name when the host knows it.
	// Empty means the stem is the encoded Name.
	File string `json:"file,omitempty"`
}

// UserConfigs holds host settings read at startup and on graph switch.
type UserConfigs struct {
	CurrentGraph        string `json:"currentGraph"`
	PreferredLanguage   string `json:"preferredLanguage"`
	PreferredDateFormat string `json:"preferredDateFormat"`
	PreferredFormat     Format `json:"preferredFormat"`
}

// Host is the note-taking application cardbox indexes.
type Host interface {
	// AllPages returns the full page list of the current graph.
	AllPages(ctx context.Context) ([]Page, error)

	// PageBlocksTree returns the block tree of a page addressed by uuid or name.
	// A page that no longer exists yields an error matching ErrNotExist.
	PageBlocksTree(ctx context.Context, idOrName string) ([]*card.Block, error)

	// Page resolves a page identity by title.
	Page(ctx context.Context, name string) (*Page, error)

	// OnChanged registers fn for raw change batches, delivered serially.
	// The returned func unsubscribes; calling it more than once is harmless.
	OnChanged(fn func(change.Changes)) (unsubscribe func())

	// UserConfigs returns the current graph and preferences.
	UserConfigs(ctx context.Context) (UserConfigs, error)
}

// TagResolver is implemented by hosts that can list pages carrying a tag.
type TagResolver interface {
	PagesWithTag(ctx context.Context, tag string) ([]string, error)
}

// GraphPath strips the local-graph prefix from a graph identifier, leaving
// the graph's directory.
func GraphPath(graph string) string {
	return strings.TrimPrefix(graph, LocalGraphPrefix)
}
