// Package change classifies raw host change batches into page operations.
package change

import (
	"regexp"

	"github.com/hpungsan/cardbox/internal/codec"
)

// Operation is the semantic meaning of a change batch.
type Operation string

const (
	OpNone     Operation = ""
	OpCreated  Operation = "created"
	OpModified Operation = "modified"
	OpDeleted  Operation = "deleted"
)

// Attribute names the classifier looks for.
const (
	AttrLastModified = "lastModifiedAt"
	AttrOriginalName = "originalName"
)

// datomLen is the shape of a full attribute-change tuple:
// [entity, attribute, value, tx, added].
const datomLen = 5

// pagePathRegex extracts the encoded file name from a page file path.
var pagePathRegex = regexp.MustCompile(`(?:^|/)pages/(.+)\.(md|org)$`)

// Entity is a changed entity in a batch. Only file entities carry a Path.
type Entity struct {
	ID   int64  `json:"id,omitempty"`
	Path string `json:"path,omitempty"`
}

// Datom is one attribute-level assertion or retraction, as delivered by the host.
type Datom []any

// Attr returns the attribute name, or "" if the tuple has none.
func (d Datom) Attr() string {
	if len(d) < 2 {
		return ""
	}
	s, _ := d[1].(string)
	return s
}

// Value returns the asserted or retracted value.
func (d Datom) Value() any {
	if len(d) < 3 {
		return nil
	}
	return d[2]
}

// Added reports whether the tuple is an assertion. ok is false when the
// tuple has no boolean added flag.
func (d Datom) Added() (added, ok bool) {
	if len(d) < datomLen {
		return false, false
	}
	added, ok = d[4].(bool)
	return added, ok
}

// Changes is one raw change batch from the host.
type Changes struct {
	Blocks []Entity       `json:"blocks"`
	TxData []Datom        `json:"txData"`
	TxMeta map[string]any `json:"txMeta,omitempty"`
}

// Result is the classification of a change batch.
type Result struct {
	Op Operation `json:"op"`

	// Name is the logical page title, or "" when it could not be derived
	Name string `json:"name"`

	// Path is the file path for modify events
	Path string `json:"path,omitempty"`

	// Format is "markdown" or "org" for modify events on page files
	Format string `json:"format,omitempty"`
}

// Classify inspects a change batch. Rules, first match wins:
//  1. a changed entity with a file path and a first tuple updating
//     lastModifiedAt is a modify of that file;
//  2. a well-formed originalName tuple is a create (asserted) or delete (retracted);
//  3. anything else is OpNone.
//
// Only the first match is reported even if the batch touches several pages.
func Classify(ch Changes) Result {
	for _, e := range ch.Blocks {
		if e.Path == "" {
			continue
		}
		if len(ch.TxData) == 0 {
			continue
		}
		if ch.TxData[0].Attr() != AttrLastModified {
			continue
		}
		res := Result{Op: OpModified, Path: e.Path}
		res.Name, res.Format, _ = PageNameFromPath(e.Path)
		return res
	}

	for _, d := range ch.TxData {
		if len(d) != datomLen || d.Attr() != AttrOriginalName {
			continue
		}
		name, ok := d.Value().(string)
		if !ok {
			continue
		}
		added, ok := d.Added()
		if !ok {
			continue
		}
		if added {
			return Result{Op: OpCreated, Name: name}
		}
		return Result{Op: OpDeleted, Name: name}
	}

	return Result{Op: OpNone}
}

// PageNameFromPath derives the page title and format from a page file path
// such as "pages/projects___cardbox.md". ok is false for non-page paths.
func PageNameFromPath(path string) (name, format string, ok bool) {
	m := pagePathRegex.FindStringSubmatch(path)
	if m == nil {
		return "", "", false
	}
	format = "markdown"
	if m[2] == "org" {
		format = "org"
	}
	return codec.Decode(m[1]), format, true
}
