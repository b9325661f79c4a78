package card

// Card is the cached summary of one page, keyed by (Graph, Name).
type Card struct {
	// Graph identifies the workspace the page belongs to
	Graph string `json:"graph"`

	// Name is the page's logical title (unique within Graph)
	Name string `json:"name"`

	// UUID is the stable identifier the host assigned to the page
	UUID string `json:"uuid"`

	// Time is the last known modification time in epoch milliseconds
	Time int64 `json:"time"`

	// Summary holds the excerpt lines, bounded by the summary budget
	Summary []string `json:"summary"`

	// Image is an embedded asset file name, or "" for none
	Image string `json:"image"`
}

// Key returns the compound key of the card.
func (c *Card) Key() Key {
	return Key{Graph: c.Graph, Name: c.Name}
}

// Key addresses a card in the index.
type Key struct {
	Graph string `json:"graph"`
	Name  string `json:"name"`
}

// Patch lists card fields to change in place; nil fields are left untouched.
// The key fields are never patched.
type Patch struct {
	UUID    *string
	Time    *int64
	Summary *[]string
	Image   *string
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.UUID == nil && p.Time == nil && p.Summary == nil && p.Image == nil
}

// IsEmptySummary reports whether extracted content counts as "no content":
// no lines at all, or a single empty line. Such pages have no card.
func IsEmptySummary(summary []string) bool {
	return len(summary) == 0 || (len(summary) == 1 && summary[0] == "")
}
