package card

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultSummaryMaxChars is the default character budget for a card summary.
const DefaultSummaryMaxChars = 100

// Block is one node of a page's content tree.
type Block struct {
	UUID     string   `json:"uuid,omitempty"`
	Content  string   `json:"content"`
	Children []*Block `json:"children,omitempty"`
}

var (
	// propertyRegex matches "key:: value" property lines
	propertyRegex = regexp.MustCompile(`^\s*[^\s:]+::(\s|$)`)

	// delimiterRegex matches horizontal rules and front-matter fences
	delimiterRegex = regexp.MustCompile(`^\s*-{3,}\s*$`)

	// orgKeywordRegex matches org-mode "#+KEY:" lines
	orgKeywordRegex = regexp.MustCompile(`^\s*#\+[A-Za-z_]+:`)

	// assetImageRegex matches an embedded ../assets image in [..] or (..) wrappers
	assetImageRegex = regexp.MustCompile(`(?i)[\[(]\.\./assets/([^\[\]()]+?\.(?:png|jpe?g))[\])]`)
)

// frame is a cursor into one sibling list during traversal.
type frame struct {
	blocks []*Block
	index  int
}

// Extract derives the summary lines and embedded image of a page.
// maxChars <= 0 selects DefaultSummaryMaxChars.
func Extract(blocks []*Block, maxChars int) ([]string, string) {
	return Summarize(blocks, maxChars), FindImage(blocks)
}

// Summarize walks the block tree depth-first, parent before children, and
// collects summary lines until maxChars characters (runes) are used.
// The last line is cut to fit the remaining budget rather than dropped.
func Summarize(blocks []*Block, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultSummaryMaxChars
	}

	summary := []string{}
	if len(blocks) == 0 {
		return summary
	}

	total := 0
	stack := []frame{{blocks: blocks}}
	for total < maxChars && len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.index >= len(top.blocks) {
			stack = stack[:len(stack)-1]
			continue
		}
		b := top.blocks[top.index]
		top.index++
		if b == nil {
			continue
		}

		if line, ok := summaryLine(b.Content, len(stack)-1); ok {
			line = truncateRunes(line, maxChars-total)
			total += utf8.RuneCountInString(line)
			summary = append(summary, line)
		}

		if len(b.Children) > 0 {
			stack = append(stack, frame{blocks: b.Children})
		}
	}

	return summary
}

// FindImage returns the first embedded asset image in the tree, or "".
// Unlike Summarize it is not bounded and may visit every block.
func FindImage(blocks []*Block) string {
	stack := []frame{{blocks: blocks}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.index >= len(top.blocks) {
			stack = stack[:len(stack)-1]
			continue
		}
		b := top.blocks[top.index]
		top.index++
		if b == nil {
			continue
		}

		if m := assetImageRegex.FindStringSubmatch(b.Content); m != nil {
			return m[1]
		}

		if len(b.Children) > 0 {
			stack = append(stack, frame{blocks: b.Children})
		}
	}
	return ""
}

// summaryLine turns block content into a summary line for the given depth.
// Returns false when every line of the block is metadata.
func summaryLine(content string, depth int) (string, bool) {
	lines := strings.Split(content, "\n")
	kept := lines[:0:0]
	for _, l := range lines {
		l = strings.TrimRight(l, "\r")
		if isMetadataLine(l) {
			continue
		}
		kept = append(kept, l)
	}
	if len(kept) == 0 {
		return "", false
	}

	text := strings.Join(kept, " ")
	if depth > 0 {
		text = strings.Repeat("  ", depth) + "* " + text
	}
	return text, true
}

// isMetadataLine reports whether l is a property, delimiter, or org keyword line.
func isMetadataLine(l string) bool {
	return propertyRegex.MatchString(l) || delimiterRegex.MatchString(l) || orgKeywordRegex.MatchString(l)
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
