package localgraph

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/hpungsan/cardbox/internal/card"
	"github.com/hpungsan/cardbox/internal/host"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var (
	// propRegex matches "key:: value" block properties
	propRegex = regexp.MustCompile(`^\s*([A-Za-z0-9_\-/]+)::\s*(.*)$`)

	// orgPropRegex matches "#+key: value" org keywords
	orgPropRegex = regexp.MustCompile(`^\s*#\+([A-Za-z0-9_\-]+):\s*(.*)$`)

	// headlineRegex matches an org headline and captures its stars
	headlineRegex = regexp.MustCompile(`^(\*+)\s+(.*)$`)
)

var markdown = goldmark.New()

// parseBlocks turns a page file into its block tree. Block uuids come from
// an "id::" property when present, else they are derived from the page uuid
// and the block's position so they are stable across reads.
func parseBlocks(src []byte, format host.Format, pageUUID string) []*card.Block {
	var blocks []*card.Block
	if format == host.FormatOrg {
		blocks = parseOrg(string(src))
	} else {
		blocks = parseMarkdown(src)
	}
	assignUUIDs(blocks, pageUUID)
	return blocks
}

// parseMarkdown maps outline bullets to blocks. Top-level content outside
// any list (page properties, loose paragraphs) becomes a block of its own.
func parseMarkdown(src []byte) []*card.Block {
	doc := markdown.Parser().Parse(text.NewReader(src))

	var blocks []*card.Block
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if list, ok := n.(*ast.List); ok {
			blocks = append(blocks, listItems(list, src)...)
			continue
		}
		if content := nodeText(n, src); content != "" {
			blocks = append(blocks, &card.Block{Content: content})
		}
	}
	return blocks
}

// listItems converts the items of a list, nesting sub-lists as children.
func listItems(list *ast.List, src []byte) []*card.Block {
	var out []*card.Block
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		b := &card.Block{}
		var lines []string
		for c := item.FirstChild(); c != nil; c = c.NextSibling() {
			if sub, ok := c.(*ast.List); ok {
				b.Children = append(b.Children, listItems(sub, src)...)
				continue
			}
			if t := nodeText(c, src); t != "" {
				lines = append(lines, t)
			}
		}
		b.Content = strings.Join(lines, "\n")
		out = append(out, b)
	}
	return out
}

// nodeText returns the raw source lines of a block node.
func nodeText(n ast.Node, src []byte) string {
	if n.Type() == ast.TypeBlock && n.Lines().Len() > 0 {
		segs := n.Lines()
		lines := make([]string, 0, segs.Len())
		for i := 0; i < segs.Len(); i++ {
			seg := segs.At(i)
			lines = append(lines, strings.TrimRight(string(seg.Value(src)), "\r\n"))
		}
		return strings.Join(lines, "\n")
	}

	var parts []string
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t := nodeText(c, src); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

// parseOrg maps org headlines to blocks; the number of stars is the depth.
// Lines before the first headline form a leading block.
func parseOrg(src string) []*card.Block {
	var (
		roots []*card.Block
		stack []*card.Block // stack[d] is the open block at depth d
		pre   []string
	)

	for _, line := range strings.Split(strings.ReplaceAll(src, "\r\n", "\n"), "\n") {
		m := headlineRegex.FindStringSubmatch(line)
		if m == nil {
			if len(stack) == 0 {
				pre = append(pre, line)
				continue
			}
			cur := stack[len(stack)-1]
			cur.Content += "\n" + strings.TrimSpace(line)
			continue
		}

		depth := len(m[1]) - 1
		if depth > len(stack) {
			depth = len(stack)
		}
		b := &card.Block{Content: m[2]}
		stack = stack[:depth]
		if depth == 0 {
			roots = append(roots, b)
		} else {
			parent := stack[depth-1]
			parent.Children = append(parent.Children, b)
		}
		stack = append(stack, b)
	}

	trimContent(roots)
	if leading := strings.TrimSpace(strings.Join(pre, "\n")); leading != "" {
		roots = append([]*card.Block{{Content: leading}}, roots...)
	}
	return roots
}

func trimContent(blocks []*card.Block) {
	stack := append([]*card.Block(nil), blocks...)
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		b.Content = strings.TrimRight(b.Content, "\n ")
		stack = append(stack, b.Children...)
	}
}

// assignUUIDs fills in block uuids in pre-order.
func assignUUIDs(blocks []*card.Block, pageUUID string) {
	ns, err := uuid.Parse(pageUUID)
	if err != nil {
		ns = uuid.NameSpaceOID
	}

	type item struct {
		b    *card.Block
		path string
	}
	stack := make([]item, 0, len(blocks))
	for i := len(blocks) - 1; i >= 0; i-- {
		stack = append(stack, item{blocks[i], strconv.Itoa(i)})
	}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if id := properties(it.b.Content)["id"]; id != "" {
			it.b.UUID = id
		} else {
			it.b.UUID = uuid.NewSHA1(ns, []byte(it.path)).String()
		}
		for i := len(it.b.Children) - 1; i >= 0; i-- {
			stack = append(stack, item{it.b.Children[i], it.path + "." + strconv.Itoa(i)})
		}
	}
}

// properties collects "key:: value" and "#+key: value" lines, keys lower-cased.
func properties(content string) map[string]string {
	props := map[string]string{}
	for _, line := range strings.Split(content, "\n") {
		m := propRegex.FindStringSubmatch(line)
		if m == nil {
			m = orgPropRegex.FindStringSubmatch(line)
		}
		if m == nil {
			continue
		}
		key := strings.ToLower(m[1])
		if _, seen := props[key]; !seen {
			props[key] = strings.TrimSpace(m[2])
		}
	}
	return props
}

// parseTags splits a tags property: "[[a]], #b, c d" yields a, b, "c d".
func parseTags(value string) []string {
	var tags []string
	for _, part := range strings.Split(value, ",") {
		t := strings.TrimSpace(part)
		t = strings.TrimPrefix(t, "#")
		t = strings.TrimPrefix(t, "[[")
		t = strings.TrimSuffix(t, "]]")
		t = strings.TrimSpace(t)
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
