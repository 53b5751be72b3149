package anchor

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/smartlink/doctree"
)

// DefaultAllowedContainers are the block elements that may receive a link.
var DefaultAllowedContainers = []string{"p", "ul"}

// Locator finds the Nth occurrence of a text string inside a document.
type Locator struct {
	allowed map[string]bool
}

// NewLocator creates a Locator with the given container allow-list. An empty
// list falls back to DefaultAllowedContainers.
func NewLocator(allowed []string) *Locator {
	if len(allowed) == 0 {
		allowed = DefaultAllowedContainers
	}
	m := make(map[string]bool, len(allowed))
	for _, tag := range allowed {
		m[tag] = true
	}
	return &Locator{allowed: m}
}

// Locate walks leaf blocks in document order, accumulating a running
// occurrence counter for text, and returns the range where the count equals
// offset. Occurrences are counted non-overlapping.
//
// If the selected occurrence's block is not in the container allow-list the
// result is ErrUnsupportedContainer: the match is not promoted to the next
// occurrence. Synthetic pseudo-blocks (plain-text documents) are always
// allowed; their wrapper is not part of the source.
//
// Matches spanning adjacent text nodes (inline formatting splitting the
// text) are not found; the locator only matches within a single text node.
func (lc *Locator) Locate(doc *doctree.Document, text string, offset int) (*TextRange, error) {
	if text == "" {
		return nil, ErrTextNotFound
	}

	count := 0
	for i, b := range doc.Leaves() {
		blockText := b.Text()
		if !strings.Contains(blockText, text) {
			continue
		}

		inner := 0
		pos := 0
		for {
			idx := strings.Index(blockText[pos:], text)
			if idx < 0 {
				break
			}
			if count == offset {
				return lc.rangeAt(b, i, text, inner)
			}
			count++
			inner++
			pos += idx + len(text)
		}
	}
	return nil, ErrTextNotFound
}

func (lc *Locator) rangeAt(b *doctree.Block, blockIndex int, text string, inner int) (*TextRange, error) {
	if !b.Synthetic {
		root := b.Root()
		if root == nil || !lc.allowed[root.Data] {
			return nil, ErrUnsupportedContainer
		}
	}

	tn := findTextNode(b, text, inner)
	if tn == nil {
		return nil, ErrTextNotFound
	}

	start := strings.Index(tn.Data, text)
	return &TextRange{
		Block:      b,
		BlockIndex: blockIndex,
		TextNode:   tn,
		Start:      start,
		End:        start + len(text),
		Occurrence: inner,
	}, nil
}

// findTextNode returns the text node containing text, skipping the first
// `skip` text nodes that contain it, in depth-first order.
func findTextNode(b *doctree.Block, text string, skip int) *html.Node {
	var found *html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.TextNode && strings.Contains(n.Data, text) {
			if skip == 0 {
				found = n
				return
			}
			skip--
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range b.Nodes {
		walk(n)
	}
	return found
}

// nodeText returns the concatenated text content of a node subtree.
func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// attrVal returns the value of the named attribute, or "".
func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// setAttr updates the named attribute in place, appending it if absent.
func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
