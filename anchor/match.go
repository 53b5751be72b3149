package anchor

import (
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/smartlink/doctree"
)

// occurrenceCount tracks, per text#offset key, how many times the text has
// been encountered across the whole walk and whether its link already
// resolved.
type occurrenceCount struct {
	encountered int
	linked      int
}

// CalculateMatches computes each link's block position and intra-block
// occurrence offset in one pass over the block tree. The occurrence counter
// is threaded across the entire tree, not reset per block, so a link's
// document-order Offset resolves to the right block no matter where the
// occurrences fall.
//
// Occurrences enclosed in an existing anchor are skipped, unless that anchor
// wraps the full link text (a replaceable placement). Read-only: the blocks
// are never mutated. Links that do not resolve keep a nil Match; callers
// drop them rather than trusting a stale one.
func CalculateMatches(blocks []*doctree.Block, links []*Link) []*Link {
	counts := make(map[string]*occurrenceCount)
	leafIndex := 0
	calculateMatches(blocks, links, counts, &leafIndex)
	return links
}

func calculateMatches(blocks []*doctree.Block, links []*Link, counts map[string]*occurrenceCount, leafIndex *int) {
	for _, b := range blocks {
		if len(b.Children) > 0 {
			calculateMatches(b.Children, links, counts, leafIndex)
			continue
		}

		root := b.Root()
		if root != nil {
			matchLeaf(b, root, links, counts, *leafIndex)
		}
		*leafIndex++
	}
}

func matchLeaf(b *doctree.Block, root *html.Node, links []*Link, counts map[string]*occurrenceCount, leafIndex int) {
	fullText := b.Text()

	for _, link := range links {
		key := link.Text + "#" + strconv.Itoa(link.Offset)
		oc := counts[key]
		if oc == nil {
			oc = &occurrenceCount{}
			counts[key] = oc
		}

		cumulative := 0
		blockOccurrence := 0
		for _, tn := range textNodesNotInAnchor(root, link.Text) {
			startPos := indexFrom(fullText, tn.Data, cumulative)

			pos := 0
			for {
				idx := strings.Index(tn.Data[pos:], link.Text)
				if idx < 0 {
					break
				}
				abs := pos + idx
				oc.encountered++
				blockOccurrence++

				if oc.encountered-1 == link.Offset && oc.linked < 1 {
					oc.linked++
					link.Match = &Match{
						BlockID:         b.ID,
						BlockPosition:   leafIndex,
						BlockOccurrence: blockOccurrence - 1,
						BlockCharOffset: startPos + abs,
					}
				}
				pos = abs + len(link.Text)
			}
			cumulative += len(tn.Data)
		}
	}
}

// textNodesNotInAnchor returns the text nodes under root that contain
// searchText and are not enclosed in an anchor, except anchors whose full
// text contains searchText (those are replaceable, so their occurrence still
// counts).
func textNodesNotInAnchor(root *html.Node, searchText string) []*html.Node {
	var out []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode && strings.Contains(n.Data, searchText) {
			for p := n.Parent; p != nil && p != root; p = p.Parent {
				if p.Type == html.ElementNode && p.DataAtom == atom.A && !strings.Contains(nodeText(p), searchText) {
					return
				}
			}
			out = append(out, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

// indexFrom is strings.Index starting at from, falling back to 0 when the
// substring does not occur past that point.
func indexFrom(s, sub string, from int) int {
	if from > len(s) {
		return 0
	}
	idx := strings.Index(s[from:], sub)
	if idx < 0 {
		return 0
	}
	return from + idx
}

// FindApplied resolves an applied link's block by scanning for its UID
// attribute directly; occurrence counting is not needed once the anchor is
// in the document.
func FindApplied(blocks []*doctree.Block, uid string) *Match {
	leafIndex := 0
	return findApplied(blocks, uid, &leafIndex)
}

func findApplied(blocks []*doctree.Block, uid string, leafIndex *int) *Match {
	for _, b := range blocks {
		if len(b.Children) > 0 {
			if m := findApplied(b.Children, uid, leafIndex); m != nil {
				return m
			}
			continue
		}

		if root := b.Root(); root != nil && containsUID(root, uid) {
			return &Match{
				BlockID:         b.ID,
				BlockPosition:   *leafIndex,
				BlockOccurrence: -1,
				BlockCharOffset: -1,
			}
		}
		*leafIndex++
	}
	return nil
}

func containsUID(n *html.Node, uid string) bool {
	if n.Type == html.ElementNode && n.DataAtom == atom.A && attrVal(n, UIDAttr) == uid {
		return true
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if containsUID(c, uid) {
			return true
		}
	}
	return false
}

// LinkOffset computes the document-order occurrence offset of an applied
// anchor: how many occurrences of its own text precede it. The inverse of
// Locate, used to rebuild a link's Offset from the document itself.
func LinkOffset(doc *doctree.Document, uid string) int {
	_, anchorNode := findAnchor(doc, uid)
	if anchorNode == nil {
		return -1
	}
	text := strings.TrimSpace(nodeText(anchorNode))
	if text == "" {
		return -1
	}

	occurrence := 0
	for _, b := range doc.Leaves() {
		var walk func(n *html.Node) bool
		walk = func(n *html.Node) bool {
			if n == anchorNode {
				return true
			}
			if n.Type == html.TextNode {
				occurrence += strings.Count(n.Data, text)
				return false
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if walk(c) {
					return true
				}
			}
			return false
		}
		for _, n := range b.Nodes {
			if walk(n) {
				return occurrence
			}
		}
	}
	return -1
}

// SortLinks orders links by block position, then by character position
// within the block; pending links sort before applied ones.
func SortLinks(links []*Link) []*Link {
	byPosition := func(a, b *Link) bool {
		if a.Match == nil || b.Match == nil {
			return false
		}
		if a.Match.BlockPosition == b.Match.BlockPosition {
			return a.Match.BlockCharOffset < b.Match.BlockCharOffset
		}
		return a.Match.BlockPosition < b.Match.BlockPosition
	}

	var pending, applied []*Link
	for _, l := range links {
		if l.Applied() {
			applied = append(applied, l)
		} else {
			pending = append(pending, l)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool { return byPosition(pending[i], pending[j]) })
	sort.SliceStable(applied, func(i, j int) bool { return byPosition(applied[i], applied[j]) })

	return append(pending, applied...)
}
