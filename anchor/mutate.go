package anchor

import (
	stdhtml "html"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/smartlink/doctree"
)

// Mutator inserts, removes and replaces anchor elements in a document,
// producing new document markup. Mutations are scoped to the single line of
// the original markup containing the changed fragment, so identical text
// elsewhere in the document is never rewritten.
type Mutator struct {
	locator *Locator
}

// NewMutator creates a Mutator using the given container allow-list.
func NewMutator(allowed []string) *Mutator {
	return &Mutator{locator: NewLocator(allowed)}
}

// Locator exposes the mutator's locator for read-only lookups.
func (m *Mutator) Locator() *Locator { return m.locator }

// ApplyResult reports what Apply changed.
type ApplyResult struct {
	// Content is the full document markup after the mutation.
	Content string

	// Paragraph is the containing block's markup before the mutation,
	// captured for backup.
	Paragraph string
	BlockID   string

	// ReplacedAttrs holds the replaced anchor's original attribute set,
	// verbatim and in order, when the placement was a replacement. Nil in
	// wrap mode.
	ReplacedAttrs []html.Attribute

	// ReplacedUID is the UID the replaced anchor carried before, if any.
	ReplacedUID string
}

// Apply places link's anchor around the Offset-th occurrence of its text.
//
// In replace mode the existing anchor's href, UID attribute and title are
// overwritten in place, and its prior attribute set is captured in
// ReplacedAttrs so a later Remove can reconstruct it exactly. In wrap mode
// the owning text node is split into before|match|after and a new anchor
// element wraps the match.
func (m *Mutator) Apply(doc *doctree.Document, link *Link) (*ApplyResult, error) {
	rng, err := m.locator.Locate(doc, link.Text, link.Offset)
	if err != nil {
		return nil, err
	}

	placement, err := ValidatePlacement(rng, link.Text, link.Href)
	if err != nil {
		return nil, err
	}

	res := &ApplyResult{
		Paragraph: blockMarkup(rng.Block),
		BlockID:   rng.Block.ID,
	}

	var anchorNode *html.Node
	switch placement.Mode {
	case PlacementReplace:
		existing := placement.Anchor
		res.ReplacedAttrs = append([]html.Attribute(nil), existing.Attr...)
		res.ReplacedUID = attrVal(existing, UIDAttr)

		setAttr(existing, "href", link.Href)
		setAttr(existing, UIDAttr, link.UID)
		if link.Title != "" {
			setAttr(existing, "title", link.Title)
		}
		anchorNode = existing

	case PlacementWrap:
		anchorNode = newAnchorNode(link)
		tn := rng.TextNode
		parent := tn.Parent

		if before := tn.Data[:rng.Start]; before != "" {
			parent.InsertBefore(&html.Node{Type: html.TextNode, Data: before}, tn)
		}
		parent.InsertBefore(anchorNode, tn)
		if after := tn.Data[rng.End:]; after != "" {
			parent.InsertBefore(&html.Node{Type: html.TextNode, Data: after}, tn)
		}
		parent.RemoveChild(tn)
	}

	mutated := blockMarkup(rng.Block)
	newLine := findLineWithText(mutated, doctree.Render(anchorNode))
	if newLine == "" {
		return nil, ErrOriginalLineNotFound
	}

	originalLine := findOriginalLine(doc.Source, newLine)
	if originalLine == "" {
		return nil, ErrOriginalLineNotFound
	}

	res.Content = strings.Replace(doc.Source, originalLine, newLine, 1)
	return res, nil
}

// RemoveResult reports what Remove changed.
type RemoveResult struct {
	Content string

	// Paragraph is the containing block's markup before the removal.
	Paragraph string
	BlockID   string

	// Restored is true when an original anchor was reconstructed instead of
	// unwrapping to plain text.
	Restored bool
}

// Remove locates the anchor carrying uid anywhere in the document and
// removes it. When restore holds an original attribute set, an anchor with
// exactly those attributes and the same inner text replaces the smart-link
// anchor; otherwise the anchor is unwrapped to a plain text node.
//
// Remove is not range-based: it works even if the document changed shape
// since the link was applied.
func (m *Mutator) Remove(doc *doctree.Document, uid string, restore []html.Attribute) (*RemoveResult, error) {
	block, anchorNode := findAnchor(doc, uid)
	if anchorNode == nil {
		return nil, ErrAnchorNotFound
	}

	before := blockMarkup(block)
	inner := nodeText(anchorNode)

	var repl *html.Node
	restored := false
	if restore != nil {
		repl = &html.Node{Type: html.ElementNode, Data: "a", DataAtom: atom.A}
		for _, a := range restore {
			if a.Val == "" {
				continue
			}
			repl.Attr = append(repl.Attr, a)
		}
		repl.AppendChild(&html.Node{Type: html.TextNode, Data: inner})
		restored = true
	} else {
		repl = &html.Node{Type: html.TextNode, Data: inner}
	}

	parent := anchorNode.Parent
	parent.InsertBefore(repl, anchorNode)
	parent.RemoveChild(anchorNode)

	after := blockMarkup(block)

	content, err := spliceBlock(doc.Source, before, after, uid)
	if err != nil {
		return nil, err
	}

	return &RemoveResult{
		Content:   content,
		Paragraph: before,
		BlockID:   block.ID,
		Restored:  restored,
	}, nil
}

// Check runs locate and validate without mutating anything: the pre-flight
// used to mark suggestions valid or invalid before the user commits.
func (m *Mutator) Check(doc *doctree.Document, link *Link) error {
	rng, err := m.locator.Locate(doc, link.Text, link.Offset)
	if err != nil {
		return err
	}
	_, err = ValidatePlacement(rng, link.Text, link.Href)
	return err
}

// Paragraph describes the block containing an applied link's anchor.
type Paragraph struct {
	BlockID string
	Markup  string
	IsFirst bool
	IsLast  bool
}

// FindParagraph returns the block containing the anchor carrying uid.
func FindParagraph(doc *doctree.Document, uid string) (*Paragraph, error) {
	block, anchorNode := findAnchor(doc, uid)
	if anchorNode == nil {
		return nil, ErrAnchorNotFound
	}
	leaves := doc.Leaves()
	return &Paragraph{
		BlockID: block.ID,
		Markup:  blockMarkup(block),
		IsFirst: len(leaves) > 0 && leaves[0] == block,
		IsLast:  len(leaves) > 0 && leaves[len(leaves)-1] == block,
	}, nil
}

// newAnchorNode builds the smart-link anchor element for wrap mode.
func newAnchorNode(link *Link) *html.Node {
	n := &html.Node{
		Type:     html.ElementNode,
		Data:     "a",
		DataAtom: atom.A,
		Attr: []html.Attribute{
			{Key: UIDAttr, Val: link.UID},
			{Key: "href", Val: link.Href},
		},
	}
	if link.Title != "" {
		n.Attr = append(n.Attr, html.Attribute{Key: "title", Val: link.Title})
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: link.Text})
	return n
}

// findAnchor scans all leaf blocks for the anchor element whose UID
// attribute equals uid.
func findAnchor(doc *doctree.Document, uid string) (*doctree.Block, *html.Node) {
	for _, b := range doc.Leaves() {
		var found *html.Node
		var walk func(n *html.Node)
		walk = func(n *html.Node) {
			if found != nil {
				return
			}
			if n.Type == html.ElementNode && n.DataAtom == atom.A && attrVal(n, UIDAttr) == uid {
				found = n
				return
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
		}
		for _, n := range b.Nodes {
			walk(n)
		}
		if found != nil {
			return b, found
		}
	}
	return nil, nil
}

// blockMarkup serializes a block's current state. Synthetic pseudo-blocks
// serialize without their wrapper, which is not part of the source.
func blockMarkup(b *doctree.Block) string {
	if b.Synthetic {
		return b.InnerMarkup()
	}
	return doctree.Render(b.Nodes...)
}

// spliceBlock replaces a block's old serialization with its new one inside
// the full document markup. The serialized form is tried first; if it does
// not occur verbatim (the stored markup predates this engine and does not
// round-trip), the replacement falls back to the single line carrying the
// anchor's UID.
func spliceBlock(source, before, after, uid string) (string, error) {
	if strings.Contains(source, before) {
		return strings.Replace(source, before, after, 1), nil
	}

	originalLine := findLineWithText(source, uid)
	if originalLine == "" {
		return "", ErrOriginalLineNotFound
	}

	beforeLines := strings.Split(before, "\n")
	afterLines := strings.Split(after, "\n")
	for i, l := range beforeLines {
		if strings.Contains(l, uid) && i < len(afterLines) {
			return strings.Replace(source, originalLine, afterLines[i], 1), nil
		}
	}
	return "", ErrOriginalLineNotFound
}

// findLineWithText returns the first line of markup containing text.
func findLineWithText(markup, text string) string {
	for _, line := range strings.Split(markup, "\n") {
		if strings.Contains(line, text) {
			return line
		}
	}
	return ""
}

// findOriginalLine finds which line of the original markup corresponds to
// searchLine: by exact match first, then by normalized comparison (tags
// stripped, whitespace collapsed, case folded, entities decoded). The
// normalized fallback is what usually matches, since searchLine carries the
// new anchor markup the original line lacks.
//
// With duplicate normalized lines the first match wins; a known correctness
// boundary.
func findOriginalLine(original, searchLine string) string {
	for _, line := range strings.Split(original, "\n") {
		if line == searchLine {
			return line
		}
		if sameLine(line, searchLine) {
			return line
		}
	}
	return ""
}

var (
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// sameLine reports whether two lines are equal ignoring markup and
// formatting.
func sameLine(line1, line2 string) bool {
	return normalizeLine(line1) == normalizeLine(line2)
}

func normalizeLine(line string) string {
	s := tagPattern.ReplaceAllString(line, "")
	s = whitespacePattern.ReplaceAllString(strings.TrimSpace(s), " ")
	s = strings.ToLower(s)
	return stdhtml.UnescapeString(s)
}
