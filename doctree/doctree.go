// Package doctree models a document as an ordered sequence of blocks, each
// holding a fragment of markup parsed with golang.org/x/net/html.
//
// Blocks are the unit of text search: leaf blocks (no children) carry the
// text nodes the anchor engine walks. Documents parsed from stored markup are
// flat; editor-supplied block trees may nest, in which case only the leaves
// carry content.
package doctree

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document is a parsed document: the original markup plus its block sequence.
type Document struct {
	// Source is the markup the document was parsed from, byte for byte.
	Source string

	// Plain marks documents without block-level structure, where blocks were
	// synthesized by splitting on blank lines.
	Plain bool

	Blocks []*Block
}

// Block is one structural unit of a document (a paragraph, a list, ...).
type Block struct {
	ID     string
	Markup string // serialized markup of this block at parse time

	// Nodes is the parsed fragment. For blocks parsed from markup this is a
	// single element node; mutations happen on these live nodes.
	Nodes []*html.Node

	// Children is non-empty for container blocks in editor-supplied trees.
	// Blocks parsed from stored markup are always leaves.
	Children []*Block

	// Synthetic marks pseudo-blocks created by blank-line splitting of
	// plain-text documents. Their Nodes carry a <div> wrapper that is not
	// part of the source.
	Synthetic bool
}

// bodyContext is the parsing context for fragments.
func bodyContext() *html.Node {
	return &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
}

// ParseFragment parses markup as a body fragment. It is forgiving of
// malformed input: the parser recovers rather than failing.
func ParseFragment(markup string) ([]*html.Node, error) {
	nodes, err := html.ParseFragment(strings.NewReader(markup), bodyContext())
	if err != nil {
		return nil, fmt.Errorf("doctree: parse fragment: %w", err)
	}
	return nodes, nil
}

// Render serializes nodes back to markup.
func Render(nodes ...*html.Node) string {
	var sb strings.Builder
	for _, n := range nodes {
		// Render only fails on unrenderable node types, which parsed
		// fragments never contain.
		_ = html.Render(&sb, n)
	}
	return sb.String()
}

// Parse parses block-structured markup into a Document. Every top-level
// element becomes a block; top-level text and comment nodes (inter-block
// whitespace, editor serialization comments) are not blocks.
func Parse(markup string) (*Document, error) {
	nodes, err := ParseFragment(markup)
	if err != nil {
		return nil, err
	}

	doc := &Document{Source: markup}
	for _, n := range nodes {
		if n.Type != html.ElementNode {
			continue
		}
		doc.Blocks = append(doc.Blocks, &Block{
			ID:     fmt.Sprintf("b%d", len(doc.Blocks)),
			Markup: Render(n),
			Nodes:  []*html.Node{n},
		})
	}
	return doc, nil
}

// ParsePlain parses a plain-text document without block structure, splitting
// on blank-line boundaries to synthesize pseudo-blocks. Each paragraph is
// wrapped in a <div> before parsing: paragraphs may themselves contain inline
// markup, and a div accepts any content.
func ParsePlain(content string) (*Document, error) {
	doc := &Document{Source: content, Plain: true}

	for _, para := range strings.Split(content, "\n\n") {
		nodes, err := ParseFragment("<div>" + para + "</div>")
		if err != nil {
			return nil, err
		}
		var root *html.Node
		for _, n := range nodes {
			if n.Type == html.ElementNode {
				root = n
				break
			}
		}
		if root == nil {
			continue
		}
		doc.Blocks = append(doc.Blocks, &Block{
			ID:        fmt.Sprintf("b%d", len(doc.Blocks)),
			Markup:    Render(root),
			Nodes:     []*html.Node{root},
			Synthetic: true,
		})
	}
	return doc, nil
}

// NewBlock builds a leaf block from caller-supplied markup, keeping the
// caller's block identity. Used by editor-side block tree providers.
func NewBlock(id, markup string) (*Block, error) {
	nodes, err := ParseFragment(markup)
	if err != nil {
		return nil, err
	}
	b := &Block{ID: id, Markup: markup}
	for _, n := range nodes {
		if n.Type == html.ElementNode {
			b.Nodes = append(b.Nodes, n)
		}
	}
	return b, nil
}

// Leaves returns the document's leaf blocks in document order.
func (d *Document) Leaves() []*Block {
	var out []*Block
	for _, b := range d.Blocks {
		out = append(out, b.leaves()...)
	}
	return out
}

func (b *Block) leaves() []*Block {
	if len(b.Children) == 0 {
		return []*Block{b}
	}
	var out []*Block
	for _, c := range b.Children {
		out = append(out, c.leaves()...)
	}
	return out
}

// Root returns the block's root element, or nil for an empty block.
func (b *Block) Root() *html.Node {
	for _, n := range b.Nodes {
		if n.Type == html.ElementNode {
			return n
		}
	}
	return nil
}

// Text returns the concatenated text content of the block, in document
// order, with no normalization. Occurrence counting depends on the raw
// concatenation.
func (b *Block) Text() string {
	var sb strings.Builder
	for _, n := range b.Nodes {
		collectText(n, &sb)
	}
	return sb.String()
}

// InnerMarkup serializes the block's content without the block element
// itself. For synthetic pseudo-blocks this strips the <div> wrapper that was
// never part of the source.
func (b *Block) InnerMarkup() string {
	root := b.Root()
	if root == nil {
		return ""
	}
	var sb strings.Builder
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&sb, c)
	}
	return sb.String()
}

func collectText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
}
