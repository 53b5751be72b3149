// Package anchor implements the smart-link placement engine: locating the
// Nth occurrence of a text fragment in a block-structured document,
// validating that a link may legally wrap it, and mutating the document
// markup to insert, remove or update the anchor element.
//
// The engine is pure: it operates on parsed doctree documents and returns
// new markup. Persistence and transactions live in the linker package.
package anchor

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"

	"golang.org/x/net/html"

	"github.com/hazyhaar/smartlink/doctree"
)

// UIDAttr is the attribute carrying a smart link's UID on its anchor element.
// One anchor per UID per document.
const UIDAttr = "data-smartlink"

// Status is a smart link's lifecycle state.
type Status string

const (
	// StatusPending marks a suggestion with no anchor in the document yet.
	StatusPending Status = "pending"
	// StatusApplied marks a link whose anchor is present in the document.
	StatusApplied Status = "applied"
)

// Link is a smart link: a suggestion to wrap one specific occurrence of Text
// in the source document with an anchor pointing at Href.
type Link struct {
	// UID is the stable identity of the link, independent of position.
	UID string `json:"uid"`

	// Text is the exact substring to be linked.
	Text string `json:"text"`

	Href  string `json:"href"`
	Title string `json:"title"`

	// Offset is the 0-based ordinal of which occurrence of Text in the full
	// document this link refers to, counted in document order. It is only
	// meaningful against one document snapshot; once applied, the anchor in
	// the document is the authoritative location.
	Offset int `json:"offset"`

	Status Status `json:"status"`

	// SourceID is the document the anchor lives in; DestinationID the
	// document the link points at (empty for external targets).
	SourceID      string `json:"source_id"`
	DestinationID string `json:"destination_id,omitempty"`

	// Context records which feature created the link.
	Context string `json:"context,omitempty"`

	// Match caches the last-resolved location. Derived data: may be stale,
	// recompute with CalculateMatches before depending on it.
	Match *Match `json:"match,omitempty"`
}

// Applied reports whether the link's anchor is present in the document.
func (l *Link) Applied() bool {
	return l.Status == StatusApplied
}

// Match is a resolved location of a link inside a block tree.
type Match struct {
	BlockID string `json:"block_id"`

	// BlockPosition is the depth-first leaf index of the containing block.
	BlockPosition int `json:"block_position"`

	// BlockOccurrence is the occurrence index of the link text within the
	// block, counting only occurrences outside existing anchors.
	BlockOccurrence int `json:"block_offset"`

	// BlockCharOffset is the character position of the match within the
	// block's plain text content.
	BlockCharOffset int `json:"block_link_position"`
}

// NewUID derives a link's UID from its identifying fields, so regenerating
// the same suggestion yields the same identity.
func NewUID(sourceID, destinationID, href, title, text string, offset int) string {
	sum := md5.Sum([]byte(sourceID + destinationID + href + title + text + strconv.Itoa(offset)))
	return hex.EncodeToString(sum[:])
}

// TextRange is an ephemeral handle to one occurrence of a text string inside
// a document: the containing block, the text node holding the occurrence and
// the character bounds within it. Valid only for the Document snapshot it was
// computed against; never persisted.
type TextRange struct {
	Block      *doctree.Block
	BlockIndex int

	TextNode *html.Node
	Start    int
	End      int

	// Occurrence is how many occurrences of the text precede this one within
	// the same block.
	Occurrence int
}

// PlacementMode says how a validated range receives its anchor.
type PlacementMode int

const (
	// PlacementWrap creates a new anchor element around unlinked text.
	PlacementWrap PlacementMode = iota
	// PlacementReplace overwrites an existing anchor's attributes in place.
	PlacementReplace
)

// Placement is the validator's outcome, consumed exhaustively by the
// mutator. Anchor is set only for PlacementReplace.
type Placement struct {
	Mode   PlacementMode
	Anchor *html.Node
}
