package anchor

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ValidatePlacement decides whether the range may receive a link pointing at
// href, walking up from the text node to the block root.
//
// If an ancestor anchor is found, placement is only legal when that anchor is
// the direct parent of the text node AND its full text equals the candidate
// text (trimmed): anything else would nest a link inside a link. A legal
// placement over an existing anchor is a full in-place replacement, unless
// the anchor already points at href.
func ValidatePlacement(rng *TextRange, text, href string) (Placement, error) {
	for cur := rng.TextNode; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode || cur.DataAtom != atom.A {
			continue
		}

		if cur != rng.TextNode.Parent {
			return Placement{}, ErrNestedLink
		}
		if strings.TrimSpace(nodeText(cur)) != strings.TrimSpace(text) {
			return Placement{}, ErrNestedLink
		}
		if attrVal(cur, "href") == href {
			return Placement{}, ErrAlreadyLinked
		}
		return Placement{Mode: PlacementReplace, Anchor: cur}, nil
	}

	return Placement{Mode: PlacementWrap}, nil
}
