package anchor

import "errors"

// ErrTextNotFound is returned when the requested occurrence of the link text
// does not exist in the current document snapshot. Recoverable: the caller
// may re-resolve with CalculateMatches and retry.
var ErrTextNotFound = errors.New("anchor: text occurrence not found")

// ErrAnchorNotFound is returned when no anchor carrying the requested UID
// exists in the document. Reportable but recoverable: the document may have
// been edited externally.
var ErrAnchorNotFound = errors.New("anchor: smart link anchor not found")

// ErrUnsupportedContainer is returned when the requested occurrence exists
// but sits inside a disallowed structural context. The match is not promoted
// to the next occurrence.
var ErrUnsupportedContainer = errors.New("anchor: selection is not within a supported container")

// ErrNestedLink is returned when placing the link would create a link inside
// another link.
var ErrNestedLink = errors.New("anchor: cannot create nested links")

// ErrAlreadyLinked is returned when the enclosing anchor already points at
// the candidate destination.
var ErrAlreadyLinked = errors.New("anchor: text is already linked to this destination")

// ErrOriginalLineNotFound is returned when the mutator cannot scope its diff
// to a single line of the original markup. Fatal for the operation; indicates
// a parser/serializer inconsistency upstream.
var ErrOriginalLineNotFound = errors.New("anchor: original line containing the link text not found")
