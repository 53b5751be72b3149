package linker

import "errors"

var (
	// ErrDocumentNotFound is returned when the source or destination document
	// is not in the content store.
	ErrDocumentNotFound = errors.New("linker: document not found")

	// ErrLinkNotFound is returned when no registry row exists for a UID.
	ErrLinkNotFound = errors.New("linker: link not found")

	// ErrAlreadyApplied is returned when applying a link whose anchor is
	// already in the document.
	ErrAlreadyApplied = errors.New("linker: link already applied")

	// ErrDuplicateLink is returned when the source document already carries an
	// applied link to the same destination.
	ErrDuplicateLink = errors.New("linker: destination already linked from this document")

	// ErrSelfLink is returned when a link points at its own document.
	ErrSelfLink = errors.New("linker: link points at its own document")

	// ErrNoRevision is returned when a document has no snapshot to rewind to.
	ErrNoRevision = errors.New("linker: no revision to restore")
)
