// Package linker is the transactional facade over the anchor engine: it owns
// the sqlite-backed document contents, the smart-link registry and the
// revision channel, and runs every document mutation inside one transaction.
package linker

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/smartlink/anchor"
	"github.com/hazyhaar/smartlink/doctree"
	"github.com/hazyhaar/smartlink/idgen"
	"github.com/hazyhaar/smartlink/linker/internal/store"
)

// Service coordinates the anchor engine with persistence. Mutations are
// serialized per document ID; reads are not.
type Service struct {
	db    *sql.DB
	st    *store.Store
	mut   *anchor.Mutator
	cfg   *Config
	log   *slog.Logger
	locks keyedMutex
}

// New creates a Service over an open database, applying the schema.
func New(db *sql.DB, cfg *Config, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	if err := store.ApplySchema(db); err != nil {
		return nil, fmt.Errorf("linker: apply schema: %w", err)
	}
	return &Service{
		db:  db,
		st:  store.New(db),
		mut: anchor.NewMutator(cfg.AllowedContainers),
		cfg: cfg,
		log: logger,
	}, nil
}

// Document is a stored document's markup plus metadata.
type Document struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Permalink string `json:"permalink"`
	Content   string `json:"content"`

	// Plain marks documents without block-level markup, split on blank lines
	// instead of element boundaries.
	Plain bool `json:"plain"`
}

// PutDocument inserts or overwrites a document.
func (s *Service) PutDocument(ctx context.Context, d *Document) error {
	return s.st.UpsertDocument(ctx, &store.Document{
		ID:        d.ID,
		Title:     d.Title,
		Permalink: d.Permalink,
		Content:   d.Content,
		Plain:     d.Plain,
	})
}

// Document retrieves a document by ID.
func (s *Service) Document(ctx context.Context, id string) (*Document, error) {
	row, err := s.st.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrDocumentNotFound
	}
	return &Document{
		ID:        row.ID,
		Title:     row.Title,
		Permalink: row.Permalink,
		Content:   row.Content,
		Plain:     row.Plain,
	}, nil
}

// DeleteDocument removes a document and, by cascade, its links and revisions.
func (s *Service) DeleteDocument(ctx context.Context, id string) error {
	return s.st.DeleteDocument(ctx, id)
}

// Apply places a link's anchor in its source document and registers it, all
// in one transaction. The link's UID is derived from its identifying fields
// when empty.
func (s *Service) Apply(ctx context.Context, link *anchor.Link) (*anchor.Link, error) {
	if link.DestinationID != "" && link.DestinationID == link.SourceID {
		return nil, ErrSelfLink
	}
	if link.UID == "" {
		link.UID = anchor.NewUID(link.SourceID, link.DestinationID, link.Href, link.Title, link.Text, link.Offset)
	}

	unlock := s.locks.lock(link.SourceID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("linker: begin: %w", err)
	}
	defer tx.Rollback()
	st := s.st.WithTx(tx)

	docRow, err := st.GetDocument(ctx, link.SourceID)
	if err != nil {
		return nil, err
	}
	if docRow == nil {
		return nil, ErrDocumentNotFound
	}
	if docRow.Permalink != "" && link.Href == docRow.Permalink {
		return nil, ErrSelfLink
	}

	existing, err := st.GetLink(ctx, link.UID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Applied() {
		return nil, ErrAlreadyApplied
	}
	if !s.cfg.AllowDuplicateLinks {
		// The href showing up anywhere in the stored markup counts as a
		// duplicate, linked by this engine or not.
		if link.Href != "" && strings.Contains(docRow.Content, link.Href) {
			return nil, ErrDuplicateLink
		}
		if link.DestinationID != "" {
			dup, err := st.HasAppliedPair(ctx, link.SourceID, link.DestinationID, link.UID)
			if err != nil {
				return nil, err
			}
			if dup {
				return nil, ErrDuplicateLink
			}
		}
	}

	doc, err := parseStored(docRow)
	if err != nil {
		return nil, err
	}
	res, err := s.mut.Apply(doc, link)
	if err != nil {
		return nil, err
	}

	if err := s.snapshot(ctx, st, docRow); err != nil {
		return nil, err
	}
	if err := st.SaveBackup(ctx, link.UID, docRow.ID, res.BlockID, res.Paragraph); err != nil {
		return nil, err
	}

	// A replaced smart link's registry row is superseded by this one.
	if res.ReplacedUID != "" && res.ReplacedUID != link.UID {
		if err := st.DeleteLink(ctx, res.ReplacedUID); err != nil {
			return nil, err
		}
	}

	link.Status = anchor.StatusApplied
	if err := st.UpsertLink(ctx, link); err != nil {
		return nil, err
	}
	if res.ReplacedAttrs != nil {
		if err := st.SaveOriginal(ctx, link.UID, res.ReplacedAttrs, res.ReplacedUID); err != nil {
			return nil, err
		}
	}
	if err := st.UpdateContent(ctx, docRow.ID, res.Content); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("linker: commit: %w", err)
	}
	s.log.Info("link applied", "uid", link.UID, "document", link.SourceID, "block", res.BlockID)
	return link, nil
}

// Remove deletes a link's anchor from its document and its registry row, in
// one transaction. With restoreOriginal, an anchor the link replaced is
// reconstructed from its recorded attributes.
func (s *Service) Remove(ctx context.Context, uid string, restoreOriginal bool) error {
	link, err := s.st.GetLink(ctx, uid)
	if err != nil {
		return err
	}
	if link == nil {
		return ErrLinkNotFound
	}

	unlock := s.locks.lock(link.SourceID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("linker: begin: %w", err)
	}
	defer tx.Rollback()
	st := s.st.WithTx(tx)

	docRow, err := st.GetDocument(ctx, link.SourceID)
	if err != nil {
		return err
	}
	if docRow == nil {
		return ErrDocumentNotFound
	}

	if link.Applied() {
		if _, err := s.removeAnchor(ctx, st, docRow, uid, restoreOriginal); err != nil {
			return err
		}
	}
	if err := st.DeleteLink(ctx, uid); err != nil {
		return err
	}
	if err := st.DeleteBackup(ctx, uid); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("linker: commit: %w", err)
	}
	s.log.Info("link removed", "uid", uid, "document", link.SourceID, "restored", restoreOriginal)
	return nil
}

// UpdateText moves an applied link to a different text occurrence: the old
// anchor is removed and the new one applied in ONE transaction, so a failing
// re-placement leaves the document and registry untouched.
func (s *Service) UpdateText(ctx context.Context, uid, newText string, newOffset int) (*anchor.Link, error) {
	old, err := s.st.GetLink(ctx, uid)
	if err != nil {
		return nil, err
	}
	if old == nil {
		return nil, ErrLinkNotFound
	}

	updated := *old
	updated.Text = newText
	updated.Offset = newOffset
	updated.Match = nil
	updated.UID = anchor.NewUID(updated.SourceID, updated.DestinationID, updated.Href, updated.Title, newText, newOffset)

	unlock := s.locks.lock(old.SourceID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("linker: begin: %w", err)
	}
	defer tx.Rollback()
	st := s.st.WithTx(tx)

	docRow, err := st.GetDocument(ctx, old.SourceID)
	if err != nil {
		return nil, err
	}
	if docRow == nil {
		return nil, ErrDocumentNotFound
	}

	if old.Applied() {
		// Carry a replaced original over to the new UID rather than restoring
		// it mid-update.
		origAttrs, origReplacedUID, err := st.GetOriginal(ctx, uid)
		if err != nil {
			return nil, err
		}

		if _, err := s.removeAnchor(ctx, st, docRow, uid, false); err != nil {
			return nil, err
		}

		doc, err := parseStored(docRow)
		if err != nil {
			return nil, err
		}
		res, err := s.mut.Apply(doc, &updated)
		if err != nil {
			return nil, err
		}

		updated.Status = anchor.StatusApplied
		if uid != updated.UID {
			if err := st.DeleteLink(ctx, uid); err != nil {
				return nil, err
			}
			if err := st.DeleteBackup(ctx, uid); err != nil {
				return nil, err
			}
		}
		if err := st.UpsertLink(ctx, &updated); err != nil {
			return nil, err
		}
		if err := st.SaveBackup(ctx, updated.UID, docRow.ID, res.BlockID, res.Paragraph); err != nil {
			return nil, err
		}
		switch {
		case res.ReplacedAttrs != nil:
			err = st.SaveOriginal(ctx, updated.UID, res.ReplacedAttrs, res.ReplacedUID)
		case origAttrs != nil:
			err = st.SaveOriginal(ctx, updated.UID, origAttrs, origReplacedUID)
		}
		if err != nil {
			return nil, err
		}
		if err := st.UpdateContent(ctx, docRow.ID, res.Content); err != nil {
			return nil, err
		}
	} else {
		if uid != updated.UID {
			if err := st.DeleteLink(ctx, uid); err != nil {
				return nil, err
			}
		}
		if err := st.UpsertLink(ctx, &updated); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("linker: commit: %w", err)
	}
	s.log.Info("link text updated", "uid", uid, "new_uid", updated.UID, "document", updated.SourceID)
	return &updated, nil
}

// removeAnchor removes a link's anchor from the document within the caller's
// transaction and writes the new content back. docRow.Content is updated in
// place so follow-up steps in the same transaction see the new state.
func (s *Service) removeAnchor(ctx context.Context, st *store.Store, docRow *store.Document, uid string, restoreOriginal bool) (*anchor.RemoveResult, error) {
	doc, err := parseStored(docRow)
	if err != nil {
		return nil, err
	}

	var restore []html.Attribute
	if restoreOriginal {
		attrs, _, err := st.GetOriginal(ctx, uid)
		if err != nil {
			return nil, err
		}
		if len(attrs) > 0 {
			restore = attrs
		}
	}

	res, err := s.mut.Remove(doc, uid, restore)
	if err != nil {
		return nil, err
	}

	if err := s.snapshot(ctx, st, docRow); err != nil {
		return nil, err
	}
	if err := st.UpdateContent(ctx, docRow.ID, res.Content); err != nil {
		return nil, err
	}
	if err := st.DeleteOriginal(ctx, uid); err != nil {
		return nil, err
	}
	docRow.Content = res.Content
	return res, nil
}

// RestoreRevision rewinds a document to its most recent snapshot, in one
// transaction. Applied links whose anchors are absent from the restored
// markup are demoted to pending suggestions and lose their side records; the
// suggestion sweep picks them up from there.
func (s *Service) RestoreRevision(ctx context.Context, documentID string) (*Document, error) {
	unlock := s.locks.lock(documentID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("linker: begin: %w", err)
	}
	defer tx.Rollback()
	st := s.st.WithTx(tx)

	docRow, err := st.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if docRow == nil {
		return nil, ErrDocumentNotFound
	}

	content, err := st.LatestRevision(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if content == "" {
		return nil, ErrNoRevision
	}

	applied, err := st.ListBySource(ctx, documentID, anchor.StatusApplied)
	if err != nil {
		return nil, err
	}
	for _, l := range applied {
		if strings.Contains(content, l.UID) {
			continue
		}
		if err := st.SetStatus(ctx, l.UID, anchor.StatusPending); err != nil {
			return nil, err
		}
		if err := st.DeleteBackup(ctx, l.UID); err != nil {
			return nil, err
		}
		if err := st.DeleteOriginal(ctx, l.UID); err != nil {
			return nil, err
		}
	}

	if err := st.UpdateContent(ctx, documentID, content); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("linker: commit: %w", err)
	}
	s.log.Info("revision restored", "document", documentID)
	return &Document{
		ID:        docRow.ID,
		Title:     docRow.Title,
		Permalink: docRow.Permalink,
		Content:   content,
		Plain:     docRow.Plain,
	}, nil
}

// snapshot saves a pre-mutation revision of the document and prunes old ones.
func (s *Service) snapshot(ctx context.Context, st *store.Store, docRow *store.Document) error {
	if err := st.SaveRevision(ctx, idgen.New(), docRow.ID, docRow.Content); err != nil {
		return err
	}
	return st.PruneRevisions(ctx, docRow.ID, s.cfg.RevisionKeep)
}

// HasValidPlacement runs every guard and the engine's dry-run check for a
// link without mutating anything. A nil error means Apply would succeed
// against the current document state.
func (s *Service) HasValidPlacement(ctx context.Context, link *anchor.Link, allowDuplicates bool) error {
	if link.DestinationID != "" && link.DestinationID == link.SourceID {
		return ErrSelfLink
	}

	docRow, err := s.st.GetDocument(ctx, link.SourceID)
	if err != nil {
		return err
	}
	if docRow == nil {
		return ErrDocumentNotFound
	}
	if docRow.Permalink != "" && link.Href == docRow.Permalink {
		return ErrSelfLink
	}

	if link.UID != "" {
		existing, err := s.st.GetLink(ctx, link.UID)
		if err != nil {
			return err
		}
		if existing != nil && existing.Applied() {
			return ErrAlreadyApplied
		}
	}
	if !allowDuplicates && !s.cfg.AllowDuplicateLinks {
		if link.Href != "" && strings.Contains(docRow.Content, link.Href) {
			return ErrDuplicateLink
		}
		if link.DestinationID != "" {
			dup, err := s.st.HasAppliedPair(ctx, link.SourceID, link.DestinationID, link.UID)
			if err != nil {
				return err
			}
			if dup {
				return ErrDuplicateLink
			}
		}
	}

	doc, err := parseStored(docRow)
	if err != nil {
		return err
	}
	return s.mut.Check(doc, link)
}

// SaveSuggestion registers a pending link without touching the document.
func (s *Service) SaveSuggestion(ctx context.Context, link *anchor.Link) (*anchor.Link, error) {
	docRow, err := s.st.GetDocument(ctx, link.SourceID)
	if err != nil {
		return nil, err
	}
	if docRow == nil {
		return nil, ErrDocumentNotFound
	}
	if link.UID == "" {
		link.UID = anchor.NewUID(link.SourceID, link.DestinationID, link.Href, link.Title, link.Text, link.Offset)
	}
	link.Status = anchor.StatusPending
	if err := s.st.UpsertLink(ctx, link); err != nil {
		return nil, err
	}
	return link, nil
}

// Suggestions returns a document's pending links that still place cleanly,
// with fresh match positions, sorted. Suggestions whose placement no longer
// validates are dropped from the registry.
func (s *Service) Suggestions(ctx context.Context, sourceID string) ([]*anchor.Link, error) {
	docRow, err := s.st.GetDocument(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if docRow == nil {
		return nil, ErrDocumentNotFound
	}
	doc, err := parseStored(docRow)
	if err != nil {
		return nil, err
	}

	pending, err := s.st.ListBySource(ctx, sourceID, anchor.StatusPending)
	if err != nil {
		return nil, err
	}

	valid := pending[:0]
	for _, l := range pending {
		if err := s.mut.Check(doc, l); err != nil {
			s.log.Debug("dropping stale suggestion", "uid", l.UID, "reason", err)
			if err := s.st.DeleteLink(ctx, l.UID); err != nil {
				return nil, err
			}
			continue
		}
		valid = append(valid, l)
	}

	return s.ResolveMatches(doc.Blocks, valid), nil
}

// ResolveMatches recomputes match positions for the suggestions against the
// given block tree, drops the unresolvable ones and sorts the rest.
func (s *Service) ResolveMatches(blocks []*doctree.Block, suggestions []*anchor.Link) []*anchor.Link {
	anchor.CalculateMatches(blocks, suggestions)
	resolved := suggestions[:0]
	for _, l := range suggestions {
		if l.Match != nil {
			resolved = append(resolved, l)
		}
	}
	return anchor.SortLinks(resolved)
}

// Links returns a document's outgoing links, optionally filtered by status.
func (s *Service) Links(ctx context.Context, sourceID string, status anchor.Status) ([]*anchor.Link, error) {
	return s.st.ListBySource(ctx, sourceID, status)
}

// Inbound returns the links pointing at a document, optionally filtered by
// status.
func (s *Service) Inbound(ctx context.Context, destinationID string, status anchor.Status) ([]*anchor.Link, error) {
	return s.st.ListByDestination(ctx, destinationID, status)
}

// PendingCount counts the pending suggestions pointing at a document.
func (s *Service) PendingCount(ctx context.Context, destinationID string) (int, error) {
	return s.st.CountByDestination(ctx, destinationID, anchor.StatusPending)
}

// DiscardPending deletes the pending suggestions pointing at a document and
// reports how many were removed.
func (s *Service) DiscardPending(ctx context.Context, destinationID string) (int, error) {
	return s.st.DeletePendingByDestination(ctx, destinationID)
}

// DidReplaceLink reports whether the link replaced a pre-existing anchor when
// it was applied.
func (s *Service) DidReplaceLink(ctx context.Context, uid string) (bool, error) {
	return s.st.HasOriginal(ctx, uid)
}

func parseStored(d *store.Document) (*doctree.Document, error) {
	if d.Plain {
		return doctree.ParsePlain(d.Content)
	}
	return doctree.Parse(d.Content)
}
