package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SaveRevision snapshots a document's full content before a mutation.
func (s *Store) SaveRevision(ctx context.Context, id, documentID, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO revisions (id, document_id, content, created_at) VALUES (?, ?, ?, ?)`,
		id, documentID, content, time.Now().UnixMilli(),
	)
	return err
}

// LatestRevision returns a document's most recent snapshot, or "" when none
// exists.
func (s *Store) LatestRevision(ctx context.Context, documentID string) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM revisions WHERE document_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, documentID).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return content, err
}

// PruneRevisions keeps the newest keep snapshots of a document and deletes
// the rest.
func (s *Store) PruneRevisions(ctx context.Context, documentID string, keep int) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM revisions WHERE document_id = ? AND id NOT IN (
			SELECT id FROM revisions WHERE document_id = ?
			ORDER BY created_at DESC, id DESC LIMIT ?
		)`, documentID, documentID, keep)
	return err
}

// SaveBackup records the paragraph a link's mutation touched, before the
// mutation. One backup per UID; later mutations overwrite it.
func (s *Store) SaveBackup(ctx context.Context, linkUID, documentID, blockID, paragraph string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO backups (link_uid, document_id, block_id, paragraph, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(link_uid) DO UPDATE SET
			document_id=excluded.document_id, block_id=excluded.block_id,
			paragraph=excluded.paragraph, created_at=excluded.created_at`,
		linkUID, documentID, blockID, paragraph, time.Now().UnixMilli(),
	)
	return err
}

// GetBackup returns the paragraph backed up for a link, or "" when none
// exists.
func (s *Store) GetBackup(ctx context.Context, linkUID string) (string, error) {
	var paragraph string
	err := s.db.QueryRowContext(ctx,
		`SELECT paragraph FROM backups WHERE link_uid = ?`, linkUID).Scan(&paragraph)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return paragraph, err
}

// DeleteBackup removes a link's paragraph backup.
func (s *Store) DeleteBackup(ctx context.Context, linkUID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM backups WHERE link_uid = ?`, linkUID)
	return err
}
