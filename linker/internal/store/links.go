package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hazyhaar/smartlink/anchor"
)

const linkColumns = `uid, source_id, destination_id, href, title, text,
	text_offset, context, status`

// UpsertLink inserts or overwrites a registry row for the link.
func (s *Store) UpsertLink(ctx context.Context, l *anchor.Link) error {
	now := time.Now().UnixMilli()
	var appliedAt any
	if l.Applied() {
		appliedAt = now
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO smart_links (uid, source_id, destination_id, href, title, text,
		text_offset, context, status, applied_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET
			source_id=excluded.source_id, destination_id=excluded.destination_id,
			href=excluded.href, title=excluded.title, text=excluded.text,
			text_offset=excluded.text_offset, context=excluded.context,
			status=excluded.status, applied_at=excluded.applied_at,
			updated_at=excluded.updated_at`,
		l.UID, l.SourceID, l.DestinationID, l.Href, l.Title, l.Text,
		l.Offset, l.Context, string(l.Status), appliedAt, now, now,
	)
	return err
}

// GetLink retrieves a registry row by UID, or nil when absent.
func (s *Store) GetLink(ctx context.Context, uid string) (*anchor.Link, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+linkColumns+` FROM smart_links WHERE uid = ?`, uid)
	l, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return l, err
}

// ListBySource returns a document's links, optionally filtered by status.
func (s *Store) ListBySource(ctx context.Context, sourceID string, status anchor.Status) ([]*anchor.Link, error) {
	return s.listLinks(ctx, "source_id", sourceID, status)
}

// ListByDestination returns the links pointing at a document, optionally
// filtered by status.
func (s *Store) ListByDestination(ctx context.Context, destinationID string, status anchor.Status) ([]*anchor.Link, error) {
	return s.listLinks(ctx, "destination_id", destinationID, status)
}

func (s *Store) listLinks(ctx context.Context, column, id string, status anchor.Status) ([]*anchor.Link, error) {
	q := `SELECT ` + linkColumns + ` FROM smart_links WHERE ` + column + ` = ?`
	args := []any{id}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY created_at, uid`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []*anchor.Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// CountByDestination counts links pointing at a document with the given
// status.
func (s *Store) CountByDestination(ctx context.Context, destinationID string, status anchor.Status) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM smart_links WHERE destination_id = ? AND status = ?`,
		destinationID, string(status)).Scan(&count)
	return count, err
}

// HasAppliedPair reports whether an applied link from sourceID to
// destinationID already exists, excluding excludeUID.
func (s *Store) HasAppliedPair(ctx context.Context, sourceID, destinationID, excludeUID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM smart_links
		WHERE source_id = ? AND destination_id = ? AND status = ? AND uid != ?`,
		sourceID, destinationID, string(anchor.StatusApplied), excludeUID).Scan(&count)
	return count > 0, err
}

// SetStatus updates a link's lifecycle state.
func (s *Store) SetStatus(ctx context.Context, uid string, status anchor.Status) error {
	now := time.Now().UnixMilli()
	var appliedAt any
	if status == anchor.StatusApplied {
		appliedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE smart_links SET status = ?, applied_at = ?, updated_at = ? WHERE uid = ?`,
		string(status), appliedAt, now, uid,
	)
	return err
}

// DeleteLink removes a registry row (cascades to its original-link record).
func (s *Store) DeleteLink(ctx context.Context, uid string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM smart_links WHERE uid = ?`, uid)
	return err
}

// DeletePending removes a document's pending suggestions and reports how many
// were removed.
func (s *Store) DeletePending(ctx context.Context, sourceID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM smart_links WHERE source_id = ? AND status = ?`,
		sourceID, string(anchor.StatusPending))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// DeletePendingByDestination removes the pending suggestions pointing at a
// document and reports how many were removed.
func (s *Store) DeletePendingByDestination(ctx context.Context, destinationID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM smart_links WHERE destination_id = ? AND status = ?`,
		destinationID, string(anchor.StatusPending))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLink(row scanner) (*anchor.Link, error) {
	var l anchor.Link
	var status string
	err := row.Scan(&l.UID, &l.SourceID, &l.DestinationID, &l.Href, &l.Title,
		&l.Text, &l.Offset, &l.Context, &status)
	if err != nil {
		return nil, err
	}
	l.Status = anchor.Status(status)
	return &l, nil
}
