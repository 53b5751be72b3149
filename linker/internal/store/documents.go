package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Document is a stored document's markup plus metadata.
type Document struct {
	ID        string
	Title     string
	Permalink string
	Content   string

	// Plain marks documents without block-level markup, parsed by blank-line
	// splitting instead of element boundaries.
	Plain bool

	CreatedAt int64
	UpdatedAt int64
}

// UpsertDocument inserts or overwrites a document.
func (s *Store) UpsertDocument(ctx context.Context, d *Document) error {
	now := time.Now().UnixMilli()
	if d.CreatedAt == 0 {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, title, permalink, content, plain, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title, permalink=excluded.permalink,
			content=excluded.content, plain=excluded.plain,
			updated_at=excluded.updated_at`,
		d.ID, d.Title, d.Permalink, d.Content, d.Plain, d.CreatedAt, d.UpdatedAt,
	)
	return err
}

// GetDocument retrieves a document by ID, or nil when absent.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, permalink, content, plain, created_at, updated_at
		FROM documents WHERE id = ?`, id)

	var d Document
	err := row.Scan(&d.ID, &d.Title, &d.Permalink, &d.Content, &d.Plain, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// UpdateContent overwrites a document's content only.
func (s *Store) UpdateContent(ctx context.Context, id, content string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET content = ?, updated_at = ? WHERE id = ?`,
		content, time.Now().UnixMilli(), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteDocument removes a document (cascades to links and revisions).
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	return err
}
