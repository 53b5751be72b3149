package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"golang.org/x/net/html"
)

// storedAttr is one attribute of a replaced original link. A JSON array keeps
// the attribute order, so the restored anchor serializes byte for byte.
type storedAttr struct {
	Key string `json:"key"`
	Val string `json:"val"`
}

// SaveOriginal records the attribute set of the original anchor a smart link
// replaced, plus the UID the original carried if it was itself a smart link.
func (s *Store) SaveOriginal(ctx context.Context, linkUID string, attrs []html.Attribute, replacedUID string) error {
	stored := make([]storedAttr, 0, len(attrs))
	for _, a := range attrs {
		stored = append(stored, storedAttr{Key: a.Key, Val: a.Val})
	}
	blob, err := json.Marshal(stored)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO original_links (link_uid, attrs_json, replaced_uid, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(link_uid) DO UPDATE SET
			attrs_json=excluded.attrs_json, replaced_uid=excluded.replaced_uid`,
		linkUID, string(blob), replacedUID, time.Now().UnixMilli(),
	)
	return err
}

// GetOriginal returns the replaced anchor's attributes for a smart link, or
// (nil, "", nil) when the link did not replace anything.
func (s *Store) GetOriginal(ctx context.Context, linkUID string) ([]html.Attribute, string, error) {
	var blob, replacedUID string
	err := s.db.QueryRowContext(ctx,
		`SELECT attrs_json, replaced_uid FROM original_links WHERE link_uid = ?`,
		linkUID).Scan(&blob, &replacedUID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}

	var stored []storedAttr
	if err := json.Unmarshal([]byte(blob), &stored); err != nil {
		return nil, "", err
	}
	attrs := make([]html.Attribute, 0, len(stored))
	for _, a := range stored {
		attrs = append(attrs, html.Attribute{Key: a.Key, Val: a.Val})
	}
	return attrs, replacedUID, nil
}

// HasOriginal reports whether the link replaced an existing anchor.
func (s *Store) HasOriginal(ctx context.Context, linkUID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM original_links WHERE link_uid = ?`, linkUID).Scan(&count)
	return count > 0, err
}

// DeleteOriginal removes the replaced-anchor record once consumed.
func (s *Store) DeleteOriginal(ctx context.Context, linkUID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM original_links WHERE link_uid = ?`, linkUID)
	return err
}
