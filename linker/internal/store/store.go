// Package store is the sqlite data access layer for the linker: document
// contents, the smart-link registry, the original-link side table and the
// revision/backup channel.
//
// Store methods run on any DBTX, so the same code serves both a *sql.DB and
// an open *sql.Tx; the linker wraps every mutation in one transaction.
package store

import (
	"context"
	"database/sql"
)

// DBTX is the subset of database/sql shared by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store wraps a database handle for linker operations.
type Store struct {
	db DBTX
}

// New creates a Store over db.
func New(db DBTX) *Store {
	return &Store{db: db}
}

// WithTx returns a Store running on tx instead of the base handle.
func (s *Store) WithTx(tx *sql.Tx) *Store {
	return &Store{db: tx}
}
