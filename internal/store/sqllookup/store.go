// Package sqllookup implements store.LookupStore on modernc.org/sqlite
// (the pure-Go sqlite driver) via database/sql, distinct from the
// zombiezen-backed Data store so that the Lookup store can be opened and
// purged independently, matching spec's "concurrent purges of distinct
// store instances are allowed" invariant.
package sqllookup

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store is a Lookup store backed by database/sql + modernc.org/sqlite.
type Store struct {
	id string
	db *sql.DB
}

// Open opens the database and ensures the schema exists.
func Open(ctx context.Context, id, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqllookup: open %q: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS lookup_entries (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqllookup: migrate: %w", err)
	}
	return &Store{id: id, db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// PurgeLookupStore implements store.LookupStore: deletes rows whose
// expires_at has passed.
func (s *Store) PurgeLookupStore(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM lookup_entries WHERE expires_at > 0 AND expires_at <= strftime('%s','now')`)
	if err != nil {
		return fmt.Errorf("sqllookup: purge: %w", err)
	}
	return nil
}

// ID returns the configured store identifier.
func (s *Store) ID() string { return s.id }
