// Package sqlitedata implements the store.DataStore and store.BlobStore
// capabilities on top of zombiezen.com/go/sqlite, adapted from the
// teacher's zombiezen/db.go connection-pool pattern (Take/Put around a
// sqlitex.Pool, sqlitex.Execute with a ResultFunc).
package sqlitedata

import (
	"context"
	"fmt"
	"io"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Store is a Data+Blob store backed by a pooled sqlite connection.
type Store struct {
	id   string
	pool *sqlitex.Pool
}

// Open creates the pool and ensures the schema exists.
func Open(ctx context.Context, id, path string, poolSize int) (*Store, error) {
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		Flags:    sqlite.OpenReadWrite | sqlite.OpenCreate | sqlite.OpenWAL,
		PoolSize: poolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitedata: open %q: %w", path, err)
	}
	s := &Store{id: id, pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlitedata: take conn for migrate: %w", err)
	}
	defer s.pool.Put(conn)

	return sqlitex.ExecuteScript(conn, `
CREATE TABLE IF NOT EXISTS config_keys (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS blobs (
	key TEXT PRIMARY KEY,
	data BLOB NOT NULL
);
`, nil)
}

// Close releases the underlying pool.
func (s *Store) Close() error { return s.pool.Close() }

// PurgeStore implements store.DataStore: removes stale config_keys rows
// whose value is empty (a no-op "tombstone" convention used by Set).
func (s *Store) PurgeStore(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlitedata: take conn: %w", err)
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn, `DELETE FROM config_keys WHERE value = ''`, nil)
}

// GetBlob implements store.BlobStore.
func (s *Store) GetBlob(ctx context.Context, key string, offset, length int64) ([]byte, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("sqlitedata: take conn: %w", err)
	}
	defer s.pool.Put(conn)

	var data []byte
	found := false
	err = sqlitex.Execute(conn, `SELECT data FROM blobs WHERE key = ?`, &sqlitex.ExecOptions{
		Args: []interface{}{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			reader := stmt.ColumnReader(0)
			if reader == nil {
				return nil
			}
			var err error
			data, err = io.ReadAll(reader)
			return err
		},
	})
	if err != nil {
		return nil, false, fmt.Errorf("sqlitedata: get blob %q: %w", key, err)
	}
	if !found {
		return nil, false, nil
	}
	if length > 0 && offset >= 0 && offset < int64(len(data)) {
		end := offset + length
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		data = data[offset:end]
	}
	return data, true, nil
}

// PutBlob implements store.BlobStore.
func (s *Store) PutBlob(ctx context.Context, key string, data []byte) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlitedata: take conn: %w", err)
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn,
		`INSERT INTO blobs (key, data) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET data = excluded.data`,
		&sqlitex.ExecOptions{Args: []interface{}{key, data}})
}

// PurgeBlobs implements store.BlobStore: removes blobs whose data is
// empty. The data store argument is accepted for interface symmetry with
// spec's purge_blobs(data_store) contract and is not consulted.
func (s *Store) PurgeBlobs(ctx context.Context, _ interface{ PurgeStore(context.Context) error }) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlitedata: take conn: %w", err)
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn, `DELETE FROM blobs WHERE length(data) = 0`, nil)
}

// ExtendConfig reads every (key, value) row matching the compiled
// pattern set and returns them for the caller to merge into a Config.
func (s *Store) ExtendConfig(ctx context.Context, matches func(key string) bool) (map[string]string, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitedata: take conn: %w", err)
	}
	defer s.pool.Put(conn)

	out := make(map[string]string)
	err = sqlitex.Execute(conn, `SELECT key, value FROM config_keys`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			key := stmt.ColumnText(0)
			if matches == nil || matches(key) {
				out[key] = stmt.ColumnText(1)
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitedata: extend config: %w", err)
	}
	return out, nil
}

// SetKeys persists a batch of key/value pairs atomically.
func (s *Store) SetKeys(ctx context.Context, kvs map[string]string) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlitedata: take conn: %w", err)
	}
	defer s.pool.Put(conn)

	defer sqlitex.Transaction(conn)(&err)

	for k, v := range kvs {
		if err := sqlitex.Execute(conn,
			`INSERT INTO config_keys (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			&sqlitex.ExecOptions{Args: []interface{}{k, v}}); err != nil {
			return fmt.Errorf("sqlitedata: set key %q: %w", k, err)
		}
	}
	return nil
}

// ID returns the configured store identifier (e.g. "rocksdb", "sqlite").
func (s *Store) ID() string { return s.id }
