// Package store defines the minimal capability interfaces the boot and
// housekeeper subsystems need from the pluggable storage engines (spec
// C3). The concrete engines themselves are out of scope; this package
// only wires two real backends used by the bundled config/cert
// persistence path: zombiezen/go-sqlite (Data store) and modernc.org's
// pure-Go sqlite driver via database/sql (Lookup store), mirroring the
// two sqlite stacks already present in this corpus.
package store

import "context"

// DataStore is the capability a "storage.data" backend exposes. It is an
// alias of the interface literal so that backends which cannot import
// this package (sqlitedata) can name the same type in PurgeBlobs.
type DataStore = interface {
	PurgeStore(ctx context.Context) error
}

// BlobStore is the capability a "storage.blob" backend exposes.
type BlobStore interface {
	GetBlob(ctx context.Context, key string, offset, length int64) ([]byte, bool, error)
	PutBlob(ctx context.Context, key string, data []byte) error
	PurgeBlobs(ctx context.Context, data DataStore) error
}

// LookupStore is the capability a "storage.lookup" backend exposes.
type LookupStore interface {
	PurgeLookupStore(ctx context.Context) error
}

// FtsStore is the indexing surface consumed only by the full-text
// indexing task; the core otherwise treats it as opaque.
type FtsStore interface {
	IndexQueued(ctx context.Context) error
}

// Kind identifies which store capability a PurgeSchedule entry targets.
type Kind string

const (
	KindData   Kind = "data"
	KindBlob   Kind = "blob"
	KindLookup Kind = "lookup"
)

// Registry is the named collection of data/blob/lookup/fts store handles
// built from configuration (spec C3).
type Registry struct {
	Data   map[string]DataStore
	Blob   map[string]BlobStore
	Lookup map[string]LookupStore
	Fts    map[string]FtsStore
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		Data:   make(map[string]DataStore),
		Blob:   make(map[string]BlobStore),
		Lookup: make(map[string]LookupStore),
		Fts:    make(map[string]FtsStore),
	}
}
