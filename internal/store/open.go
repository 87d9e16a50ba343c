package store

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/caasmo/restinmail/internal/config"
	"github.com/caasmo/restinmail/internal/store/sqlitedata"
	"github.com/caasmo/restinmail/internal/store/sqllookup"
)

// OpenAll opens the data and lookup stores named by "storage.data" and
// "storage.lookup", reading each store's path from "store.<id>.path".
// The two are opened concurrently with an errgroup since they are
// independent resources and a slow one must not serialize behind
// another (spec C3, SPEC_FULL §4.2 stage 5). The blob store is
// registered only as the data store itself, when "storage.blob" is unset
// or names the data store's id; no separate blob store and no fts store
// is opened. A store kind with no configured id is simply absent, not an
// error; a configured id that fails to open is a StoreOpenFailed error.
func OpenAll(ctx context.Context, cfg *config.Config) (*Registry, error) {
	reg := NewRegistry()

	var dataStore *sqlitedata.Store
	var lookupStore *sqllookup.Store

	g, gctx := errgroup.WithContext(ctx)

	if id, ok := cfg.Value("storage.data"); ok && id != "" {
		g.Go(func() error {
			path, _ := cfg.Value(fmt.Sprintf("store.%s.path", id))
			if path == "" {
				path = id + ".db"
			}
			s, err := sqlitedata.Open(gctx, id, path, runtime.NumCPU())
			if err != nil {
				return fmt.Errorf("StoreOpenFailed: data store %q: %w", id, err)
			}
			dataStore = s
			return nil
		})
	}

	if id, ok := cfg.Value("storage.lookup"); ok && id != "" {
		g.Go(func() error {
			path, _ := cfg.Value(fmt.Sprintf("store.%s.path", id))
			if path == "" {
				path = id + "-lookup.db"
			}
			s, err := sqllookup.Open(gctx, id, path)
			if err != nil {
				return fmt.Errorf("StoreOpenFailed: lookup store %q: %w", id, err)
			}
			lookupStore = s
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if dataStore != nil {
		reg.Data[dataStore.ID()] = dataStore
		// The blob store conventionally shares the data store's
		// backend unless storage.blob names a different id.
		blobID, _ := cfg.Value("storage.blob")
		if blobID == "" || blobID == dataStore.ID() {
			reg.Blob[dataStore.ID()] = dataStore
		}
	}
	if lookupStore != nil {
		reg.Lookup[lookupStore.ID()] = lookupStore
	}

	return reg, nil
}
