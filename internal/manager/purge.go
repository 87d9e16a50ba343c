package manager

import (
	"context"
	"fmt"

	"github.com/caasmo/restinmail/internal/core"
	"github.com/caasmo/restinmail/internal/store"
)

// RegistryPurger implements housekeeper.PurgeStore by looking up each
// store id's configured Kind in the current core snapshot's
// PurgeSchedules and dispatching to the matching store.Registry
// capability.
type RegistryPurger struct {
	Core *core.Core
}

// Purge runs one purge pass for storeID, using whichever capability
// (Data/Blob/Lookup) its PurgeSchedule entry designates.
func (p *RegistryPurger) Purge(ctx context.Context, storeID string) error {
	snap := p.Core.Load()
	if snap == nil || snap.Stores == nil {
		return fmt.Errorf("purge: no snapshot published")
	}

	kind := store.KindData
	found := false
	for _, ps := range snap.PurgeSchedules {
		if ps.StoreID == storeID {
			kind = ps.Kind
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("purge: no purge schedule for store %q", storeID)
	}

	switch kind {
	case store.KindData:
		ds, ok := snap.Stores.Data[storeID]
		if !ok {
			return fmt.Errorf("purge: data store %q not open", storeID)
		}
		return ds.PurgeStore(ctx)
	case store.KindBlob:
		bs, ok := snap.Stores.Blob[storeID]
		if !ok {
			return fmt.Errorf("purge: blob store %q not open", storeID)
		}
		ds := snap.Stores.Data[storeID]
		return bs.PurgeBlobs(ctx, ds)
	case store.KindLookup:
		ls, ok := snap.Stores.Lookup[storeID]
		if !ok {
			return fmt.Errorf("purge: lookup store %q not open", storeID)
		}
		return ls.PurgeLookupStore(ctx)
	default:
		return fmt.Errorf("purge: unknown store kind %q for %q", kind, storeID)
	}
}
