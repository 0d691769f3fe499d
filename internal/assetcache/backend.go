package assetcache

import "context"

// Backend is the raw storage under the asset cache: named stores of
// key -> Entry. Stores are addressed by their string name.
//
// Put into a store that was never opened creates it. Get on a missing store
// reports absent. Delete of an absent key and DropStore of an absent store are
// no-ops.
type Backend interface {
	Open(ctx context.Context, store string) error
	Put(ctx context.Context, store, key string, e *Entry) error
	Get(ctx context.Context, store, key string) (*Entry, bool, error)
	EntrySize(ctx context.Context, store, key string) (int64, bool, error)
	Delete(ctx context.Context, store, key string) error
	Keys(ctx context.Context, store string) ([]string, error)
	Usage(ctx context.Context, store string) (int64, error)
	Stores(ctx context.Context) ([]string, error)
	DropStore(ctx context.Context, store string) error
	Close() error
}
