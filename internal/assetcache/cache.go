package assetcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bassista/go_reel/internal/logger"
	"github.com/bassista/go_reel/internal/metrics"
)

var (
	ErrQuotaExceeded = errors.New("store quota exceeded")
	ErrNilEntry      = errors.New("nil entry")
	// ErrRetired is returned by writes to the cache of a superseded
	// generation.
	ErrRetired = errors.New("cache generation retired")
)

// Options scopes a Cache to one deployment prefix and generation.
// Zero quotas mean unlimited.
type Options struct {
	Prefix        string
	Generation    string
	QuotaBytes    int64
	MaxEntryBytes int64
}

// Cache is the asset cache of a single worker generation. It routes each
// purpose to that generation's store on a shared Backend. Several Cache
// values (one per generation) may share the same Backend.
type Cache struct {
	backend Backend
	opts    Options
	video   keyLocks

	// writers holds a read lock for every in-flight write; Retire takes the
	// write lock so no write lands after it returns.
	writers sync.RWMutex
	retired bool
}

func New(backend Backend, opts Options) *Cache {
	return &Cache{backend: backend, opts: opts}
}

// Current returns the store name of purpose p for this generation.
func (c *Cache) Current(p Purpose) StoreName {
	return StoreName{Prefix: c.opts.Prefix, Purpose: p, Generation: c.opts.Generation}
}

// Whitelist lists the store names this generation keeps on activation.
func (c *Cache) Whitelist() []string {
	names := make([]string, 0, len(Purposes))
	for _, p := range Purposes {
		names = append(names, c.Current(p).String())
	}
	return names
}

func (c *Cache) Backend() Backend {
	return c.backend
}

func (c *Cache) Open(ctx context.Context, p Purpose) error {
	return c.backend.Open(ctx, c.Current(p).String())
}

// lockKey serialises mutations of one key. Only the video store needs it:
// every other store is written by the policy layer, where last writer wins.
func (c *Cache) lockKey(p Purpose, key string) func() {
	if p != PurposeVideo {
		return func() {}
	}
	return c.video.lock(key)
}

// Put stores e under key in the current store of p, overwriting any previous
// entry.
func (c *Cache) Put(ctx context.Context, p Purpose, key string, e *Entry) error {
	k, err := NormalizeKey(key)
	if err != nil {
		return err
	}
	unlock := c.lockKey(p, k)
	defer unlock()
	return c.put(ctx, p, k, e)
}

// Fill runs load and stores its entry under key while holding the key's
// mutation lock, so a Delete of the same key lands either before load starts
// or after the entry is stored. Errors from load are returned as is and
// nothing is written.
func (c *Cache) Fill(ctx context.Context, p Purpose, key string, load func(ctx context.Context) (*Entry, error)) (*Entry, error) {
	k, err := NormalizeKey(key)
	if err != nil {
		return nil, err
	}
	unlock := c.lockKey(p, k)
	defer unlock()

	e, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.put(ctx, p, k, e); err != nil {
		return e, err
	}
	return e, nil
}

// put writes a normalized key. The caller holds the key lock.
func (c *Cache) put(ctx context.Context, p Purpose, k string, e *Entry) error {
	if e == nil {
		return fmt.Errorf("put %s: %w", k, ErrNilEntry)
	}
	store := c.Current(p).String()

	c.writers.RLock()
	defer c.writers.RUnlock()
	if c.retired {
		return fmt.Errorf("put %s into %s: %w", k, store, ErrRetired)
	}

	size := e.Size()
	if c.opts.MaxEntryBytes > 0 && size > c.opts.MaxEntryBytes {
		metrics.RecordCacheWrite(string(p), "quota")
		return fmt.Errorf("%w: entry %s is %d bytes, limit %d", ErrQuotaExceeded, k, size, c.opts.MaxEntryBytes)
	}
	if c.opts.QuotaBytes > 0 {
		if err := c.checkQuota(ctx, store, k, size); err != nil {
			metrics.RecordCacheWrite(string(p), "quota")
			return err
		}
	}

	stored := e.Clone()
	if stored.URL == "" {
		stored.URL = k
	}
	if stored.StoredAt.IsZero() {
		stored.StoredAt = time.Now().UTC()
	}
	if err := c.backend.Put(ctx, store, k, stored); err != nil {
		metrics.RecordCacheWrite(string(p), "error")
		return fmt.Errorf("put %s into %s: %w", k, store, err)
	}
	metrics.RecordCacheWrite(string(p), "stored")
	logger.WithComponent("assetcache").Debugf("stored %s in %s (%d bytes)", k, store, size)
	return nil
}

// Retire stops all further writes through c and waits for in-flight ones.
// Reads keep working. A superseded generation retires its cache so that late
// writes cannot recreate stores its successor has dropped.
func (c *Cache) Retire() {
	c.writers.Lock()
	defer c.writers.Unlock()
	c.retired = true
}

// checkQuota accounts the new size against the store, reclaiming the size of
// the entry being overwritten. Concurrent puts to different keys may overshoot
// by at most one entry each.
func (c *Cache) checkQuota(ctx context.Context, store, key string, size int64) error {
	used, err := c.backend.Usage(ctx, store)
	if err != nil {
		return fmt.Errorf("usage of %s: %w", store, err)
	}
	if old, ok, err := c.backend.EntrySize(ctx, store, key); err != nil {
		return fmt.Errorf("usage of %s: %w", store, err)
	} else if ok {
		used -= old
	}
	if used+size > c.opts.QuotaBytes {
		return fmt.Errorf("%w: %s would grow to %d bytes, quota %d", ErrQuotaExceeded, store, used+size, c.opts.QuotaBytes)
	}
	return nil
}

// Match looks key up in the current store of p.
func (c *Cache) Match(ctx context.Context, p Purpose, key string) (*Entry, bool, error) {
	k, err := NormalizeKey(key)
	if err != nil {
		return nil, false, err
	}
	e, ok, err := c.backend.Get(ctx, c.Current(p).String(), k)
	if err != nil {
		return nil, false, err
	}
	metrics.RecordCacheLookup(string(p), ok)
	return e, ok, nil
}

// Delete removes key from the current store of p. Deleting an absent key is a
// no-op.
func (c *Cache) Delete(ctx context.Context, p Purpose, key string) error {
	k, err := NormalizeKey(key)
	if err != nil {
		return err
	}
	unlock := c.lockKey(p, k)
	defer unlock()

	return c.backend.Delete(ctx, c.Current(p).String(), k)
}

// DeleteStore drops a whole named store, whatever its generation.
func (c *Cache) DeleteStore(ctx context.Context, name string) error {
	if err := c.backend.DropStore(ctx, name); err != nil {
		return fmt.Errorf("delete store %s: %w", name, err)
	}
	metrics.IncStoresDeleted()
	logger.WithComponent("assetcache").Infof("deleted store %s", name)
	return nil
}

// Clear drops the current store of p. A later Put recreates it empty.
func (c *Cache) Clear(ctx context.Context, p Purpose) error {
	return c.DeleteStore(ctx, c.Current(p).String())
}

// Stores lists every store on the backend, including other generations and
// prefixes.
func (c *Cache) Stores(ctx context.Context) ([]string, error) {
	return c.backend.Stores(ctx)
}

func (c *Cache) Keys(ctx context.Context, p Purpose) ([]string, error) {
	return c.backend.Keys(ctx, c.Current(p).String())
}

func (c *Cache) Usage(ctx context.Context, p Purpose) (int64, error) {
	return c.backend.Usage(ctx, c.Current(p).String())
}
