package assetcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/bassista/go_reel/internal/logger"
)

// Nested bucket names inside each store bucket. Metadata and payload are kept
// apart so usage accounting never has to read video bodies.
var (
	bucketMeta = []byte("meta")
	bucketBody = []byte("body")
)

// entryMeta is the persisted metadata of an entry.
type entryMeta struct {
	Entry
	Size int64 `json:"size"`
}

// BoltBackend stores every named store as a top-level bbolt bucket.
// Writes go through a bounded LRU so recently cached entries are served
// without touching the database. Reads never populate the LRU: a read racing
// a delete must not resurrect the entry.
type BoltBackend struct {
	db  *bolt.DB
	hot *lru.Cache[string, *Entry]
}

// NewBoltBackend opens (or creates) the database at path. hotEntries <= 0
// disables the in-memory read layer.
func NewBoltBackend(path string, hotEntries int, readOnly bool) (*BoltBackend, error) {
	if path == "" {
		return nil, errors.New("bolt path is required")
	}
	if !readOnly {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	b := &BoltBackend{db: db}
	if hotEntries > 0 {
		hot, err := lru.New[string, *Entry](hotEntries)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create hot cache: %w", err)
		}
		b.hot = hot
	}
	logger.WithComponent("bolt-backend").Debugf("opened %s (hot entries: %d, read-only: %v)", path, hotEntries, readOnly)
	return b, nil
}

func hotKey(store, key string) string {
	return store + "\x00" + key
}

func (b *BoltBackend) Open(_ context.Context, store string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		_, err := createStoreBuckets(tx, store)
		return err
	})
}

func createStoreBuckets(tx *bolt.Tx, store string) (*bolt.Bucket, error) {
	sb, err := tx.CreateBucketIfNotExists([]byte(store))
	if err != nil {
		return nil, fmt.Errorf("create store %s: %w", store, err)
	}
	if _, err := sb.CreateBucketIfNotExists(bucketMeta); err != nil {
		return nil, err
	}
	if _, err := sb.CreateBucketIfNotExists(bucketBody); err != nil {
		return nil, err
	}
	return sb, nil
}

func (b *BoltBackend) Put(_ context.Context, store, key string, e *Entry) error {
	meta, err := json.Marshal(entryMeta{Entry: *e, Size: e.Size()})
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	err = b.db.Update(func(tx *bolt.Tx) error {
		sb, err := createStoreBuckets(tx, store)
		if err != nil {
			return err
		}
		if err := sb.Bucket(bucketMeta).Put([]byte(key), meta); err != nil {
			return err
		}
		return sb.Bucket(bucketBody).Put([]byte(key), e.Body)
	})
	if err != nil {
		return err
	}

	if b.hot != nil {
		b.hot.Add(hotKey(store, key), e.Clone())
	}
	return nil
}

func (b *BoltBackend) Get(_ context.Context, store, key string) (*Entry, bool, error) {
	if b.hot != nil {
		if e, ok := b.hot.Get(hotKey(store, key)); ok {
			return e.Clone(), true, nil
		}
	}

	var meta, body []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		sb := tx.Bucket([]byte(store))
		if sb == nil {
			return nil
		}
		if v := sb.Bucket(bucketMeta).Get([]byte(key)); v != nil {
			meta = append([]byte(nil), v...)
			body = append([]byte{}, sb.Bucket(bucketBody).Get([]byte(key))...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if meta == nil {
		return nil, false, nil
	}

	var m entryMeta
	if err := json.Unmarshal(meta, &m); err != nil {
		return nil, false, fmt.Errorf("decode entry %s: %w", key, err)
	}
	e := m.Entry
	e.Body = body
	return &e, true, nil
}

func (b *BoltBackend) EntrySize(_ context.Context, store, key string) (int64, bool, error) {
	var (
		size  int64
		found bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		sb := tx.Bucket([]byte(store))
		if sb == nil {
			return nil
		}
		v := sb.Bucket(bucketMeta).Get([]byte(key))
		if v == nil {
			return nil
		}
		var m struct {
			Size int64 `json:"size"`
		}
		if err := json.Unmarshal(v, &m); err != nil {
			return err
		}
		size, found = m.Size, true
		return nil
	})
	return size, found, err
}

func (b *BoltBackend) Delete(_ context.Context, store, key string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		sb := tx.Bucket([]byte(store))
		if sb == nil {
			return nil
		}
		if err := sb.Bucket(bucketMeta).Delete([]byte(key)); err != nil {
			return err
		}
		return sb.Bucket(bucketBody).Delete([]byte(key))
	})
	if b.hot != nil {
		b.hot.Remove(hotKey(store, key))
	}
	return err
}

func (b *BoltBackend) Keys(_ context.Context, store string) ([]string, error) {
	keys := []string{}
	err := b.db.View(func(tx *bolt.Tx) error {
		sb := tx.Bucket([]byte(store))
		if sb == nil {
			return nil
		}
		return sb.Bucket(bucketMeta).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

func (b *BoltBackend) Usage(_ context.Context, store string) (int64, error) {
	var total int64
	err := b.db.View(func(tx *bolt.Tx) error {
		sb := tx.Bucket([]byte(store))
		if sb == nil {
			return nil
		}
		return sb.Bucket(bucketMeta).ForEach(func(_, v []byte) error {
			var m struct {
				Size int64 `json:"size"`
			}
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			total += m.Size
			return nil
		})
	})
	return total, err
}

func (b *BoltBackend) Stores(_ context.Context) ([]string, error) {
	names := []string{}
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	sort.Strings(names)
	return names, err
}

func (b *BoltBackend) DropStore(_ context.Context, store string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(store)) == nil {
			return nil
		}
		return tx.DeleteBucket([]byte(store))
	})
	if err != nil {
		return err
	}

	if b.hot != nil {
		prefix := store + "\x00"
		for _, k := range b.hot.Keys() {
			if strings.HasPrefix(k, prefix) {
				b.hot.Remove(k)
			}
		}
	}
	return nil
}

func (b *BoltBackend) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}
