package assetcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(backend Backend, gen string) *Cache {
	return New(backend, Options{Prefix: "reel", Generation: gen})
}

func TestCache_CurrentAndWhitelist(t *testing.T) {
	c := newTestCache(NewMemoryBackend(), "v2")

	assert.Equal(t, "reel-video-v2", c.Current(PurposeVideo).String())
	assert.Equal(t, []string{"reel-shell-v2", "reel-image-v2", "reel-dynamic-v2", "reel-video-v2"}, c.Whitelist())
}

func TestCache_PutMatchNormalizesKey(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(NewMemoryBackend(), "v1")

	require.NoError(t, c.Put(ctx, PurposeVideo, "https://cdn.example/m1_720p.mp4#t=10", &Entry{StatusCode: 200, Body: []byte("v")}))

	e, ok, err := c.Match(ctx, PurposeVideo, "https://cdn.example/m1_720p.mp4")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example/m1_720p.mp4", e.URL)
	assert.False(t, e.StoredAt.IsZero())

	// exact match: query is part of the key
	_, ok, err = c.Match(ctx, PurposeVideo, "https://cdn.example/m1_720p.mp4?x=1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_RejectsRelativeKeys(t *testing.T) {
	c := newTestCache(NewMemoryBackend(), "v1")
	err := c.Put(context.Background(), PurposeShell, "/index.html", &Entry{StatusCode: 200})
	assert.ErrorIs(t, err, errRelativeKey)
}

// Distinct purposes never see each other's entries.
func TestCache_StoreIsolation(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(NewMemoryBackend(), "v1")
	key := "https://picsum.photos/300/450"

	require.NoError(t, c.Put(ctx, PurposeImage, key, &Entry{StatusCode: 200, Body: []byte("img")}))

	for _, p := range []Purpose{PurposeShell, PurposeDynamic, PurposeVideo} {
		_, ok, err := c.Match(ctx, p, key)
		require.NoError(t, err)
		assert.False(t, ok, "purpose %s must not see image entries", p)
	}

	require.NoError(t, c.Clear(ctx, PurposeVideo))
	_, ok, err := c.Match(ctx, PurposeImage, key)
	require.NoError(t, err)
	assert.True(t, ok, "clearing video must not touch image")
}

func TestCache_GenerationsShareBackendButNotStores(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	v1 := newTestCache(backend, "v1")
	v2 := newTestCache(backend, "v2")
	key := "https://app.example/index.html"

	require.NoError(t, v1.Put(ctx, PurposeShell, key, &Entry{StatusCode: 200, Body: []byte("old")}))
	_, ok, err := v2.Match(ctx, PurposeShell, key)
	require.NoError(t, err)
	assert.False(t, ok)

	stores, err := v2.Stores(ctx)
	require.NoError(t, err)
	assert.Contains(t, stores, "reel-shell-v1")
}

func TestCache_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(NewMemoryBackend(), "v1")
	key := "https://cdn.example/a.mp4"

	require.NoError(t, c.Put(ctx, PurposeVideo, key, &Entry{StatusCode: 200, Body: []byte("a")}))
	require.NoError(t, c.Delete(ctx, PurposeVideo, key))
	require.NoError(t, c.Delete(ctx, PurposeVideo, key))

	_, ok, err := c.Match(ctx, PurposeVideo, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_Quota(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryBackend(), Options{Prefix: "reel", Generation: "v1", QuotaBytes: 10, MaxEntryBytes: 8})

	require.NoError(t, c.Put(ctx, PurposeVideo, "https://cdn/a", &Entry{StatusCode: 200, Body: make([]byte, 6)}))

	err := c.Put(ctx, PurposeVideo, "https://cdn/b", &Entry{StatusCode: 200, Body: make([]byte, 9)})
	assert.True(t, errors.Is(err, ErrQuotaExceeded), "entry above max size")

	err = c.Put(ctx, PurposeVideo, "https://cdn/b", &Entry{StatusCode: 200, Body: make([]byte, 5)})
	assert.ErrorIs(t, err, ErrQuotaExceeded, "store would exceed quota")

	// overwriting reclaims the old size
	require.NoError(t, c.Put(ctx, PurposeVideo, "https://cdn/a", &Entry{StatusCode: 200, Body: make([]byte, 8)}))

	// quota is per store
	require.NoError(t, c.Put(ctx, PurposeImage, "https://cdn/b", &Entry{StatusCode: 200, Body: make([]byte, 5)}))

	used, err := c.Usage(ctx, PurposeVideo)
	require.NoError(t, err)
	assert.EqualValues(t, 8, used)
}

func TestCache_ConcurrentVideoMutations(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(NewMemoryBackend(), "v1")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("https://cdn/%d.mp4", i%4)
			if i%3 == 0 {
				assert.NoError(t, c.Delete(ctx, PurposeVideo, key))
				return
			}
			assert.NoError(t, c.Put(ctx, PurposeVideo, key, &Entry{StatusCode: 200, Body: []byte{byte(i)}}))
		}(i)
	}
	wg.Wait()

	keys, err := c.Keys(ctx, PurposeVideo)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(keys), 4)
	assert.Empty(t, c.video.locks, "key locks must be released")
}

func TestCache_PutNilEntry(t *testing.T) {
	c := newTestCache(NewMemoryBackend(), "v1")
	assert.NotPanics(t, func() {
		err := c.Put(context.Background(), PurposeImage, "https://cdn/a.jpg", nil)
		assert.ErrorIs(t, err, ErrNilEntry)
	})
}

func TestCache_FillHoldsKeyAcrossLoad(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(NewMemoryBackend(), "v1")
	key := "https://cdn/42.mp4"

	loading := make(chan struct{})
	release := make(chan struct{})
	filled := make(chan error, 1)
	go func() {
		_, err := c.Fill(ctx, PurposeVideo, key, func(context.Context) (*Entry, error) {
			close(loading)
			<-release
			return &Entry{StatusCode: 200, Body: []byte("bytes")}, nil
		})
		filled <- err
	}()
	<-loading

	deleted := make(chan error, 1)
	go func() { deleted <- c.Delete(ctx, PurposeVideo, key) }()
	select {
	case <-deleted:
		t.Fatal("delete must wait for the pending fill")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)

	require.NoError(t, <-filled)
	require.NoError(t, <-deleted)
	_, ok, err := c.Match(ctx, PurposeVideo, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_FillLoadErrorWritesNothing(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(NewMemoryBackend(), "v1")
	boom := errors.New("offline")

	_, err := c.Fill(ctx, PurposeVideo, "https://cdn/1.mp4", func(context.Context) (*Entry, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	keys, err := c.Keys(ctx, PurposeVideo)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestCache_RetireRefusesWrites(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	c := newTestCache(b, "v1")
	require.NoError(t, c.Put(ctx, PurposeImage, "https://cdn/a.jpg", &Entry{StatusCode: 200, Body: []byte("a")}))

	c.Retire()
	require.NoError(t, c.Clear(ctx, PurposeImage))

	err := c.Put(ctx, PurposeImage, "https://cdn/a.jpg", &Entry{StatusCode: 200, Body: []byte("late")})
	assert.ErrorIs(t, err, ErrRetired)
	stores, err := b.Stores(ctx)
	require.NoError(t, err)
	assert.NotContains(t, stores, c.Current(PurposeImage).String(), "a retired cache must not recreate dropped stores")
}
