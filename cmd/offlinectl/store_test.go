package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bassista/go_reel/internal/assetcache"
)

func seededBackend(t *testing.T) assetcache.Backend {
	t.Helper()
	ctx := context.Background()
	b := assetcache.NewMemoryBackend()
	require.NoError(t, b.Put(ctx, "reel-shell-v1", "http://app.local/", &assetcache.Entry{StatusCode: 200, Body: make([]byte, 2048)}))
	require.NoError(t, b.Put(ctx, "reel-videos-v1", "https://cdn.example/42.mp4", &assetcache.Entry{StatusCode: 200, Body: make([]byte, 3000)}))
	require.NoError(t, b.Put(ctx, "reel-videos-v1", "https://cdn.example/7.mp4", &assetcache.Entry{StatusCode: 200, Body: make([]byte, 1000)}))
	return b
}

func TestPrintStores(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printStores(context.Background(), &out, seededBackend(t)))

	s := out.String()
	assert.Contains(t, s, "STORE")
	assert.Contains(t, s, "reel-shell-v1")
	assert.Contains(t, s, "2.0 kB")
	assert.Contains(t, s, "reel-videos-v1")
	assert.Contains(t, s, "4.0 kB")
}

func TestPrintStores_Empty(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printStores(context.Background(), &out, assetcache.NewMemoryBackend()))
	assert.Equal(t, "No stores.\n", out.String())
}

func TestPrintEntries(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printEntries(context.Background(), &out, seededBackend(t), "reel-videos-v1"))

	s := out.String()
	assert.Contains(t, s, "https://cdn.example/42.mp4")
	assert.Contains(t, s, "3.0 kB")
	assert.Contains(t, s, "https://cdn.example/7.mp4")
	assert.Contains(t, s, "1.0 kB")
}

func TestTotalUsage(t *testing.T) {
	total, err := totalUsage(context.Background(), seededBackend(t))
	require.NoError(t, err)
	assert.Equal(t, int64(6048), total)
}

func TestOpenStore_RejectsMemory(t *testing.T) {
	_, err := openStore(&storeFlags{backend: assetcache.BackendMemory, path: "unused"})
	require.Error(t, err)
}

func TestOpenStore_BoltReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assets.db")
	ctx := context.Background()

	rw, err := assetcache.NewBackendFromConfig(assetcache.BackendBolt, path, 0, false)
	require.NoError(t, err)
	require.NoError(t, rw.Put(ctx, "reel-videos-v1", "https://cdn.example/42.mp4", &assetcache.Entry{StatusCode: 200, Body: []byte("abc")}))
	require.NoError(t, rw.Close())

	ro, err := openStore(&storeFlags{backend: assetcache.BackendBolt, path: path})
	require.NoError(t, err)
	defer ro.Close()

	total, err := totalUsage(ctx, ro)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}
