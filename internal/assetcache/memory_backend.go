package assetcache

import (
	"context"
	"sort"
	"sync"

	"github.com/bassista/go_reel/internal/logger"
)

// MemoryBackend keeps stores in process memory. It is meant for tests and
// for running the worker without a data directory.
type MemoryBackend struct {
	mu     sync.RWMutex
	stores map[string]map[string]*Entry
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{stores: map[string]map[string]*Entry{}}
}

func (m *MemoryBackend) Open(_ context.Context, store string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stores[store]; !ok {
		m.stores[store] = map[string]*Entry{}
		logger.WithComponent("memory-backend").Debugf("opened store %s", store)
	}
	return nil
}

func (m *MemoryBackend) Put(_ context.Context, store, key string, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stores[store]
	if !ok {
		s = map[string]*Entry{}
		m.stores[store] = s
	}
	s[key] = e.Clone()
	return nil
}

func (m *MemoryBackend) Get(_ context.Context, store, key string) (*Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.stores[store][key]
	if !ok {
		return nil, false, nil
	}
	return e.Clone(), true, nil
}

func (m *MemoryBackend) EntrySize(_ context.Context, store, key string) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.stores[store][key]
	if !ok {
		return 0, false, nil
	}
	return e.Size(), true, nil
}

func (m *MemoryBackend) Delete(_ context.Context, store, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stores[store], key)
	return nil
}

func (m *MemoryBackend) Keys(_ context.Context, store string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.stores[store]))
	for k := range m.stores[store] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryBackend) Usage(_ context.Context, store string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total int64
	for _, e := range m.stores[store] {
		total += e.Size()
	}
	return total, nil
}

func (m *MemoryBackend) Stores(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.stores))
	for n := range m.stores {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryBackend) DropStore(_ context.Context, store string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stores, store)
	return nil
}

func (m *MemoryBackend) Close() error {
	return nil
}
