package assetcache

import "fmt"

const (
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// NewBackendFromConfig creates a Backend based on the backend kind.
// "bolt" (default) and "sqlite" persist under path; "memory" ignores it.
// hotEntries only applies to bolt.
func NewBackendFromConfig(kind, path string, hotEntries int, readOnly bool) (Backend, error) {
	switch kind {
	case BackendMemory:
		return NewMemoryBackend(), nil
	case BackendBolt, "":
		return NewBoltBackend(path, hotEntries, readOnly)
	case BackendSQLite:
		return NewSQLiteBackend(path, readOnly)
	default:
		return nil, fmt.Errorf("unknown store backend: %s (supported: %s, %s, %s)", kind, BackendBolt, BackendSQLite, BackendMemory)
	}
}
