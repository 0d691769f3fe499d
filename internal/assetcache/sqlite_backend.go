package assetcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bassista/go_reel/internal/logger"
)

const createStoreTables = `
CREATE TABLE IF NOT EXISTS stores (
	name TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	store TEXT NOT NULL,
	key TEXT NOT NULL,
	url TEXT NOT NULL,
	status INTEGER NOT NULL,
	header BLOB,
	body BLOB,
	size INTEGER NOT NULL,
	stored_at INTEGER NOT NULL,
	PRIMARY KEY (store, key)
);
`

// SQLiteBackend keeps all stores in two tables of a single SQLite file.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) the database at path.
func NewSQLiteBackend(path string, readOnly bool) (*SQLiteBackend, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}

	dsn := path
	if readOnly {
		dsn = "file:" + path + "?mode=ro"
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	// One connection keeps writers ordered without SQLITE_BUSY retries.
	db.SetMaxOpenConns(1)

	if !readOnly {
		if _, err := db.Exec(createStoreTables); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate store db: %w", err)
		}
	}

	logger.WithComponent("sqlite-backend").Debugf("opened %s (read-only: %v)", path, readOnly)
	return &SQLiteBackend{db: db}, nil
}

func (s *SQLiteBackend) Open(ctx context.Context, store string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO stores (name, created_at) VALUES (?, ?)`,
		store, time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("open store %s: %w", store, err)
	}
	return nil
}

func (s *SQLiteBackend) Put(ctx context.Context, store, key string, e *Entry) error {
	header, err := json.Marshal(e.Header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store put: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO stores (name, created_at) VALUES (?, ?)`,
		store, time.Now().UTC().UnixNano(),
	); err != nil {
		return fmt.Errorf("store put: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO entries (store, key, url, status, header, body, size, stored_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		store, key, e.URL, e.StatusCode, header, e.Body, e.Size(), e.StoredAt.UTC().UnixNano(),
	); err != nil {
		return fmt.Errorf("store put: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteBackend) Get(ctx context.Context, store, key string) (*Entry, bool, error) {
	var (
		e        Entry
		header   []byte
		storedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT url, status, header, body, stored_at FROM entries WHERE store = ? AND key = ?`,
		store, key,
	).Scan(&e.URL, &e.StatusCode, &header, &e.Body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store get: %w", err)
	}

	if len(header) > 0 {
		var h http.Header
		if err := json.Unmarshal(header, &h); err != nil {
			return nil, false, fmt.Errorf("decode header %s: %w", key, err)
		}
		e.Header = h
	}
	e.StoredAt = time.Unix(0, storedAt).UTC()
	return &e, true, nil
}

func (s *SQLiteBackend) EntrySize(ctx context.Context, store, key string) (int64, bool, error) {
	var size int64
	err := s.db.QueryRowContext(ctx,
		`SELECT size FROM entries WHERE store = ? AND key = ?`, store, key,
	).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("store entry size: %w", err)
	}
	return size, true, nil
}

func (s *SQLiteBackend) Delete(ctx context.Context, store, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE store = ? AND key = ?`, store, key); err != nil {
		return fmt.Errorf("store delete: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Keys(ctx context.Context, store string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM entries WHERE store = ? ORDER BY key`, store)
	if err != nil {
		return nil, fmt.Errorf("store keys: %w", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLiteBackend) Usage(ctx context.Context, store string) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(size), 0) FROM entries WHERE store = ?`, store,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("store usage: %w", err)
	}
	return total, nil
}

func (s *SQLiteBackend) Stores(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM stores ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (s *SQLiteBackend) DropStore(ctx context.Context, store string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("drop store %s: %w", store, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE store = ?`, store); err != nil {
		return fmt.Errorf("drop store %s: %w", store, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM stores WHERE name = ?`, store); err != nil {
		return fmt.Errorf("drop store %s: %w", store, err)
	}
	return tx.Commit()
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}
