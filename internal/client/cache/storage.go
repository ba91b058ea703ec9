package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one stored response.
type Entry struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	StoredAt   int64
}

// ErrCacheNotFound is returned by Put when the named cache does not exist.
var ErrCacheNotFound = errors.New("cache not found")

// StorageError wraps failures of the cache store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("cache storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// Storage holds named caches of responses keyed by request URI.
type Storage interface {
	Names(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) (bool, error)
	// Match returns nil when the key is not cached.
	Match(ctx context.Context, name, key string) (*Entry, error)
	// Put stores one entry in an existing cache. It never creates the cache.
	Put(ctx context.Context, name, key string, entry Entry) error
	// PutAll creates the cache and stores every entry, or nothing.
	PutAll(ctx context.Context, name string, entries map[string]Entry) error
	Close() error
}

type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storageErr("open", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStorage{db: db, now: time.Now}
	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, storageErr("create schema", err)
	}
	return s, nil
}

func (s *SQLiteStorage) createSchema() error {
	statements := []string{
		`PRAGMA busy_timeout = 5000`,
		`CREATE TABLE IF NOT EXISTS caches (
			name TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cache_entries (
			cache_name TEXT NOT NULL,
			key TEXT NOT NULL,
			status INTEGER NOT NULL,
			header TEXT NOT NULL,
			body BLOB,
			stored_at INTEGER NOT NULL,
			PRIMARY KEY (cache_name, key)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM caches ORDER BY created_at, name")
	if err != nil {
		return nil, storageErr("names", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, storageErr("names", err)
		}
		names = append(names, name)
	}
	return names, storageErr("names", rows.Err())
}

func (s *SQLiteStorage) Delete(ctx context.Context, name string) (deleted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storageErr("delete", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM cache_entries WHERE cache_name = ?", name); err != nil {
		return false, storageErr("delete", err)
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM caches WHERE name = ?", name)
	if err != nil {
		return false, storageErr("delete", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, storageErr("delete", err)
	}
	if err = tx.Commit(); err != nil {
		return false, storageErr("delete", err)
	}
	return affected > 0, nil
}

func (s *SQLiteStorage) Match(ctx context.Context, name, key string) (*Entry, error) {
	var (
		entry  Entry
		header string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT status, header, body, stored_at FROM cache_entries WHERE cache_name = ? AND key = ?", name, key).
		Scan(&entry.StatusCode, &header, &entry.Body, &entry.StoredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("match", err)
	}
	if err := json.Unmarshal([]byte(header), &entry.Header); err != nil {
		return nil, storageErr("match", fmt.Errorf("corrupt header for %s: %w", key, err))
	}
	return &entry, nil
}

func (s *SQLiteStorage) Put(ctx context.Context, name, key string, entry Entry) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("put", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM caches WHERE name = ?", name).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrCacheNotFound, name)
	}
	if err != nil {
		return storageErr("put", err)
	}
	if err = putEntries(ctx, tx, name, map[string]Entry{key: entry}, s.now().UnixMilli()); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return storageErr("put", err)
	}
	return nil
}

func (s *SQLiteStorage) PutAll(ctx context.Context, name string, entries map[string]Entry) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("put", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.now().UnixMilli()
	if _, err = tx.ExecContext(ctx, "INSERT OR IGNORE INTO caches (name, created_at) VALUES (?, ?)", name, now); err != nil {
		return storageErr("put", err)
	}
	if err = putEntries(ctx, tx, name, entries, now); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return storageErr("put", err)
	}
	return nil
}

func putEntries(ctx context.Context, tx *sql.Tx, name string, entries map[string]Entry, now int64) error {
	for key, entry := range entries {
		header, err := json.Marshal(entry.Header)
		if err != nil {
			return storageErr("put", err)
		}
		storedAt := entry.StoredAt
		if storedAt == 0 {
			storedAt = now
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cache_entries (cache_name, key, status, header, body, stored_at) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (cache_name, key) DO UPDATE SET status = excluded.status, header = excluded.header,
			body = excluded.body, stored_at = excluded.stored_at`,
			name, key, entry.StatusCode, string(header), entry.Body, storedAt); err != nil {
			return storageErr("put", err)
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
