// Package queue is the durable local store for photos that have not yet been
// acknowledged by the server.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Queue holds capture records in insertion order until they are delivered.
type Queue interface {
	Enqueue(ctx context.Context, record CaptureRecord) error
	ListAll(ctx context.Context) ([]CaptureRecord, error)
	Remove(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	DeadLetter(ctx context.Context, id, reason string) error
	ListDeadLetters(ctx context.Context) ([]DeadLetter, error)
	Close() error
}

type SQLiteQueue struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteQueue opens (or creates) the queue database at path. Use ":memory:"
// for a throwaway queue.
func NewSQLiteQueue(path string) (*SQLiteQueue, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storageErr("open", err)
	}
	// one connection serializes writers and keeps ":memory:" a single database
	db.SetMaxOpenConns(1)

	q := &SQLiteQueue{db: db, now: time.Now}
	if err := q.createSchema(); err != nil {
		_ = db.Close()
		return nil, storageErr("create schema", err)
	}
	return q, nil
}

func (q *SQLiteQueue) createSchema() error {
	statements := []string{
		`PRAGMA busy_timeout = 5000`,
		`CREATE TABLE IF NOT EXISTS queue (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			payload TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS dead_letters (
			id TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			reason TEXT NOT NULL,
			failed_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := q.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (q *SQLiteQueue) Enqueue(ctx context.Context, record CaptureRecord) error {
	if record.ID == "" {
		return errors.New("capture record has no id")
	}
	_, err := q.db.ExecContext(ctx,
		"INSERT INTO queue (id, payload, created_at) VALUES (?, ?, ?)",
		record.ID, record.Payload, record.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrDuplicateID, record.ID)
		}
		return storageErr("enqueue", err)
	}
	return nil
}

func (q *SQLiteQueue) ListAll(ctx context.Context) ([]CaptureRecord, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT id, payload, created_at FROM queue ORDER BY seq")
	if err != nil {
		return nil, storageErr("list", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	records := []CaptureRecord{}
	for rows.Next() {
		var r CaptureRecord
		if err := rows.Scan(&r.ID, &r.Payload, &r.CreatedAt); err != nil {
			return nil, storageErr("list", err)
		}
		records = append(records, r)
	}
	return records, storageErr("list", rows.Err())
}

// Remove deletes one record. Removing an unknown id is not an error.
func (q *SQLiteQueue) Remove(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, "DELETE FROM queue WHERE id = ?", id)
	return storageErr("remove", err)
}

func (q *SQLiteQueue) Clear(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, "DELETE FROM queue")
	return storageErr("clear", err)
}

// DeadLetter moves a record out of the active queue. Unknown ids are ignored.
func (q *SQLiteQueue) DeadLetter(ctx context.Context, id, reason string) (err error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("dead letter", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var r CaptureRecord
	err = tx.QueryRowContext(ctx, "SELECT id, payload, created_at FROM queue WHERE id = ?", id).
		Scan(&r.ID, &r.Payload, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		return nil
	}
	if err != nil {
		return storageErr("dead letter", err)
	}

	if _, err = tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO dead_letters (id, payload, created_at, reason, failed_at) VALUES (?, ?, ?, ?, ?)",
		r.ID, r.Payload, r.CreatedAt, reason, q.now().UnixMilli()); err != nil {
		return storageErr("dead letter", err)
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM queue WHERE id = ?", id); err != nil {
		return storageErr("dead letter", err)
	}
	if err = tx.Commit(); err != nil {
		return storageErr("dead letter", err)
	}
	return nil
}

func (q *SQLiteQueue) ListDeadLetters(ctx context.Context) ([]DeadLetter, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT id, payload, created_at, reason, failed_at FROM dead_letters ORDER BY failed_at, id")
	if err != nil {
		return nil, storageErr("list dead letters", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	letters := []DeadLetter{}
	for rows.Next() {
		var d DeadLetter
		if err := rows.Scan(&d.Record.ID, &d.Record.Payload, &d.Record.CreatedAt, &d.Reason, &d.FailedAt); err != nil {
			return nil, storageErr("list dead letters", err)
		}
		letters = append(letters, d)
	}
	return letters, storageErr("list dead letters", rows.Err())
}

func (q *SQLiteQueue) Close() error {
	if q.db != nil {
		return q.db.Close()
	}
	return nil
}
