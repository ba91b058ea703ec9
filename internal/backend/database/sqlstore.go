package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SQLStore keeps subscriptions in a push_subscriptions table. It works with
// both the sqlite and postgres drivers.
type SQLStore struct {
	db *sqlx.DB
}

type subscriptionRow struct {
	Endpoint       string        `db:"endpoint"`
	P256dh         string        `db:"p256dh"`
	Auth           string        `db:"auth"`
	ExpirationTime sql.NullInt64 `db:"expiration_time"`
	Position       int64         `db:"position"`
}

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know by default
	sqlx.BindDriver(TypeSQLite, sqlx.QUESTION)
}

func NewSQLStore(driver, connectionString string) (*SQLStore, error) {
	db, err := sqlx.Open(driver, connectionString)
	if err != nil {
		return nil, err
	}
	if driver == TypeSQLite {
		// a second connection to ":memory:" would open a different database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLStore{db: db}
	if err := store.createSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return store, nil
}

func (s *SQLStore) createSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS push_subscriptions (
		endpoint TEXT PRIMARY KEY,
		p256dh TEXT NOT NULL,
		auth TEXT NOT NULL,
		expiration_time BIGINT,
		position BIGINT NOT NULL
	)`)
	return err
}

func (s *SQLStore) List(ctx context.Context) ([]Subscription, error) {
	var rows []subscriptionRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT endpoint, p256dh, auth, expiration_time, position FROM push_subscriptions ORDER BY position")
	if err != nil {
		return nil, err
	}

	subs := make([]Subscription, 0, len(rows))
	for _, row := range rows {
		subs = append(subs, row.toSubscription())
	}
	return subs, nil
}

func (s *SQLStore) Add(ctx context.Context, sub Subscription) (bool, error) {
	query := s.db.Rebind(`INSERT INTO push_subscriptions (endpoint, p256dh, auth, expiration_time, position)
		VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM push_subscriptions))
		ON CONFLICT (endpoint) DO NOTHING`)
	row := toRow(sub, 0)
	result, err := s.db.ExecContext(ctx, query, row.Endpoint, row.P256dh, row.Auth, row.ExpirationTime)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Replace rewrites the table inside a single transaction.
func (s *SQLStore) Replace(ctx context.Context, subs []Subscription) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM push_subscriptions"); err != nil {
		return err
	}
	const insert = `INSERT INTO push_subscriptions (endpoint, p256dh, auth, expiration_time, position)
		VALUES (:endpoint, :p256dh, :auth, :expiration_time, :position)`
	for i, sub := range subs {
		if _, err = tx.NamedExecContext(ctx, insert, toRow(sub, int64(i+1))); err != nil {
			return fmt.Errorf("failed to insert subscription %s: %w", sub.Endpoint, err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func toRow(sub Subscription, position int64) subscriptionRow {
	row := subscriptionRow{
		Endpoint: sub.Endpoint,
		P256dh:   sub.Keys.P256dh,
		Auth:     sub.Keys.Auth,
		Position: position,
	}
	if sub.ExpirationTime != nil {
		row.ExpirationTime = sql.NullInt64{Int64: *sub.ExpirationTime, Valid: true}
	}
	return row
}

func (row subscriptionRow) toSubscription() Subscription {
	sub := Subscription{
		Endpoint: row.Endpoint,
		Keys:     Keys{P256dh: row.P256dh, Auth: row.Auth},
	}
	if row.ExpirationTime.Valid {
		exp := row.ExpirationTime.Int64
		sub.ExpirationTime = &exp
	}
	return sub
}
