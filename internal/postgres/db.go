package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 8
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	role       TEXT NOT NULL DEFAULT 'waiter',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS items (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	price_cents BIGINT NOT NULL CHECK (price_cents >= 0),
	stock       INTEGER NOT NULL CHECK (stock >= 0),
	expires_at  TIMESTAMPTZ,
	available   BOOLEAN NOT NULL DEFAULT TRUE,
	version     BIGINT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS items_expires_at ON items (expires_at);

CREATE TABLE IF NOT EXISTS orders (
	id            TEXT PRIMARY KEY,
	customer_name TEXT NOT NULL,
	waiter_id     TEXT NOT NULL DEFAULT '',
	cashier_id    TEXT NOT NULL DEFAULT '',
	total_cents   BIGINT NOT NULL,
	status        TEXT NOT NULL,
	version       BIGINT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_status_created ON orders (status, created_at);

CREATE TABLE IF NOT EXISTS order_lines (
	order_id    TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
	position    INTEGER NOT NULL,
	item_id     TEXT NOT NULL,
	qty         INTEGER NOT NULL CHECK (qty > 0),
	price_cents BIGINT NOT NULL,
	PRIMARY KEY (order_id, position)
);
`

// EnsureSchema creates the tables if they are missing.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, schema)
	return err
}
