package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/fluxorio/blockflow/pkg/core"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createBlockStatePostgres = `CREATE TABLE IF NOT EXISTS block_state (
	block      TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (block, key)
)`

// Postgres is a Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn and creates the block_state table.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn cannot be empty")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, createBlockStatePostgres); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create block_state table: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Load(ctx context.Context, block, key string, v interface{}) (bool, error) {
	if err := validateKey(block, key); err != nil {
		return false, err
	}
	var value []byte
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM block_state WHERE block = $1 AND key = $2`, block, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s/%s: %w", block, key, err)
	}
	return true, core.JSONDecode(value, v)
}

func (p *Postgres) Save(ctx context.Context, block, key string, v interface{}) error {
	if err := validateKey(block, key); err != nil {
		return err
	}
	data, err := encode(v)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO block_state (block, key, value, updated_at) VALUES ($1, $2, $3, now())
ON CONFLICT (block, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		block, key, string(data),
	)
	if err != nil {
		return fmt.Errorf("save %s/%s: %w", block, key, err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, block, key string) error {
	if err := validateKey(block, key); err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx, `DELETE FROM block_state WHERE block = $1 AND key = $2`, block, key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", block, key, err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
