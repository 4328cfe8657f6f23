package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fluxorio/blockflow/pkg/core"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect names a database/sql driver the SQL store knows how to talk to.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

const createBlockState = `CREATE TABLE IF NOT EXISTS block_state (
	block      TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (block, key)
)`

// SQL is a Store on a database/sql database, accessed through sqlx.
type SQL struct {
	db *sqlx.DB

	loadQuery   string
	saveQuery   string
	deleteQuery string
}

// NewSQLite opens a SQLite store. Use ":memory:" for a throwaway database.
func NewSQLite(ctx context.Context, dsn string) (*SQL, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	return NewSQL(ctx, DialectSQLite, dsn)
}

// NewSQL opens a store on dialect and creates the block_state table.
func NewSQL(ctx context.Context, dialect Dialect, dsn string) (*SQL, error) {
	db, err := sqlx.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}

	if dialect == DialectSQLite {
		// SQLite recommendation for concurrent writes; also keeps a
		// :memory: database alive across calls.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.ExecContext(ctx, createBlockState); err != nil {
		db.Close()
		return nil, fmt.Errorf("create block_state table: %w", err)
	}

	return &SQL{
		db:        db,
		loadQuery: db.Rebind(`SELECT value FROM block_state WHERE block = ? AND key = ?`),
		saveQuery: db.Rebind(`INSERT INTO block_state (block, key, value, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (block, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`),
		deleteQuery: db.Rebind(`DELETE FROM block_state WHERE block = ? AND key = ?`),
	}, nil
}

// DB returns the underlying database connection.
func (s *SQL) DB() *sqlx.DB {
	return s.db
}

func (s *SQL) Load(ctx context.Context, block, key string, v interface{}) (bool, error) {
	if err := validateKey(block, key); err != nil {
		return false, err
	}
	var value string
	err := s.db.GetContext(ctx, &value, s.loadQuery, block, key)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s/%s: %w", block, key, err)
	}
	return true, core.JSONDecode([]byte(value), v)
}

func (s *SQL) Save(ctx context.Context, block, key string, v interface{}) error {
	if err := validateKey(block, key); err != nil {
		return err
	}
	data, err := encode(v)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.saveQuery, block, key, string(data)); err != nil {
		return fmt.Errorf("save %s/%s: %w", block, key, err)
	}
	return nil
}

func (s *SQL) Delete(ctx context.Context, block, key string) error {
	if err := validateKey(block, key); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.deleteQuery, block, key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", block, key, err)
	}
	return nil
}

func (s *SQL) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQL) Close() error {
	return s.db.Close()
}
