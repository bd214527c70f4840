// Package postgres writes output records into a Postgres JSONB table.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/storefront-crawler/internal/sink"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for output rows.
type Config struct {
	DSN      string
	Table    string
	RunID    string
	MaxConns int32
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Sink inserts one row per record. It assumes a table like:
//
//	CREATE TABLE products (
//	    id UUID PRIMARY KEY,
//	    run_id TEXT NOT NULL,
//	    url TEXT,
//	    variant_id TEXT,
//	    record JSONB NOT NULL,
//	    emitted_at TIMESTAMPTZ NOT NULL
//	);
type Sink struct {
	pool  execCloser
	table string
	runID string
	now   func() time.Time
	newID func() string
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sink.postgresDsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(pool, cfg.Table, cfg.RunID)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a sink from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table, runID string) (*Sink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "products"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Sink{
		pool:  pool,
		table: table,
		runID: runID,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}, nil
}

// Emit inserts item as a JSONB row.
func (s *Sink) Emit(ctx context.Context, item any) error {
	record, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	url, variantID := sink.Fields(item)
	query := fmt.Sprintf(`INSERT INTO %s (id, run_id, url, variant_id, record, emitted_at)
VALUES ($1, $2, $3, $4, $5, $6)`, s.table)
	if _, err := s.pool.Exec(ctx, query,
		s.newID(),
		s.runID,
		url,
		variantID,
		record,
		s.now(),
	); err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Sink) Close() error {
	s.pool.Close()
	return nil
}
