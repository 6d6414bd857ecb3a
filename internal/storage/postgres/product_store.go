// Package postgres exports normalized products to Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/catalog-harvester/internal/normalize"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "products"

// ProductStoreConfig controls the Postgres connection pool used for product rows.
type ProductStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ProductStore upserts cleaned product rows keyed by link.
type ProductStore struct {
	pool  execCloser
	table string
}

// NewProductStore creates a Postgres-backed ProductStore using the provided config.
func NewProductStore(ctx context.Context, cfg ProductStoreConfig) (*ProductStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ProductStore{pool: pool, table: table}, nil
}

// NewProductStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewProductStoreWithPool(pool execCloser, table string) (*ProductStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ProductStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *ProductStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the product table when it does not exist.
func (s *ProductStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("product store is not configured")
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	link              TEXT PRIMARY KEY,
	run_id            TEXT NOT NULL,
	create_date       TIMESTAMPTZ NOT NULL,
	article           TEXT NOT NULL,
	name              TEXT NOT NULL,
	regular_price     TEXT NOT NULL,
	promotional_price TEXT NOT NULL,
	brand             TEXT NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create product table: %w", err)
	}
	return nil
}

// UpsertProducts writes every record, replacing rows that share a link.
func (s *ProductStore) UpsertProducts(ctx context.Context, runID string, records []normalize.Record) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("product store is not configured")
	}
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	link,
	run_id,
	create_date,
	article,
	name,
	regular_price,
	promotional_price,
	brand
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)
ON CONFLICT (link) DO UPDATE SET
	run_id = EXCLUDED.run_id,
	create_date = EXCLUDED.create_date,
	article = EXCLUDED.article,
	name = EXCLUDED.name,
	regular_price = EXCLUDED.regular_price,
	promotional_price = EXCLUDED.promotional_price,
	brand = EXCLUDED.brand`, s.table)

	for _, rec := range records {
		args := []any{
			rec.Link,
			runID,
			rec.CreateDate,
			rec.ID,
			rec.Name,
			rec.RegularPrice,
			rec.PromotionalPrice,
			rec.Brand,
		}
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert product %s: %w", rec.Link, err)
		}
	}
	return nil
}
