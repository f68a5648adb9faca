// Package postgres archives completed result sets in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Lunyoo/adlibrary-crawler/internal/crawler"
	"github.com/Lunyoo/adlibrary-crawler/internal/store"
)

const defaultTable = "scraping_results"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for result rows.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Archive stores one row per result set with the records as JSONB.
type Archive struct {
	pool  querier
	table string
}

// New connects a pgx pool and returns an Archive.
func New(ctx context.Context, cfg Config) (*Archive, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("archive.postgres.dsn is required")
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
	archive, err := NewWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return archive, nil
}

// NewWithPool constructs an Archive from an existing pool (primarily for testing).
func NewWithPool(pool querier, table string) (*Archive, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Archive{pool: pool, table: table}, nil
}

// EnsureSchema creates the results table if it is missing.
func (a *Archive) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	result_id    TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL UNIQUE,
	label        TEXT NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL,
	record_count INTEGER NOT NULL,
	records      JSONB NOT NULL
)`, a.table)
	if _, err := a.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", a.table, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (a *Archive) Close() {
	if a == nil || a.pool == nil {
		return
	}
	a.pool.Close()
}

// SaveResult inserts the result row. Re-saving the same result is a no-op.
func (a *Archive) SaveResult(ctx context.Context, result crawler.ResultSet) error {
	if result.ID == "" {
		return fmt.Errorf("result id is required")
	}
	records, err := json.Marshal(result.Records)
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (result_id, run_id, label, completed_at, record_count, records)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (result_id) DO NOTHING`, a.table)
	_, err = a.pool.Exec(ctx, query,
		result.ID,
		result.RunID,
		result.Label,
		result.CompletedAt,
		len(result.Records),
		records,
	)
	if err != nil {
		return fmt.Errorf("insert result %s: %w", result.ID, err)
	}
	return nil
}

// LoadResult fetches a result by id.
func (a *Archive) LoadResult(ctx context.Context, resultID string) (crawler.ResultSet, error) {
	return a.load(ctx, "result_id", resultID)
}

// LoadResultByRun fetches the result produced by a run.
func (a *Archive) LoadResultByRun(ctx context.Context, runID string) (crawler.ResultSet, error) {
	return a.load(ctx, "run_id", runID)
}

func (a *Archive) load(ctx context.Context, column, value string) (crawler.ResultSet, error) {
	query := fmt.Sprintf(
		`SELECT result_id, run_id, label, completed_at, records FROM %s WHERE %s = $1`,
		a.table, column,
	)

	var (
		rs      crawler.ResultSet
		records []byte
	)
	err := a.pool.QueryRow(ctx, query, value).Scan(&rs.ID, &rs.RunID, &rs.Label, &rs.CompletedAt, &records)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.ResultSet{}, fmt.Errorf("%s %s: %w", column, value, store.ErrNotFound)
	}
	if err != nil {
		return crawler.ResultSet{}, fmt.Errorf("query result by %s: %w", column, err)
	}
	if err := json.Unmarshal(records, &rs.Records); err != nil {
		return crawler.ResultSet{}, fmt.Errorf("decode records: %w", err)
	}
	return rs, nil
}
