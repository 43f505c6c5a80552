// Package store is the durable persistence layer: the function registry
// (one row per FunctionRecord) and the append-only execution metrics table,
// both backed by Postgres via pgx. Aggregated metrics windows may optionally
// be served from a Redis cache to avoid recomputing percentiles under load.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oriys/serverlessd/internal/domain"
)

// FunctionStore is the CRUD surface over FunctionRecord. The sandbox executor
// never caches a lookup result in memory; every execution re-reads fresh.
type FunctionStore interface {
	Create(ctx context.Context, fn *domain.Function) error
	Get(ctx context.Context, name string) (*domain.Function, error)
	List(ctx context.Context) ([]*domain.Function, error)
	Update(ctx context.Context, fn *domain.Function) error
	Delete(ctx context.Context, name string) error
}

// MetricsStore is the durable, append-only execution metrics surface: Record
// is called once per execution, each insert its own transaction; List and
// Aggregate serve the metrics API. Aggregate's functionName is optional;
// empty means the window spans every function.
type MetricsStore interface {
	Record(ctx context.Context, m *domain.ExecutionMetric) error
	List(ctx context.Context, functionName string, limit int) ([]*domain.ExecutionMetric, error)
	Aggregate(ctx context.Context, functionName string, window Window) (*Aggregate, error)
}

// ErrNotFound is returned by FunctionStore lookups that miss.
var ErrNotFound = fmt.Errorf("not found")

// Store bundles both durable stores behind a single Postgres connection
// pool.
type Store struct {
	*PostgresFunctionStore
	*PostgresMetricsStore
}

// Open connects to Postgres, ensures the schema exists, and returns a Store
// wiring both the function registry and the metrics store to the same pool.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := ensureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{
		PostgresFunctionStore: &PostgresFunctionStore{pool: pool},
		PostgresMetricsStore:  &PostgresMetricsStore{pool: pool},
	}, nil
}

func (s *Store) Close() {
	s.PostgresFunctionStore.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.PostgresFunctionStore.pool.Ping(ctx)
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS functions (
			name TEXT PRIMARY KEY,
			language TEXT NOT NULL,
			code TEXT NOT NULL,
			timeout_s INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS execution_metrics (
			id BIGSERIAL PRIMARY KEY,
			function_name TEXT NOT NULL,
			runtime TEXT NOT NULL,
			language TEXT NOT NULL,
			cold_start BOOLEAN NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			initialization_ms BIGINT NOT NULL,
			execution_ms BIGINT NOT NULL,
			total_ms BIGINT NOT NULL,
			status TEXT NOT NULL,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_execution_metrics_function_time ON execution_metrics(function_name, occurred_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
