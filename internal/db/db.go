package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/swarmgrid/swarm-core/internal/config"
)

// DB wraps the shared connection pool. The pool is multi-reader,
// multi-writer; row-level locking in the repositories serializes
// mutations to individual job rows.
type DB struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context) (*DB, error) {
	pgCfg, err := config.GetPostgresConfig()
	if err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(pgCfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pg config: %w", err)
	}

	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.HealthCheckPeriod = 30 * time.Second

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &DB{Pool: pool}, nil
}

func (d *DB) Close() {
	d.Pool.Close()
}
