// Package storage persists ledger status rows so they outlive the process:
// PostgreSQL for durable history, Redis for short-lived lookups.
package storage

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sungwon/mailbatch/internal/config"
)

const (
	defaultPoolMin        int32 = 1
	defaultPoolMax        int32 = 10
	defaultConnectTimeout       = 10 * time.Second
	applicationName             = "mailbatch"
)

// DB is the ledger database.
type DB struct {
	Pool *pgxpool.Pool
}

// Open connects to the ledger database named by cfg and checks that it
// answers. Unset pool sizes and connect timeout take defaults; the pool
// never keeps more idle connections than it may open.
func Open(ctx context.Context, cfg config.LedgerConfig) (*DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("storage: ledger database_url is not set")
	}
	pc, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("storage: parse database_url: %w", err)
	}

	pc.MaxConns = cmp.Or(cfg.PoolMax, defaultPoolMax)
	pc.MinConns = min(cmp.Or(cfg.PoolMin, defaultPoolMin), pc.MaxConns)
	pc.MaxConnIdleTime = 30 * time.Minute
	pc.HealthCheckPeriod = time.Minute
	if _, set := pc.ConnConfig.RuntimeParams["application_name"]; !set {
		pc.ConnConfig.RuntimeParams["application_name"] = applicationName
	}

	ctx, cancel := context.WithTimeout(ctx, cmp.Or(cfg.ConnectTimeout, defaultConnectTimeout))
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("storage: open ledger pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: reach ledger database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

func (db *DB) Close() { db.Pool.Close() }

// Ping backs the readiness check of the ledger backend.
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
