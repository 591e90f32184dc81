package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// newPool opens a pgxpool.Pool against poolDSN and verifies connectivity.
// Individual experiment databases each open a dedicated *pgx.Conn (see
// PostgresAdapter.Create) that carries all of their inserts and sidecar
// bookkeeping — the pool here serves as the connection-config template for
// those connections (dedicatedConn) and runs cluster-wide migrations.
func newPool(ctx context.Context, poolDSN string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(poolDSN)
	if err != nil {
		return nil, fmt.Errorf("storage: parse pool dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}
	return pool, nil
}

// dedicatedConn opens a standalone connection to name, reusing the pool's
// connection config as a template (user/host/port/TLS settings) but
// targeting a specific database. This is the one-connection-per-experiment
// shape each Database handle holds for its own transaction window.
func dedicatedConn(ctx context.Context, pool *pgxpool.Pool, name string) (*pgx.Conn, error) {
	cfg := pool.Config().ConnConfig.Copy()
	cfg.Database = name
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: connect database %s: %w", name, err)
	}
	return conn, nil
}
