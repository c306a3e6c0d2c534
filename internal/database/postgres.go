package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/splitflow/splitflow/internal/config"
)

// Postgres holds the pgx pool shared by the repository layer.
type Postgres struct {
	Pool   *pgxpool.Pool
	logger *zap.Logger
}

// OpenPostgres builds a connection pool from the database config and
// verifies it with a bounded ping before handing it out.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute
	poolCfg.ConnConfig.RuntimeParams["application_name"] = "splitflow"

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Info("postgres pool ready",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.DBName),
		zap.Int32("max_conns", poolCfg.MaxConns),
	)

	return &Postgres{Pool: pool, logger: logger}, nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	if p.Pool != nil {
		p.Pool.Close()
		p.logger.Info("postgres pool closed")
	}
}

// Health reports whether the database is reachable.
func (p *Postgres) Health(ctx context.Context) error {
	return p.Pool.Ping(ctx)
}
