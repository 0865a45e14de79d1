// Package database provides PostgreSQL persistence for the fund engine and
// the redis-backed daily state store. Rows are written with per-row
// atomicity only; callers order multi-row sequences so a crash between
// steps stays recoverable.
package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection
func NewDB(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Printf("[DATABASE] Connected to PostgreSQL database: %s", cfg.Database)

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Println("[DATABASE] Connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	log.Println("[DATABASE] Running migrations...")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS pools (
			id UUID PRIMARY KEY,
			strategy_id TEXT NOT NULL UNIQUE,
			total_capital DOUBLE PRECISION NOT NULL DEFAULT 0,
			available_capital DOUBLE PRECISION NOT NULL DEFAULT 0,
			locked_capital DOUBLE PRECISION NOT NULL DEFAULT 0,
			current_nav DOUBLE PRECISION NOT NULL DEFAULT 1,
			total_shares DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
			unrealized_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
			trades_today INTEGER NOT NULL DEFAULT 0,
			daily_trade_limit INTEGER NOT NULL DEFAULT 20,
			trade_day TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS stakes (
			id UUID PRIMARY KEY,
			participant_id TEXT NOT NULL,
			pool_id UUID NOT NULL REFERENCES pools(id),
			amount DOUBLE PRECISION NOT NULL,
			shares DOUBLE PRECISION NOT NULL,
			entry_nav DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			lock_start TIMESTAMPTZ NOT NULL,
			lock_end TIMESTAMPTZ NOT NULL,
			paused_at TIMESTAMPTZ,
			paused_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
			realized_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
			unrealized_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
			penalty_paid DOUBLE PRECISION NOT NULL DEFAULT 0,
			fees_paid DOUBLE PRECISION NOT NULL DEFAULT 0,
			redemption_amount DOUBLE PRECISION,
			redeemed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stakes_pool_id ON stakes(pool_id)`,
		`CREATE INDEX IF NOT EXISTS idx_stakes_participant ON stakes(participant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_stakes_status ON stakes(status)`,

		`CREATE TABLE IF NOT EXISTS positions (
			id UUID PRIMARY KEY,
			pool_id UUID NOT NULL REFERENCES pools(id),
			decision_id UUID NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			current_price DOUBLE PRECISION NOT NULL,
			quantity DOUBLE PRECISION NOT NULL,
			leverage INTEGER NOT NULL DEFAULT 1,
			margin_used DOUBLE PRECISION NOT NULL,
			stop_loss DOUBLE PRECISION NOT NULL DEFAULT 0,
			take_profit DOUBLE PRECISION NOT NULL DEFAULT 0,
			unrealized_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'open',
			opened_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_pool_status ON positions(pool_id, status)`,

		`CREATE TABLE IF NOT EXISTS decisions (
			id UUID PRIMARY KEY,
			pool_id UUID NOT NULL,
			action TEXT NOT NULL,
			symbol TEXT NOT NULL,
			size DOUBLE PRECISION NOT NULL DEFAULT 0,
			leverage INTEGER NOT NULL DEFAULT 1,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			risk_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			reason TEXT,
			executed BOOLEAN NOT NULL DEFAULT FALSE,
			execution_id TEXT,
			fill_price DOUBLE PRECISION,
			outcome_pnl DOUBLE PRECISION,
			settled_at TIMESTAMPTZ,
			failure_reason TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_pool ON decisions(pool_id, created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS allocations (
			id UUID PRIMARY KEY,
			pool_id UUID NOT NULL,
			stake_id UUID NOT NULL,
			position_id UUID NOT NULL,
			decision_id UUID NOT NULL,
			pnl DOUBLE PRECISION NOT NULL,
			fee DOUBLE PRECISION NOT NULL,
			share_pct DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_allocations_stake ON allocations(stake_id)`,
		`CREATE INDEX IF NOT EXISTS idx_allocations_position ON allocations(position_id)`,

		`CREATE TABLE IF NOT EXISTS memories (
			id UUID PRIMARY KEY,
			pool_id UUID NOT NULL,
			type TEXT NOT NULL,
			symbol TEXT NOT NULL,
			market_condition TEXT,
			lesson TEXT NOT NULL,
			importance_weight DOUBLE PRECISION NOT NULL DEFAULT 0,
			should_repeat BOOLEAN NOT NULL DEFAULT FALSE,
			access_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_pool ON memories(pool_id)`,

		`CREATE TABLE IF NOT EXISTS daily_settlements (
			pool_id UUID NOT NULL,
			day DATE NOT NULL,
			start_capital DOUBLE PRECISION NOT NULL,
			end_capital DOUBLE PRECISION NOT NULL,
			daily_pnl DOUBLE PRECISION NOT NULL,
			nav DOUBLE PRECISION NOT NULL,
			trades INTEGER NOT NULL DEFAULT 0,
			settled_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (pool_id, day)
		)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Println("[DATABASE] Migrations completed")
	return nil
}
