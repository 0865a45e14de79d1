package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"fundpool-engine/internal/ledger"
)

// Repository provides data access methods. It implements ledger.Store,
// memory.Store, and distribution.Store against PostgreSQL.
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// POOLS
// ============================================================================

// CreatePool inserts a new pool
func (r *Repository) CreatePool(ctx context.Context, pool *ledger.Pool) error {
	query := `
		INSERT INTO pools (id, strategy_id, total_capital, available_capital, locked_capital,
		                   current_nav, total_shares, total_pnl, unrealized_pnl,
		                   trades_today, daily_trade_limit, trade_day, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		pool.ID, pool.StrategyID, pool.TotalCapital, pool.AvailableCapital, pool.LockedCapital,
		pool.CurrentNav, pool.TotalShares, pool.TotalPnl, pool.UnrealizedPnl,
		pool.TradesToday, pool.DailyTradeLimit, pool.TradeDay, pool.CreatedAt, pool.UpdatedAt,
	)
	return err
}

// UpdatePool persists a pool's ledger figures
func (r *Repository) UpdatePool(ctx context.Context, pool *ledger.Pool) error {
	query := `
		UPDATE pools
		SET total_capital = $2, available_capital = $3, locked_capital = $4,
		    current_nav = $5, total_shares = $6, total_pnl = $7, unrealized_pnl = $8,
		    trades_today = $9, trade_day = $10, updated_at = $11
		WHERE id = $1
	`
	_, err := r.db.Pool.Exec(ctx, query,
		pool.ID, pool.TotalCapital, pool.AvailableCapital, pool.LockedCapital,
		pool.CurrentNav, pool.TotalShares, pool.TotalPnl, pool.UnrealizedPnl,
		pool.TradesToday, pool.TradeDay, pool.UpdatedAt,
	)
	return err
}

// GetPoolByStrategy retrieves a pool by its strategy id
func (r *Repository) GetPoolByStrategy(ctx context.Context, strategyID string) (*ledger.Pool, error) {
	query := selectPool + ` WHERE strategy_id = $1`
	pool, err := r.scanPool(r.db.Pool.QueryRow(ctx, query, strategyID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrPoolNotFound
	}
	return pool, err
}

// ListPools retrieves all pools
func (r *Repository) ListPools(ctx context.Context) ([]*ledger.Pool, error) {
	rows, err := r.db.Pool.Query(ctx, selectPool+` ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []*ledger.Pool
	for rows.Next() {
		pool, err := r.scanPool(rows)
		if err != nil {
			return nil, err
		}
		pools = append(pools, pool)
	}
	return pools, rows.Err()
}

const selectPool = `
	SELECT id, strategy_id, total_capital, available_capital, locked_capital,
	       current_nav, total_shares, total_pnl, unrealized_pnl,
	       trades_today, daily_trade_limit, trade_day, created_at, updated_at
	FROM pools`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scanPool(row rowScanner) (*ledger.Pool, error) {
	pool := &ledger.Pool{}
	err := row.Scan(
		&pool.ID, &pool.StrategyID, &pool.TotalCapital, &pool.AvailableCapital, &pool.LockedCapital,
		&pool.CurrentNav, &pool.TotalShares, &pool.TotalPnl, &pool.UnrealizedPnl,
		&pool.TradesToday, &pool.DailyTradeLimit, &pool.TradeDay, &pool.CreatedAt, &pool.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// ============================================================================
// STAKES
// ============================================================================

// CreateStake inserts a new stake
func (r *Repository) CreateStake(ctx context.Context, stake *ledger.Stake) error {
	query := `
		INSERT INTO stakes (id, participant_id, pool_id, amount, shares, entry_nav, status,
		                    lock_start, lock_end, paused_at, paused_seconds,
		                    realized_pnl, unrealized_pnl, penalty_paid, fees_paid,
		                    redemption_amount, redeemed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		stake.ID, stake.ParticipantID, stake.PoolID, stake.Amount, stake.Shares, stake.EntryNav,
		stake.Status, stake.LockStart, stake.LockEnd, stake.PausedAt, stake.PausedSeconds,
		stake.RealizedPnl, stake.UnrealizedPnl, stake.PenaltyPaid, stake.FeesPaid,
		stake.RedemptionAmount, stake.RedeemedAt, stake.CreatedAt, stake.UpdatedAt,
	)
	return err
}

// UpdateStake persists a stake's mutable fields
func (r *Repository) UpdateStake(ctx context.Context, stake *ledger.Stake) error {
	query := `
		UPDATE stakes
		SET status = $2, paused_at = $3, paused_seconds = $4,
		    realized_pnl = $5, unrealized_pnl = $6, penalty_paid = $7, fees_paid = $8,
		    redemption_amount = $9, redeemed_at = $10, updated_at = $11
		WHERE id = $1
	`
	_, err := r.db.Pool.Exec(ctx, query,
		stake.ID, stake.Status, stake.PausedAt, stake.PausedSeconds,
		stake.RealizedPnl, stake.UnrealizedPnl, stake.PenaltyPaid, stake.FeesPaid,
		stake.RedemptionAmount, stake.RedeemedAt, stake.UpdatedAt,
	)
	return err
}

// GetStakeByID retrieves a stake by id
func (r *Repository) GetStakeByID(ctx context.Context, stakeID string) (*ledger.Stake, error) {
	stake, err := r.scanStake(r.db.Pool.QueryRow(ctx, selectStake+` WHERE id = $1`, stakeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrStakeNotFound
	}
	return stake, err
}

// GetStakesByPool retrieves all stakes of a pool
func (r *Repository) GetStakesByPool(ctx context.Context, poolID string) ([]*ledger.Stake, error) {
	rows, err := r.db.Pool.Query(ctx, selectStake+` WHERE pool_id = $1 ORDER BY created_at`, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stakes []*ledger.Stake
	for rows.Next() {
		stake, err := r.scanStake(rows)
		if err != nil {
			return nil, err
		}
		stakes = append(stakes, stake)
	}
	return stakes, rows.Err()
}

const selectStake = `
	SELECT id, participant_id, pool_id, amount, shares, entry_nav, status,
	       lock_start, lock_end, paused_at, paused_seconds,
	       realized_pnl, unrealized_pnl, penalty_paid, fees_paid,
	       redemption_amount, redeemed_at, created_at, updated_at
	FROM stakes`

func (r *Repository) scanStake(row rowScanner) (*ledger.Stake, error) {
	stake := &ledger.Stake{}
	err := row.Scan(
		&stake.ID, &stake.ParticipantID, &stake.PoolID, &stake.Amount, &stake.Shares, &stake.EntryNav,
		&stake.Status, &stake.LockStart, &stake.LockEnd, &stake.PausedAt, &stake.PausedSeconds,
		&stake.RealizedPnl, &stake.UnrealizedPnl, &stake.PenaltyPaid, &stake.FeesPaid,
		&stake.RedemptionAmount, &stake.RedeemedAt, &stake.CreatedAt, &stake.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return stake, nil
}

// ============================================================================
// POSITIONS
// ============================================================================

// CreatePosition inserts a new position
func (r *Repository) CreatePosition(ctx context.Context, p *ledger.Position) error {
	query := `
		INSERT INTO positions (id, pool_id, decision_id, symbol, side, entry_price, current_price,
		                       quantity, leverage, margin_used, stop_loss, take_profit,
		                       unrealized_pnl, status, opened_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		p.ID, p.PoolID, p.DecisionID, p.Symbol, p.Side, p.EntryPrice, p.CurrentPrice,
		p.Quantity, p.Leverage, p.MarginUsed, p.StopLoss, p.TakeProfit,
		p.UnrealizedPnl, p.Status, p.OpenedAt, p.ClosedAt,
	)
	return err
}

// UpdatePosition persists a position's mutable fields
func (r *Repository) UpdatePosition(ctx context.Context, p *ledger.Position) error {
	query := `
		UPDATE positions
		SET current_price = $2, unrealized_pnl = $3, status = $4, closed_at = $5,
		    stop_loss = $6, take_profit = $7
		WHERE id = $1
	`
	_, err := r.db.Pool.Exec(ctx, query,
		p.ID, p.CurrentPrice, p.UnrealizedPnl, p.Status, p.ClosedAt, p.StopLoss, p.TakeProfit,
	)
	return err
}

// GetOpenPositionsByPool retrieves a pool's open positions
func (r *Repository) GetOpenPositionsByPool(ctx context.Context, poolID string) ([]*ledger.Position, error) {
	query := `
		SELECT id, pool_id, decision_id, symbol, side, entry_price, current_price,
		       quantity, leverage, margin_used, stop_loss, take_profit,
		       unrealized_pnl, status, opened_at, closed_at
		FROM positions
		WHERE pool_id = $1 AND status = 'open'
		ORDER BY opened_at
	`
	rows, err := r.db.Pool.Query(ctx, query, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*ledger.Position
	for rows.Next() {
		p := &ledger.Position{}
		err := rows.Scan(
			&p.ID, &p.PoolID, &p.DecisionID, &p.Symbol, &p.Side, &p.EntryPrice, &p.CurrentPrice,
			&p.Quantity, &p.Leverage, &p.MarginUsed, &p.StopLoss, &p.TakeProfit,
			&p.UnrealizedPnl, &p.Status, &p.OpenedAt, &p.ClosedAt,
		)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}
