package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"fundpool-engine/internal/ledger"
)

// ============================================================================
// DAILY SETTLEMENTS
// ============================================================================

// CreateDailySettlement records a pool's end-of-day settlement. The
// (pool_id, day) primary key makes a duplicate write fail loudly rather
// than silently double-settle.
func (r *Repository) CreateDailySettlement(ctx context.Context, s *ledger.DailySettlement) error {
	query := `
		INSERT INTO daily_settlements (pool_id, day, start_capital, end_capital,
		                               daily_pnl, nav, trades, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Pool.Exec(ctx, query, s.PoolID, s.Day, s.StartCapital, s.EndCapital,
		s.DailyPnl, s.Nav, s.Trades, s.SettledAt)
	return err
}

// GetDailySettlement returns the settlement record for a pool and day,
// or nil when the day has not been settled.
func (r *Repository) GetDailySettlement(ctx context.Context, poolID, day string) (*ledger.DailySettlement, error) {
	query := `
		SELECT pool_id, to_char(day, 'YYYY-MM-DD'), start_capital, end_capital,
		       daily_pnl, nav, trades, settled_at
		FROM daily_settlements
		WHERE pool_id = $1 AND day = $2
	`
	s := &ledger.DailySettlement{}
	err := r.db.Pool.QueryRow(ctx, query, poolID, day).Scan(
		&s.PoolID, &s.Day, &s.StartCapital, &s.EndCapital,
		&s.DailyPnl, &s.Nav, &s.Trades, &s.SettledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetRecentSettlements returns the latest settlement records for a pool
func (r *Repository) GetRecentSettlements(ctx context.Context, poolID string, limit int) ([]*ledger.DailySettlement, error) {
	if limit <= 0 {
		limit = 30
	}
	query := `
		SELECT pool_id, to_char(day, 'YYYY-MM-DD'), start_capital, end_capital,
		       daily_pnl, nav, trades, settled_at
		FROM daily_settlements
		WHERE pool_id = $1
		ORDER BY day DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, poolID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var settlements []*ledger.DailySettlement
	for rows.Next() {
		s := &ledger.DailySettlement{}
		err := rows.Scan(&s.PoolID, &s.Day, &s.StartCapital, &s.EndCapital,
			&s.DailyPnl, &s.Nav, &s.Trades, &s.SettledAt)
		if err != nil {
			return nil, err
		}
		settlements = append(settlements, s)
	}
	return settlements, rows.Err()
}
