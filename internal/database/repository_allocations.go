package database

import (
	"context"

	"github.com/jackc/pgx/v5"

	"fundpool-engine/internal/distribution"
)

// ============================================================================
// ALLOCATIONS
// ============================================================================

// CreateAllocations appends a settlement's allocations in one batch
func (r *Repository) CreateAllocations(ctx context.Context, allocations []*distribution.Allocation) error {
	if len(allocations) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	query := `
		INSERT INTO allocations (id, pool_id, stake_id, position_id, decision_id,
		                         pnl, fee, share_pct, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for _, a := range allocations {
		batch.Queue(query, a.ID, a.PoolID, a.StakeID, a.PositionID, a.DecisionID,
			a.Pnl, a.Fee, a.SharePct, a.CreatedAt)
	}
	results := r.db.Pool.SendBatch(ctx, batch)
	defer results.Close()
	for range allocations {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// GetAllocationsByStake retrieves a stake's allocation history
func (r *Repository) GetAllocationsByStake(ctx context.Context, stakeID string) ([]*distribution.Allocation, error) {
	return r.queryAllocations(ctx, selectAllocation+` WHERE stake_id = $1 ORDER BY created_at`, stakeID)
}

// GetAllocationsByPosition retrieves the allocations of one settled trade
func (r *Repository) GetAllocationsByPosition(ctx context.Context, positionID string) ([]*distribution.Allocation, error) {
	return r.queryAllocations(ctx, selectAllocation+` WHERE position_id = $1 ORDER BY created_at`, positionID)
}

const selectAllocation = `
	SELECT id, pool_id, stake_id, position_id, decision_id, pnl, fee, share_pct, created_at
	FROM allocations`

func (r *Repository) queryAllocations(ctx context.Context, query string, args ...any) ([]*distribution.Allocation, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var allocations []*distribution.Allocation
	for rows.Next() {
		a := &distribution.Allocation{}
		err := rows.Scan(&a.ID, &a.PoolID, &a.StakeID, &a.PositionID, &a.DecisionID,
			&a.Pnl, &a.Fee, &a.SharePct, &a.CreatedAt)
		if err != nil {
			return nil, err
		}
		allocations = append(allocations, a)
	}
	return allocations, rows.Err()
}
