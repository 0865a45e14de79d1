// Package distribution allocates settled trade PnL across a pool's stakes
// pro-rata to shares, using the share-registry snapshot taken at the moment
// the trade closed.
package distribution

import (
	"context"
	"time"
)

// Allocation links one settled trade to one stake with its PnL and fee
// share. Append-only: the allocation history is the audit trail that a
// stake's value can be recomputed from.
type Allocation struct {
	ID         string    `json:"id"`
	PoolID     string    `json:"pool_id"`
	StakeID    string    `json:"stake_id"`
	PositionID string    `json:"position_id"`
	DecisionID string    `json:"decision_id"`
	Pnl        float64   `json:"pnl"` // Gross PnL share, before fees
	Fee        float64   `json:"fee"`
	SharePct   float64   `json:"share_pct"` // Stake's share fraction at close
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists allocations
type Store interface {
	CreateAllocations(ctx context.Context, allocations []*Allocation) error
	GetAllocationsByStake(ctx context.Context, stakeID string) ([]*Allocation, error)
	GetAllocationsByPosition(ctx context.Context, positionID string) ([]*Allocation, error)
}
