package ledger

import (
	"context"
)

// Store is the persistence boundary for pools, stakes, and positions.
// Implementations guarantee per-row atomicity only; multi-row sequences are
// ordered by the callers so a crash between steps stays recoverable.
type Store interface {
	CreatePool(ctx context.Context, pool *Pool) error
	UpdatePool(ctx context.Context, pool *Pool) error
	GetPoolByStrategy(ctx context.Context, strategyID string) (*Pool, error)
	ListPools(ctx context.Context) ([]*Pool, error)

	CreateStake(ctx context.Context, stake *Stake) error
	UpdateStake(ctx context.Context, stake *Stake) error
	GetStakeByID(ctx context.Context, stakeID string) (*Stake, error)
	GetStakesByPool(ctx context.Context, poolID string) ([]*Stake, error)

	CreatePosition(ctx context.Context, position *Position) error
	UpdatePosition(ctx context.Context, position *Position) error
	GetOpenPositionsByPool(ctx context.Context, poolID string) ([]*Position, error)
}
