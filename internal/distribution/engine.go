package distribution

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fundpool-engine/internal/ledger"
)

// allocationUnit is the smallest allocatable PnL increment. Allocations are
// quantized to this unit and the remainder distributed by the
// largest-remainder method, so the allocated sum always equals the
// distributed amount within one unit.
const allocationUnit = 1e-9

// Engine settles a closed trade's PnL into the pool ledger and allocates it
// across the share registry. Must be invoked inside the pool actor so the
// ledger update and the allocation happen as one logical step.
type Engine struct {
	store  ledger.Store
	allocs Store
	logger zerolog.Logger
}

// NewEngine creates a profit distribution engine
func NewEngine(store ledger.Store, allocs Store, logger zerolog.Logger) *Engine {
	return &Engine{
		store:  store,
		allocs: allocs,
		logger: logger.With().Str("component", "distribution").Logger(),
	}
}

// Settle applies a closed position's realized (pnl, fee) to the pool and
// distributes it over the registry snapshot taken now, at the close instant.
// Stakes that join after this call never see this trade's PnL.
func (e *Engine) Settle(ctx context.Context, st *ledger.State, position *ledger.Position, pnl, fee float64, now time.Time) ([]*Allocation, error) {
	pool := st.Pool

	// The position's unrealized PnL converts to realized; back it out of
	// the pool aggregate before applying the settled amount.
	pool.UnrealizedPnl -= position.UnrealizedPnl
	pool.ReleaseMargin(position.MarginUsed, now)
	pool.ApplyRealizedPnl(pnl-fee, now)

	snapshot := st.Registry.Snapshot(pool, now)
	allocations := e.allocate(snapshot, position, pnl, fee, now)

	// Credit each stake its net share
	for _, alloc := range allocations {
		stake, ok := st.Registry.Get(alloc.StakeID)
		if !ok {
			continue
		}
		stake.RealizedPnl += alloc.Pnl - alloc.Fee
		stake.FeesPaid += alloc.Fee
		stake.UpdatedAt = now
	}

	pool.MarkNav(now)

	// Persist ledger first, then stakes, then the append-only allocations.
	// A crash mid-sequence leaves the allocation rows short, which the
	// reconcile tool detects against the position's settled PnL.
	if err := e.store.UpdatePool(ctx, pool); err != nil {
		return nil, fmt.Errorf("failed to persist pool %s after settlement: %w", pool.ID, err)
	}
	for _, alloc := range allocations {
		if stake, ok := st.Registry.Get(alloc.StakeID); ok {
			if err := e.store.UpdateStake(ctx, stake); err != nil {
				return nil, fmt.Errorf("failed to persist stake %s after settlement: %w", stake.ID, err)
			}
		}
	}
	if len(allocations) > 0 {
		if err := e.allocs.CreateAllocations(ctx, allocations); err != nil {
			return nil, fmt.Errorf("failed to persist allocations for position %s: %w", position.ID, err)
		}
	}

	e.logger.Info().Str("pool_id", pool.ID).Str("position_id", position.ID).
		Float64("pnl", pnl).Float64("fee", fee).Int("stakes", len(allocations)).
		Float64("nav", pool.CurrentNav).Msg("trade settled and distributed")
	return allocations, nil
}

// allocate splits (pnl, fee) across the snapshot pro-rata to shares using
// the largest-remainder method.
func (e *Engine) allocate(snapshot []ledger.ShareLedgerEntry, position *ledger.Position, pnl, fee float64, now time.Time) []*Allocation {
	var totalShares float64
	for _, entry := range snapshot {
		totalShares += entry.Shares
	}
	if totalShares <= 0 || len(snapshot) == 0 {
		return nil
	}

	pnlShares := largestRemainder(pnl, snapshot, totalShares)
	feeShares := largestRemainder(fee, snapshot, totalShares)

	allocations := make([]*Allocation, 0, len(snapshot))
	for i, entry := range snapshot {
		allocations = append(allocations, &Allocation{
			ID:         uuid.NewString(),
			PoolID:     entry.PoolID,
			StakeID:    entry.StakeID,
			PositionID: position.ID,
			DecisionID: position.DecisionID,
			Pnl:        pnlShares[i],
			Fee:        feeShares[i],
			SharePct:   entry.Shares / totalShares,
			CreatedAt:  now,
		})
	}
	return allocations
}

// largestRemainder quantizes each pro-rata share to the allocation unit and
// hands the leftover units, one each, to the entries with the largest
// fractional remainders. The returned shares sum exactly to the quantized
// total.
func largestRemainder(amount float64, snapshot []ledger.ShareLedgerEntry, totalShares float64) []float64 {
	n := len(snapshot)
	shares := make([]float64, n)
	if amount == 0 {
		return shares
	}

	totalUnits := int64(math.Round(amount / allocationUnit))
	units := make([]int64, n)
	remainders := make([]float64, n)
	var assigned int64

	for i, entry := range snapshot {
		exact := amount * entry.Shares / totalShares / allocationUnit
		floor := math.Floor(exact)
		units[i] = int64(floor)
		remainders[i] = exact - floor
		assigned += units[i]
	}

	// Hand out the leftover units by largest remainder, index order
	// breaking ties deterministically.
	leftover := totalUnits - assigned
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	for k := int64(0); k < leftover; k++ {
		best := -1
		for _, i := range order {
			if best == -1 || remainders[i] > remainders[best] {
				best = i
			}
		}
		if best == -1 {
			break
		}
		units[best]++
		remainders[best] = -1
	}

	for i := range shares {
		shares[i] = float64(units[i]) * allocationUnit
	}
	return shares
}
