package ledger

import (
	"sort"
	"time"
)

// State is the full in-memory state of one pool: ledger, share registry,
// and position store. Owned by the pool's actor.
type State struct {
	Pool      *Pool
	Registry  *Registry
	Positions map[string]*Position
}

// NewState builds actor state from loaded records
func NewState(pool *Pool, stakes []*Stake, positions []*Position) *State {
	st := &State{
		Pool:      pool,
		Registry:  NewRegistry(),
		Positions: make(map[string]*Position),
	}
	for _, s := range stakes {
		st.Registry.Put(s)
	}
	for _, p := range positions {
		if p.Status == PositionOpen {
			st.Positions[p.ID] = p
		}
	}
	return st
}

// OpenPositions returns open positions sorted by id
func (st *State) OpenPositions() []*Position {
	out := make([]*Position, 0, len(st.Positions))
	for _, p := range st.Positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OpenNotional sums the notional exposure of all open positions
func (st *State) OpenNotional() float64 {
	var total float64
	for _, p := range st.Positions {
		total += p.Notional()
	}
	return total
}

// OpenPosition records a new open position and locks its margin.
// The margin lock is checked first so a rejection leaves no trace.
func (st *State) OpenPosition(p *Position, now time.Time) error {
	if err := st.Pool.LockMargin(p.MarginUsed, now); err != nil {
		return err
	}
	p.Status = PositionOpen
	st.Positions[p.ID] = p
	st.Pool.RecordTrade(now)
	return nil
}

// RetirePosition removes a terminal position from the store
func (st *State) RetirePosition(positionID string, status PositionStatus, now time.Time) {
	if p, ok := st.Positions[positionID]; ok {
		p.Status = status
		t := now
		p.ClosedAt = &t
		delete(st.Positions, positionID)
	}
}

// MarkPrices applies a price snapshot to open positions and keeps the
// pool's aggregate unrealized PnL in sync.
func (st *State) MarkPrices(prices map[string]float64, now time.Time) {
	for _, p := range st.Positions {
		price, ok := prices[p.Symbol]
		if !ok {
			continue
		}
		st.Pool.UnrealizedPnl += p.MarkPrice(price)
	}
	st.Pool.UpdatedAt = now
}
